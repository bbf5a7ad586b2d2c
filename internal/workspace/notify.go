package workspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
)

// maxNotifications bounds the list; the oldest entries drop first.
const maxNotifications = 20

// Notification is a dismissible message for the user.
type Notification struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (w *Workspace) notifyError(text string) {
	n := Notification{
		ID:        uuid.NewString(),
		Level:     "error",
		Text:      text,
		CreatedAt: w.opts.Now().UTC(),
	}
	w.mu.Lock()
	w.notifications = append(w.notifications, n)
	if len(w.notifications) > maxNotifications {
		w.notifications = w.notifications[len(w.notifications)-maxNotifications:]
	}
	w.mu.Unlock()
	w.subs.notify()
}

// DismissNotification removes a notification by id.
func (w *Workspace) DismissNotification(id string) error {
	w.mu.Lock()
	found := false
	for i, n := range w.notifications {
		if n.ID == id {
			w.notifications = append(w.notifications[:i], w.notifications[i+1:]...)
			found = true
			break
		}
	}
	w.mu.Unlock()

	if !found {
		return fmt.Errorf("notification %s: %w", id, errdefs.ErrNotFound)
	}
	w.subs.notify()
	return nil
}

// subscribers fans out coalesced change signals.
type subscribers struct {
	mu   sync.Mutex
	next int
	chs  map[int]chan struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{chs: make(map[int]chan struct{})}
}

func (s *subscribers) add() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	id := s.next
	s.next++
	s.chs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.chs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.chs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
