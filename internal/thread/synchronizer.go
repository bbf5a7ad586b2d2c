// Package thread keeps a quote's buyer/seller message thread in sync with
// the marketplace by polling.
//
// Every fetch returns the full thread. The synchronizer never patches its
// list locally: each snapshot replaces the rendered list, and mutations end
// with an immediate re-fetch. Ids seen for the first time after the initial
// load are highlighted for a fixed duration.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/metrics"
)

// Defaults for the poll period and highlight lifetime.
const (
	DefaultPollInterval      = 15 * time.Second
	DefaultHighlightDuration = 3 * time.Second
)

// ErrClosed is returned by mutations on a closed thread.
var ErrClosed = fmt.Errorf("message thread closed: %w", errdefs.ErrFailedPrecondition)

// State is the lifecycle state of an open thread.
type State string

const (
	StateLoading  State = "loading"
	StateIdle     State = "idle"
	StateSending  State = "sending"
	StateEditing  State = "editing"
	StateDeleting State = "deleting"
	StateClosed   State = "closed"
)

// Client is the marketplace surface the synchronizer needs.
type Client interface {
	GetMessages(ctx context.Context, quoteID domain.QuoteID, senderID, recipientID int64) ([]domain.Message, error)
	CreateMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)
	UpdateMessage(ctx context.Context, actorID, messageID int64, patch domain.MessagePatch) (*domain.Message, error)
	DeleteMessage(ctx context.Context, actorID, messageID int64) error
}

// Config controls a Synchronizer.
type Config struct {
	PollInterval      time.Duration
	HighlightDuration time.Duration
	// OnChange is called, outside any lock, after the rendered state changes.
	OnChange func()
	Now      func() time.Time
}

// View is a read-only copy of the thread state.
type View struct {
	State       State            `json:"state"`
	Messages    []domain.Message `json:"messages"`
	Highlighted []int64          `json:"highlighted_ids"`
	LastFetchAt time.Time        `json:"last_fetch_at"`
}

type highlight struct {
	timer *time.Timer
}

// Synchronizer owns the SyncState of one open thread.
type Synchronizer struct {
	client Client
	key    domain.ThreadKey
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	pending     int
	messages    []domain.Message
	known       map[int64]struct{}
	highlighted map[int64]*highlight
	seeded      bool
	lastFetchAt time.Time
	closed      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a synchronizer for key. Call Open to start it.
func New(client Client, key domain.ThreadKey, cfg Config, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HighlightDuration <= 0 {
		cfg.HighlightDuration = DefaultHighlightDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Synchronizer{
		client:      client,
		key:         key,
		cfg:         cfg,
		logger:      logger.With("quote_id", key.QuoteID, "user_id", key.UserID, "counterparty_id", key.CounterpartyID),
		state:       StateLoading,
		known:       make(map[int64]struct{}),
		highlighted: make(map[int64]*highlight),
	}
}

// Open performs the initial fetch and starts polling. A failed initial fetch
// is not an error: the thread stays empty and the next tick retries.
func (s *Synchronizer) Open(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	_ = s.Refresh(ctx)

	// Close may have run during the initial fetch and already waited.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.state == StateLoading {
		s.state = StateIdle
	}
	s.wg.Add(1)
	s.mu.Unlock()
	s.notify()

	go s.pollLoop(loopCtx)
}

func (s *Synchronizer) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Ticks do not wait for each other; a slow fetch may overlap the next one.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.Refresh(ctx)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Refresh fetches the full thread and reconciles against it. Failures leave
// the rendered state untouched and are returned as TransientFetchError.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	fetched, err := s.client.GetMessages(ctx, s.key.QuoteID, s.key.UserID, s.key.CounterpartyID)
	metrics.ThreadPolls.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Debug("Message poll failed", "error", err)
		return &domain.TransientFetchError{Err: err}
	}
	if s.apply(fetched) {
		s.notify()
	}
	return nil
}

// apply installs a snapshot. Snapshots are applied in the order they resolve.
func (s *Synchronizer) apply(fetched []domain.Message) bool {
	snapshot := make([]domain.Message, len(fetched))
	copy(snapshot, fetched)
	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].SentAt.Equal(snapshot[j].SentAt) {
			return snapshot[i].ID < snapshot[j].ID
		}
		return snapshot[i].SentAt.Before(snapshot[j].SentAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	fetchedIDs := make(map[int64]struct{}, len(snapshot))
	for _, m := range snapshot {
		fetchedIDs[m.ID] = struct{}{}
		if _, seen := s.known[m.ID]; !seen && s.seeded {
			s.highlightLocked(m.ID)
		}
	}

	s.seeded = true
	s.messages = snapshot
	s.known = fetchedIDs
	s.lastFetchAt = s.cfg.Now()
	return true
}

func (s *Synchronizer) highlightLocked(id int64) {
	if prev, ok := s.highlighted[id]; ok {
		prev.timer.Stop()
	}
	h := &highlight{}
	h.timer = time.AfterFunc(s.cfg.HighlightDuration, func() {
		s.mu.Lock()
		current, ok := s.highlighted[id]
		if ok && current == h {
			delete(s.highlighted, id)
		}
		s.mu.Unlock()
		if ok && current == h {
			s.notify()
		}
	})
	s.highlighted[id] = h
}

// Send creates a message to the counterparty and re-fetches the thread.
func (s *Synchronizer) Send(ctx context.Context, body string, orderID *int64) (*domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &domain.ValidationError{Reason: domain.ReasonEmptyMessage}
	}
	if err := s.begin(StateSending); err != nil {
		return nil, err
	}
	msg, err := s.client.CreateMessage(ctx, domain.NewMessage{
		QuoteID:     s.key.QuoteID,
		OrderID:     orderID,
		SenderID:    s.key.UserID,
		RecipientID: s.key.CounterpartyID,
		Body:        body,
		SentAt:      s.cfg.Now().UTC(),
	})
	return msg, s.finish(ctx, "send", err)
}

// Edit replaces the body of one of the current user's messages.
func (s *Synchronizer) Edit(ctx context.Context, messageID int64, body string) (*domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &domain.ValidationError{Reason: domain.ReasonEmptyMessage}
	}
	if err := s.checkOwner(messageID); err != nil {
		return nil, err
	}
	if err := s.begin(StateEditing); err != nil {
		return nil, err
	}
	msg, err := s.client.UpdateMessage(ctx, s.key.UserID, messageID, domain.MessagePatch{Body: &body})
	return msg, s.finish(ctx, "edit", err)
}

// Delete removes one of the current user's messages.
func (s *Synchronizer) Delete(ctx context.Context, messageID int64) error {
	if err := s.checkOwner(messageID); err != nil {
		return err
	}
	if err := s.begin(StateDeleting); err != nil {
		return err
	}
	err := s.client.DeleteMessage(ctx, s.key.UserID, messageID)
	return s.finish(ctx, "delete", err)
}

// CanModify reports whether the current user may edit or delete a rendered message.
func (s *Synchronizer) CanModify(messageID int64) bool {
	return s.checkOwner(messageID) == nil
}

// checkOwner rejects messages rendered as sent by someone else. Unknown ids
// are left for the server to judge.
func (s *Synchronizer) checkOwner(messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == messageID && m.SenderID != s.key.UserID {
			return &domain.PermissionError{MessageID: messageID, UserID: s.key.UserID}
		}
	}
	return nil
}

func (s *Synchronizer) begin(state State) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending++
	s.state = state
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Synchronizer) finish(ctx context.Context, op string, err error) error {
	metrics.MessageMutations.WithLabelValues(op, metrics.Result(err)).Inc()

	s.mu.Lock()
	s.pending--
	if !s.closed && s.pending == 0 {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Message mutation failed", "op", op, "error", err)
		s.notify()
		return &domain.MutationError{Op: op + " message", Err: err}
	}

	if refreshErr := s.Refresh(ctx); refreshErr != nil {
		s.notify()
	}
	return nil
}

// View returns a copy of the rendered thread state.
func (s *Synchronizer) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]domain.Message, len(s.messages))
	copy(msgs, s.messages)
	ids := make([]int64, 0, len(s.highlighted))
	for id := range s.highlighted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return View{
		State:       s.state,
		Messages:    msgs,
		Highlighted: ids,
		LastFetchAt: s.lastFetchAt,
	}
}

// KnownCount returns the number of message ids in the last applied snapshot.
func (s *Synchronizer) KnownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

// IsHighlighted reports whether id is currently flagged as new.
func (s *Synchronizer) IsHighlighted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.highlighted[id]
	return ok
}

// Close stops polling, cancels highlight timers and drops all SyncState.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	for id, h := range s.highlighted {
		h.timer.Stop()
		delete(s.highlighted, id)
	}
	s.known = make(map[int64]struct{})
	s.messages = nil
	s.seeded = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Synchronizer) notify() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
