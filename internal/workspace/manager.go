package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/store"
)

const reaperInterval = 5 * time.Minute

type key struct {
	userID  int64
	quoteID domain.QuoteID
}

func (k key) String() string { return fmt.Sprintf("%d:%d", k.userID, k.quoteID) }

type entry struct {
	ws       *Workspace
	lastSeen time.Time
}

// Manager keeps one live workspace per seller and quote.
type Manager struct {
	market Marketplace
	drafts store.DraftStore
	opts   Options
	logger *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	active map[key]*entry
}

// NewManager creates a manager. opts is the template for every workspace;
// its UserID is overwritten per caller.
func NewManager(market Marketplace, drafts store.DraftStore, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		market: market,
		drafts: drafts,
		opts:   opts,
		logger: logger,
		active: make(map[key]*entry),
	}
}

// Open returns the caller's workspace for quoteID, loading it on first use.
// Concurrent opens of the same workspace share one load.
func (m *Manager) Open(ctx context.Context, userID int64, quoteID domain.QuoteID) (*Workspace, error) {
	if ws := m.Get(userID, quoteID); ws != nil {
		return ws, nil
	}

	k := key{userID: userID, quoteID: quoteID}
	v, err, _ := m.group.Do(k.String(), func() (any, error) {
		if ws := m.Get(userID, quoteID); ws != nil {
			return ws, nil
		}

		opts := m.opts
		opts.UserID = userID
		ws := New(quoteID, m.market, m.drafts, opts, m.logger)
		if err := ws.Open(ctx); err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.active[k] = &entry{ws: ws, lastSeen: m.opts.Now()}
		m.mu.Unlock()
		m.logger.Info("Workspace registered", "user_id", userID, "quote_id", quoteID)
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// Get returns the open workspace, or nil. It refreshes the idle timer.
func (m *Manager) Get(userID int64, quoteID domain.QuoteID) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[key{userID: userID, quoteID: quoteID}]
	if !ok {
		return nil
	}
	e.lastSeen = m.opts.Now()
	return e.ws
}

// Close closes and forgets a workspace. It reports whether one was open.
func (m *Manager) Close(userID int64, quoteID domain.QuoteID) bool {
	k := key{userID: userID, quoteID: quoteID}
	m.mu.Lock()
	e, ok := m.active[k]
	delete(m.active, k)
	m.mu.Unlock()

	if !ok {
		return false
	}
	e.ws.Close()
	m.logger.Info("Workspace unregistered", "user_id", userID, "quote_id", quoteID)
	return true
}

// Len returns the number of open workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll closes every workspace. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Workspace, 0, len(m.active))
	for k, e := range m.active {
		all = append(all, e.ws)
		delete(m.active, k)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, ws := range all {
		wg.Add(1)
		go func(ws *Workspace) {
			defer wg.Done()
			ws.Close()
		}(ws)
	}
	wg.Wait()
}

// StartIdleReaper periodically closes workspaces not touched within ttl.
func (m *Manager) StartIdleReaper(ctx context.Context, ttl time.Duration) {
	ticker := time.NewTicker(reaperInterval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Workspace reaper started", "interval", reaperInterval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.reapIdle(ttl)
			case <-ctx.Done():
				m.logger.Info("Workspace reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) reapIdle(ttl time.Duration) int {
	cutoff := m.opts.Now().Add(-ttl)

	m.mu.Lock()
	var expired []*Workspace
	for k, e := range m.active {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e.ws)
			delete(m.active, k)
		}
	}
	m.mu.Unlock()

	for _, ws := range expired {
		ws.Close()
	}
	if len(expired) > 0 {
		m.logger.Info("Workspace reaper closed idle workspaces", "count", len(expired))
	}
	return len(expired)
}
