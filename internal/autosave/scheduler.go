// Package autosave periodically flushes a workspace's unsaved edits to the
// draft store.
//
// The scheduler is a two-state machine (Idle, Dirty). A ticker flushes only
// when Dirty. Manual saves flush immediately without restarting the ticker.
// Once a response is submitted the scheduler is quiesced: every later flush
// is skipped, so a stale tick can never recreate a discarded draft.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/metrics"
	"github.com/ashureev/quoteworks/internal/store"
)

// DefaultInterval is the autosave period.
const DefaultInterval = 30 * time.Second

// Flush triggers, used as metric labels.
const (
	TriggerTick   = "tick"
	TriggerManual = "manual"
	TriggerClose  = "close"
)

const closeFlushTimeout = 5 * time.Second

// SnapshotFunc returns a copy of the current working draft.
type SnapshotFunc func() *domain.ResponseDraft

// SavedFunc is called after every successful write with the stored draft.
type SavedFunc func(saved *domain.ResponseDraft)

// Config controls a Scheduler.
type Config struct {
	Interval    time.Duration
	FlushOnStop bool
	OnSaved     SavedFunc
}

// Scheduler owns the dirty flag and the flush timer of one seller's draft.
type Scheduler struct {
	ref      domain.DraftRef
	drafts   store.DraftStore
	snapshot SnapshotFunc
	cfg      Config
	logger   *slog.Logger

	// flushMu serializes every store write and delete for this draft.
	flushMu sync.Mutex

	mu        sync.Mutex
	dirty     bool
	submitted bool
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a scheduler. Call Start to begin ticking.
func New(ref domain.DraftRef, drafts store.DraftStore, snapshot SnapshotFunc, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		ref:      ref,
		drafts:   drafts,
		snapshot: snapshot,
		cfg:      cfg,
		logger:   logger.With("seller_id", ref.SellerID, "quote_id", ref.QuoteID),
	}
}

// Start launches the background ticker. It is a no-op after the first call
// and after Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped || s.submitted {
		s.mu.Unlock()
		return
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.logger.Debug("Autosave started", "interval", s.cfg.Interval)

		for {
			select {
			case <-ticker.C:
				s.tick(loopCtx)
			case <-loopCtx.Done():
				s.logger.Debug("Autosave stopped", "reason", loopCtx.Err())
				return
			}
		}
	}()
}

// MarkDirty records an unsaved edit.
func (s *Scheduler) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Dirty reports whether edits exist that have not been flushed.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Submitted reports whether the scheduler has been quiesced.
func (s *Scheduler) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// FlushNow saves the working copy immediately, dirty or not, and clears the
// dirty flag. The ticker keeps its original phase.
func (s *Scheduler) FlushNow(ctx context.Context) (*domain.ResponseDraft, error) {
	saved, skipped, err := s.flush(ctx, TriggerManual, true)
	if skipped {
		return nil, domain.ErrSubmitted
	}
	return saved, err
}

// Discard clears the dirty flag and deletes the stored draft. It holds the
// flush lock so an in-flight tick cannot land after the delete.
func (s *Scheduler) Discard(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()

	return s.drafts.DiscardDraft(ctx, s.ref)
}

// Quiesce marks the response as submitted and stops the ticker. Any flush
// already writing finishes first; every later flush is skipped.
func (s *Scheduler) Quiesce() {
	s.flushMu.Lock()
	s.mu.Lock()
	s.submitted = true
	s.dirty = false
	s.mu.Unlock()
	s.flushMu.Unlock()

	s.stopLoop()
}

// Stop cancels the ticker. With FlushOnStop set, pending edits are written
// once before returning.
func (s *Scheduler) Stop() {
	s.stopLoop()

	if !s.cfg.FlushOnStop {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	if _, _, err := s.flush(ctx, TriggerClose, false); err != nil {
		s.logger.Warn("Autosave flush on close failed", "error", err)
	}
}

func (s *Scheduler) stopLoop() {
	s.mu.Lock()
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, _, err := s.flush(ctx, TriggerTick, false); err != nil {
		s.logger.Warn("Autosave tick failed, will retry", "error", err)
	}
}

// flush writes the working copy when forced or dirty. It reports skipped when
// the scheduler has been quiesced.
func (s *Scheduler) flush(ctx context.Context, trigger string, force bool) (*domain.ResponseDraft, bool, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.submitted {
		s.mu.Unlock()
		metrics.AutosaveFlushes.WithLabelValues(trigger, metrics.ResultSkipped).Inc()
		return nil, true, nil
	}
	if !force && !s.dirty {
		s.mu.Unlock()
		return nil, false, nil
	}
	s.dirty = false
	s.mu.Unlock()

	saved, err := s.drafts.SaveDraft(ctx, s.ref, s.snapshot())
	metrics.AutosaveFlushes.WithLabelValues(trigger, metrics.Result(err)).Inc()
	if err != nil {
		s.MarkDirty()
		return nil, false, err
	}

	s.logger.Debug("Draft saved", "trigger", trigger, "updated_at", saved.UpdatedAt)
	if s.cfg.OnSaved != nil {
		s.cfg.OnSaved(saved)
	}
	return saved, false, nil
}
