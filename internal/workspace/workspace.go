// Package workspace implements the quote response controller: it loads a
// quote, seeds editable fields from a saved draft or from the server, runs
// autosave and message polling, and submits the final response.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/quoteworks/internal/autosave"
	"github.com/ashureev/quoteworks/internal/domain"
	"github.com/ashureev/quoteworks/internal/metrics"
	"github.com/ashureev/quoteworks/internal/store"
	"github.com/ashureev/quoteworks/internal/thread"
	"github.com/ashureev/quoteworks/internal/validate"
)

var (
	// ErrNotOpen is returned by operations on a workspace that has not loaded.
	ErrNotOpen = fmt.Errorf("workspace not open: %w", errdefs.ErrFailedPrecondition)

	// ErrClosed is returned by operations on a closed workspace.
	ErrClosed = fmt.Errorf("workspace closed: %w", errdefs.ErrFailedPrecondition)

	// ErrSubmitting is returned for edits while a submission is in flight.
	ErrSubmitting = fmt.Errorf("submission in progress: %w", errdefs.ErrFailedPrecondition)
)

// Marketplace is the collaborator surface the controller consumes.
type Marketplace interface {
	thread.Client
	GetQuoteMetadata(ctx context.Context, quoteID domain.QuoteID) (*domain.QuoteMetadata, error)
	GetQuoteItems(ctx context.Context, quoteID domain.QuoteID) ([]domain.QuoteItem, error)
	SubmitResponse(ctx context.Context, actorID int64, req domain.SubmitRequest) error
}

// postSubmitDiscardTimeout bounds the draft delete after an accepted submit.
// It runs detached from the caller, who may already have gone away.
const postSubmitDiscardTimeout = 5 * time.Second

// Options configures a Workspace.
type Options struct {
	UserID            int64 // the seller; also scopes the saved draft
	AutosaveInterval  time.Duration
	FlushOnClose      bool
	PollInterval      time.Duration
	HighlightDuration time.Duration
	// Now is the clock for deadline checks and "last saved" text.
	Now func() time.Time
}

type phase int

const (
	phaseNew phase = iota
	phaseLoading
	phaseOpen
	phaseClosed
)

// Workspace is the controller of one seller's response to one quote.
//
// The controller mutex is never held while calling into the scheduler or the
// synchronizer; both call back into the controller.
type Workspace struct {
	quoteID domain.QuoteID
	market  Marketplace
	drafts  store.DraftStore
	opts    Options
	logger  *slog.Logger

	sched  *autosave.Scheduler
	syncer *thread.Synchronizer

	mu            sync.Mutex
	phase         phase
	meta          *domain.QuoteMetadata
	items         []domain.QuoteItem
	fields        map[string]domain.ItemPriceEntry
	validityDate  string
	discount      string
	lastSavedAt   *time.Time
	validation    domain.ValidationReason
	degraded      bool
	submitting    bool
	submitted     bool
	notifications []Notification

	subs *subscribers
	done chan struct{}
}

// New creates an unopened workspace for quoteID.
func New(quoteID domain.QuoteID, market Marketplace, drafts store.DraftStore, opts Options, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workspace{
		quoteID: quoteID,
		market:  market,
		drafts:  drafts,
		opts:    opts,
		logger:  logger.With("quote_id", quoteID, "user_id", opts.UserID),
		fields:  make(map[string]domain.ItemPriceEntry),
		subs:    newSubscribers(),
		done:    make(chan struct{}),
	}
}

// QuoteID returns the quote this workspace edits.
func (w *Workspace) QuoteID() domain.QuoteID { return w.quoteID }

func (w *Workspace) draftRef() domain.DraftRef {
	return domain.DraftRef{SellerID: w.opts.UserID, QuoteID: w.quoteID}
}

// Done is closed when the workspace is closed.
func (w *Workspace) Done() <-chan struct{} { return w.done }

// Open loads the quote and its items in parallel, then seeds the editable
// fields from a saved draft if one exists, else from the server's items.
// Autosave and message polling start once loading succeeds.
func (w *Workspace) Open(ctx context.Context) error {
	w.mu.Lock()
	switch w.phase {
	case phaseOpen:
		w.mu.Unlock()
		return nil
	case phaseClosed:
		w.mu.Unlock()
		return ErrClosed
	case phaseLoading:
		w.mu.Unlock()
		return fmt.Errorf("workspace is loading: %w", errdefs.ErrUnavailable)
	}
	w.phase = phaseLoading
	w.mu.Unlock()

	var (
		meta  *domain.QuoteMetadata
		items []domain.QuoteItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		meta, err = w.market.GetQuoteMetadata(gctx, w.quoteID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = w.market.GetQuoteItems(gctx, w.quoteID)
		return err
	})
	if err := g.Wait(); err != nil {
		w.mu.Lock()
		if w.phase == phaseLoading {
			w.phase = phaseNew
		}
		w.mu.Unlock()
		return fmt.Errorf("load quote %d: %w", w.quoteID, err)
	}

	draft, err := w.drafts.LoadDraft(ctx, w.draftRef())
	degraded := false
	if err != nil {
		w.logger.Warn("Draft load failed, continuing without saved draft", "error", err)
		draft, degraded = nil, true
	}

	sched := autosave.New(w.draftRef(), w.drafts, w.workingDraft, autosave.Config{
		Interval:    w.opts.AutosaveInterval,
		FlushOnStop: w.opts.FlushOnClose,
		OnSaved:     w.onSaved,
	}, w.logger)
	syncer := thread.New(w.market, domain.ThreadKey{
		QuoteID:        w.quoteID,
		UserID:         w.opts.UserID,
		CounterpartyID: meta.BuyerID,
	}, thread.Config{
		PollInterval:      w.opts.PollInterval,
		HighlightDuration: w.opts.HighlightDuration,
		OnChange:          w.subs.notify,
		Now:               w.opts.Now,
	}, w.logger)

	w.mu.Lock()
	if w.phase == phaseClosed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.meta = meta
	w.items = items
	w.degraded = degraded
	w.seedLocked(draft)
	w.sched = sched
	w.syncer = syncer
	w.phase = phaseOpen
	w.mu.Unlock()

	loopCtx := context.WithoutCancel(ctx)
	sched.Start(loopCtx)
	syncer.Open(loopCtx)

	metrics.WorkspacesOpen.Inc()
	w.logger.Info("Workspace opened", "items", len(items), "from_draft", draft != nil)
	w.subs.notify()
	return nil
}

// seedLocked fills the editable fields. Server values are the fallback for
// items the draft does not mention.
func (w *Workspace) seedLocked(draft *domain.ResponseDraft) {
	w.fields = make(map[string]domain.ItemPriceEntry, len(w.items))
	for _, it := range w.items {
		entry := domain.ItemPriceEntry{ItemKey: it.ItemKey, BrandText: it.PreviouslyProposedBrand}
		if it.PreviouslyProposedPrice != nil {
			entry.PriceText = it.PreviouslyProposedPrice.String()
		}
		w.fields[it.ItemKey] = entry
	}
	w.validityDate = ""
	w.discount = ""
	w.lastSavedAt = nil

	if draft == nil {
		return
	}
	for key, entry := range draft.Items {
		if _, known := w.fields[key]; known {
			entry.ItemKey = key
			w.fields[key] = entry
		}
	}
	w.validityDate = draft.ValidityDate
	w.discount = draft.CiapagDiscount
	saved := draft.UpdatedAt
	w.lastSavedAt = &saved
}

// workingDraft is the autosave snapshot source.
func (w *Workspace) workingDraft() *domain.ResponseDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make(map[string]domain.ItemPriceEntry, len(w.fields))
	for k, v := range w.fields {
		items[k] = v
	}
	return &domain.ResponseDraft{
		SellerID:       w.opts.UserID,
		QuoteID:        w.quoteID,
		Items:          items,
		ValidityDate:   w.validityDate,
		CiapagDiscount: w.discount,
	}
}

func (w *Workspace) onSaved(saved *domain.ResponseDraft) {
	w.mu.Lock()
	at := saved.UpdatedAt
	w.lastSavedAt = &at
	w.degraded = false
	w.mu.Unlock()
	w.subs.notify()
}

// SetPrice records the typed price text of an item.
func (w *Workspace) SetPrice(itemKey, text string) error {
	return w.editItem(itemKey, func(e *domain.ItemPriceEntry) { e.PriceText = text })
}

// SetBrand records the brand of an item.
func (w *Workspace) SetBrand(itemKey, text string) error {
	return w.editItem(itemKey, func(e *domain.ItemPriceEntry) { e.BrandText = text })
}

// SetDeadline records the response validity date.
func (w *Workspace) SetDeadline(date string) error {
	return w.edit(func() error {
		w.validityDate = date
		return nil
	})
}

// SetDiscount records the discount percentage text.
func (w *Workspace) SetDiscount(text string) error {
	return w.edit(func() error {
		w.discount = text
		return nil
	})
}

func (w *Workspace) editItem(itemKey string, apply func(*domain.ItemPriceEntry)) error {
	return w.edit(func() error {
		entry, ok := w.fields[itemKey]
		if !ok {
			return fmt.Errorf("item %q: %w", itemKey, errdefs.ErrNotFound)
		}
		apply(&entry)
		w.fields[itemKey] = entry
		return nil
	})
}

func (w *Workspace) edit(apply func() error) error {
	w.mu.Lock()
	if err := w.writableLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	if err := apply(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.validation = ""
	w.mu.Unlock()

	w.sched.MarkDirty()
	w.subs.notify()
	return nil
}

func (w *Workspace) writableLocked() error {
	switch {
	case w.phase == phaseClosed:
		return ErrClosed
	case w.phase != phaseOpen:
		return ErrNotOpen
	case w.submitted:
		return domain.ErrSubmitted
	case w.submitting:
		return ErrSubmitting
	}
	return nil
}

// SaveDraftNow writes the working copy immediately.
func (w *Workspace) SaveDraftNow(ctx context.Context) error {
	w.mu.Lock()
	err := w.writableLocked()
	w.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := w.sched.FlushNow(ctx); err != nil {
		if errors.Is(err, domain.ErrSubmitted) {
			return err
		}
		w.logger.Warn("Manual draft save failed", "error", err)
		w.mu.Lock()
		w.degraded = true
		w.mu.Unlock()
		w.notifyError("The draft could not be saved. Your edits are kept in this session.")
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// DiscardDraft restores the server values, deletes the stored draft and
// clears the "last saved" display.
func (w *Workspace) DiscardDraft(ctx context.Context) error {
	w.mu.Lock()
	if err := w.writableLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.seedLocked(nil)
	w.validation = ""
	w.mu.Unlock()

	err := w.sched.Discard(ctx)
	if err != nil {
		w.logger.Warn("Draft discard failed", "error", err)
		w.mu.Lock()
		w.degraded = true
		w.mu.Unlock()
	}
	w.subs.notify()
	if err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	return nil
}

// Submit validates the working copy and sends the response. Validation
// failures make no network call and keep every edit. On success the draft is
// discarded and autosave is quiesced; on failure the draft is kept and a
// notification is raised.
func (w *Workspace) Submit(ctx context.Context) error {
	w.mu.Lock()
	if err := w.writableLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	req, verr := w.buildRequestLocked()
	if verr != nil {
		w.validation = verr.Reason
		w.mu.Unlock()
		metrics.Submissions.WithLabelValues("invalid").Inc()
		w.subs.notify()
		return verr
	}
	w.validation = ""
	w.submitting = true
	w.mu.Unlock()
	w.subs.notify()

	err := w.market.SubmitResponse(ctx, w.opts.UserID, req)
	metrics.Submissions.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		w.mu.Lock()
		w.submitting = false
		w.mu.Unlock()
		w.logger.Warn("Quote response submission failed", "error", err)
		w.notifyError("The response could not be submitted. Your draft was kept; try again.")
		return &domain.MutationError{Op: "submit response", Err: err}
	}

	w.sched.Quiesce()
	discardCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postSubmitDiscardTimeout)
	if err := w.sched.Discard(discardCtx); err != nil {
		w.logger.Warn("Draft discard after submit failed", "error", err)
	}
	cancel()

	w.mu.Lock()
	w.submitting = false
	w.submitted = true
	w.lastSavedAt = nil
	w.mu.Unlock()

	w.logger.Info("Quote response submitted", "items", len(req.Items))
	w.subs.notify()
	return nil
}

func (w *Workspace) buildRequestLocked() (domain.SubmitRequest, *domain.ValidationError) {
	if res := validate.ValidateDeadline(w.validityDate, w.opts.Now()); !res.Valid {
		return domain.SubmitRequest{}, &domain.ValidationError{Reason: res.Reason}
	}
	discount, res := validate.ValidateDiscount(w.discount)
	if !res.Valid {
		return domain.SubmitRequest{}, &domain.ValidationError{Reason: res.Reason}
	}

	out := make([]domain.ResponseItem, 0, len(w.items))
	for _, it := range w.items {
		entry := w.fields[it.ItemKey]
		item := domain.ResponseItem{ItemKey: it.ItemKey, Brand: entry.BrandText}
		price := validate.ValidatePrice(entry.PriceText)
		switch {
		case price.Empty:
		case !price.OK:
			return domain.SubmitRequest{}, &domain.ValidationError{Reason: domain.ReasonInvalidPrice, ItemKey: it.ItemKey}
		default:
			v := price.Value
			item.Price = &v
		}
		out = append(out, item)
	}

	date, _ := validate.ParseDate(w.validityDate)
	return domain.SubmitRequest{
		QuoteID:         w.quoteID,
		Items:           out,
		DeadlineDate:    date.Format(validate.DateLayout),
		DiscountPercent: discount,
	}, nil
}

// Messages returns the rendered thread.
func (w *Workspace) Messages() (thread.View, error) {
	s, err := w.thread()
	if err != nil {
		return thread.View{}, err
	}
	return s.View(), nil
}

// SendMessage posts a message to the buyer.
func (w *Workspace) SendMessage(ctx context.Context, body string, orderID *int64) (*domain.Message, error) {
	s, err := w.thread()
	if err != nil {
		return nil, err
	}
	msg, err := s.Send(ctx, body, orderID)
	w.notifyMutation(err, "The message could not be sent.")
	return msg, err
}

// EditMessage replaces the body of one of the seller's messages.
func (w *Workspace) EditMessage(ctx context.Context, messageID int64, body string) (*domain.Message, error) {
	s, err := w.thread()
	if err != nil {
		return nil, err
	}
	msg, err := s.Edit(ctx, messageID, body)
	w.notifyMutation(err, "The message could not be edited.")
	return msg, err
}

// DeleteMessage deletes one of the seller's messages.
func (w *Workspace) DeleteMessage(ctx context.Context, messageID int64) error {
	s, err := w.thread()
	if err != nil {
		return err
	}
	err = s.Delete(ctx, messageID)
	w.notifyMutation(err, "The message could not be deleted.")
	return err
}

func (w *Workspace) thread() (*thread.Synchronizer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.phase {
	case phaseOpen:
		return w.syncer, nil
	case phaseClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotOpen
	}
}

// notifyMutation raises a notification for failures the user should see.
// Input validation is reported inline instead.
func (w *Workspace) notifyMutation(err error, text string) {
	if err == nil {
		return
	}
	if _, ok := domain.IsValidationError(err); ok {
		return
	}
	if errdefs.IsPermissionDenied(err) {
		text = "You can only change messages you sent."
	}
	w.notifyError(text)
}

// Close stops autosave and polling. It does not write unless flush on close
// is enabled.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.phase == phaseClosed {
		w.mu.Unlock()
		return
	}
	wasOpen := w.phase == phaseOpen
	w.phase = phaseClosed
	w.mu.Unlock()

	if wasOpen {
		w.sched.Stop()
		w.syncer.Close()
		metrics.WorkspacesOpen.Dec()
	}
	close(w.done)
	w.logger.Info("Workspace closed")
}

// Snapshot is the read-only state of a workspace.
type Snapshot struct {
	QuoteID       domain.QuoteID          `json:"quote_id"`
	Quote         *domain.QuoteMetadata   `json:"quote,omitempty"`
	Items         []ItemView              `json:"items"`
	ValidityDate  string                  `json:"validity_date"`
	Discount      string                  `json:"ciapag_discount"`
	Dirty         bool                    `json:"dirty"`
	LastSavedAt   *time.Time              `json:"last_saved_at,omitempty"`
	LastSavedText string                  `json:"last_saved_text,omitempty"`
	Validation    domain.ValidationReason `json:"validation,omitempty"`
	Thread        thread.View             `json:"thread"`
	Notifications []Notification          `json:"notifications"`
	Submitting    bool                    `json:"submitting"`
	Submitted     bool                    `json:"submitted"`
	// PersistenceDegraded is set while the draft store is failing.
	PersistenceDegraded bool `json:"persistence_degraded"`
}

// ItemView is one editable line of the response.
type ItemView struct {
	ItemKey                 string           `json:"item_key"`
	Quantity                int              `json:"quantity"`
	PriceText               string           `json:"price_text"`
	BrandText               string           `json:"brand_text"`
	PreviouslyProposedPrice *decimal.Decimal `json:"previously_proposed_price,omitempty"`
	PreviouslyProposedBrand string           `json:"previously_proposed_brand,omitempty"`
}

// Snapshot returns a copy of the current state.
func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	snap := Snapshot{
		QuoteID:             w.quoteID,
		ValidityDate:        w.validityDate,
		Discount:            w.discount,
		Validation:          w.validation,
		Submitting:          w.submitting,
		Submitted:           w.submitted,
		PersistenceDegraded: w.degraded,
		Notifications:       append([]Notification(nil), w.notifications...),
		Items:               make([]ItemView, 0, len(w.items)),
	}
	if w.meta != nil {
		meta := *w.meta
		snap.Quote = &meta
	}
	for _, it := range w.items {
		entry := w.fields[it.ItemKey]
		snap.Items = append(snap.Items, ItemView{
			ItemKey:                 it.ItemKey,
			Quantity:                it.Quantity,
			PriceText:               entry.PriceText,
			BrandText:               entry.BrandText,
			PreviouslyProposedPrice: it.PreviouslyProposedPrice,
			PreviouslyProposedBrand: it.PreviouslyProposedBrand,
		})
	}
	if w.lastSavedAt != nil {
		at := *w.lastSavedAt
		snap.LastSavedAt = &at
		snap.LastSavedText = "Last saved " + humanize.RelTime(at, w.opts.Now(), "ago", "from now")
	}
	sched, syncer := w.sched, w.syncer
	open := w.phase == phaseOpen
	w.mu.Unlock()

	if open {
		snap.Dirty = sched.Dirty()
		snap.Thread = syncer.View()
	}
	if snap.Notifications == nil {
		snap.Notifications = []Notification{}
	}
	return snap
}

// Subscribe returns a channel that receives a signal after state changes.
// Signals are coalesced. Call the returned func to unsubscribe.
func (w *Workspace) Subscribe() (<-chan struct{}, func()) {
	return w.subs.add()
}
