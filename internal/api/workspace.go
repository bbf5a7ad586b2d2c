package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/quoteworks/internal/identity"
	"github.com/ashureev/quoteworks/internal/workspace"
)

type textRequest struct {
	Text string `json:"text"`
}

type dateRequest struct {
	Date string `json:"date"`
}

type messageRequest struct {
	Body    string `json:"body"`
	OrderID *int64 `json:"order_id,omitempty"`
}

// RegisterRoutes registers the workspace and lookup routes.
// limit wraps mutating routes; it may be nil.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/manufacturers/{supplierID}", h.GetManufacturer)

		r.Route("/quotes/{quoteID}/workspace", func(r chi.Router) {
			r.Get("/", h.GetWorkspace)
			r.Get("/messages", h.ListMessages)

			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Post("/", h.OpenWorkspace)
				r.Delete("/", h.CloseWorkspace)
				r.Put("/items/{itemKey}/price", h.SetPrice)
				r.Put("/items/{itemKey}/brand", h.SetBrand)
				r.Put("/deadline", h.SetDeadline)
				r.Put("/discount", h.SetDiscount)
				r.Post("/draft", h.SaveDraft)
				r.Delete("/draft", h.DiscardDraft)
				r.Post("/submit", h.Submit)
				r.Post("/messages", h.SendMessage)
				r.Patch("/messages/{messageID}", h.EditMessage)
				r.Delete("/messages/{messageID}", h.DeleteMessage)
				r.Delete("/notifications/{notificationID}", h.DismissNotification)
			})
		})
	})
}

// current resolves the caller's open workspace, writing an error if there is none.
func (h *Handler) current(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	quoteID, ok := quoteIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid quote id")
		return nil, false
	}
	ws := h.mgr.Get(identity.UserIDFromContext(r.Context()), quoteID)
	if ws == nil {
		JSON(w, http.StatusNotFound, errorBody{Error: workspace.ErrNotOpen.Error()})
		return nil, false
	}
	return ws, true
}

// OpenWorkspace loads the quote for the caller, reusing an open workspace.
func (h *Handler) OpenWorkspace(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := quoteIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid quote id")
		return
	}
	userID := identity.UserIDFromContext(r.Context())

	ws, err := h.mgr.Open(r.Context(), userID, quoteID)
	if err != nil {
		slog.Warn("Failed to open workspace", "error", err, "user_id", userID, "quote_id", quoteID)
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, ws.Snapshot())
}

// GetWorkspace returns the snapshot of an open workspace.
func (h *Handler) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ws.Snapshot())
}

// CloseWorkspace stops the caller's workspace timers.
func (h *Handler) CloseWorkspace(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := quoteIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid quote id")
		return
	}
	if !h.mgr.Close(identity.UserIDFromContext(r.Context()), quoteID) {
		JSON(w, http.StatusNotFound, errorBody{Error: workspace.ErrNotOpen.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPrice records an item's typed price.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	h.editText(w, r, func(ws *workspace.Workspace, text string) error {
		return ws.SetPrice(chi.URLParam(r, "itemKey"), text)
	})
}

// SetBrand records an item's brand.
func (h *Handler) SetBrand(w http.ResponseWriter, r *http.Request) {
	h.editText(w, r, func(ws *workspace.Workspace, text string) error {
		return ws.SetBrand(chi.URLParam(r, "itemKey"), text)
	})
}

// SetDiscount records the discount percentage.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	h.editText(w, r, func(ws *workspace.Workspace, text string) error {
		return ws.SetDiscount(text)
	})
}

// SetDeadline records the validity date.
func (h *Handler) SetDeadline(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	var req dateRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, ws, ws.SetDeadline(req.Date))
}

func (h *Handler) editText(w http.ResponseWriter, r *http.Request, apply func(*workspace.Workspace, string) error) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, ws, apply(ws, req.Text))
}

// SaveDraft writes the working copy immediately.
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	h.respond(w, r, ws, ws.SaveDraftNow(r.Context()))
}

// DiscardDraft deletes the stored draft and restores server values.
func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	h.respond(w, r, ws, ws.DiscardDraft(r.Context()))
}

// Submit validates and sends the response.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	h.respond(w, r, ws, ws.Submit(r.Context()))
}

// ListMessages returns the rendered thread.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	view, err := ws.Messages()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

// SendMessage posts a message to the buyer.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := ws.SendMessage(r.Context(), req.Body, req.OrderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// EditMessage changes the body of the caller's message.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	messageID, ok := int64Param(r, "messageID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid message id")
		return
	}
	var req messageRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := ws.EditMessage(r.Context(), messageID, req.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, msg)
}

// DeleteMessage removes the caller's message.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	messageID, ok := int64Param(r, "messageID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid message id")
		return
	}
	if err := ws.DeleteMessage(r.Context(), messageID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DismissNotification removes a notification.
func (h *Handler) DismissNotification(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.current(w, r)
	if !ok {
		return
	}
	h.respond(w, r, ws, ws.DismissNotification(chi.URLParam(r, "notificationID")))
}

// respond writes the snapshot on success.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace, err error) {
	if err == nil {
		JSON(w, http.StatusOK, ws.Snapshot())
		return
	}
	h.writeError(w, r, err)
}

// GetManufacturer resolves a supplier's manufacturer name.
func (h *Handler) GetManufacturer(w http.ResponseWriter, r *http.Request) {
	supplierID, ok := int64Param(r, "supplierID")
	if !ok {
		Error(w, http.StatusBadRequest, "invalid supplier id")
		return
	}
	name, err := h.names.Lookup(r.Context(), supplierID)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return
		}
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"supplier_id": supplierID, "name": name})
}
