package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/quoteworks/internal/identity"
	"github.com/ashureev/quoteworks/internal/workspace"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StreamHandler pushes workspace snapshots over a WebSocket whenever the
// workspace changes. Bursts of changes are coalesced into one frame.
type StreamHandler struct {
	mgr           *workspace.Manager
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(mgr *workspace.Manager, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{mgr: mgr, allowedOrigin: allowedOrigin, isDev: isDev}
}

// streamFrame is one pushed message.
type streamFrame struct {
	Type     string              `json:"type"`
	Snapshot *workspace.Snapshot `json:"snapshot,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	quoteID, ok := quoteIDParam(r)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid quote id")
		return
	}
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	ws := h.mgr.Get(userID, quoteID)
	if ws == nil {
		Error(w, http.StatusNotFound, workspace.ErrNotOpen.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	slog.Info("Workspace stream opened", "user_id", userID, "session_id", sessionID, "quote_id", quoteID)

	// The client only listens; CloseRead handles control frames and detects disconnects.
	ctx := conn.CloseRead(r.Context())

	changes, unsubscribe := ws.Subscribe()
	defer unsubscribe()

	if err := h.send(ctx, conn, ws); err != nil {
		return
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-changes:
			if err := h.send(ctx, conn, ws); err != nil {
				return
			}
		case <-ws.Done():
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			_ = wsjson.Write(writeCtx, conn, streamFrame{Type: "closed"})
			cancel()
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("Workspace stream ping failed", "error", err, "user_id", userID)
				return
			}
		case <-ctx.Done():
			slog.Debug("Workspace stream closed by client", "user_id", userID, "quote_id", quoteID)
			return
		}
	}
}

func (h *StreamHandler) send(ctx context.Context, conn *websocket.Conn, ws *workspace.Workspace) error {
	snap := ws.Snapshot()
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, streamFrame{Type: "snapshot", Snapshot: &snap}); err != nil {
		if ctx.Err() == nil {
			slog.Debug("Workspace stream write error", "error", err)
		}
		return err
	}
	return nil
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
