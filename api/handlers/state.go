package handlers

import (
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/warmline/warmline/notify"
	"github.com/warmline/warmline/transfer"
	"github.com/warmline/warmline/types"
)

// StateHandler serves the call's transfer state, either as a one-shot JSON
// snapshot or as a WebSocket stream when the client requests an upgrade.
type StateHandler struct {
	coordinator *transfer.Coordinator
	logger      *zap.Logger
}

// NewStateHandler creates a state handler.
func NewStateHandler(coordinator *transfer.Coordinator, logger *zap.Logger) *StateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateHandler{
		coordinator: coordinator,
		logger:      logger.With(zap.String("component", "state_handler")),
	}
}

// HandleState serves GET /api/v1/calls/{id}/state.
func (h *StateHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")

	if isWebSocketUpgrade(r) {
		h.stream(w, r, callID)
		return
	}

	state, err := h.coordinator.State(callID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, state)
}

// stream upgrades the connection and pumps transfer states until the call
// ends or the client disconnects. The first frame is always the current
// snapshot.
func (h *StateHandler) stream(w http.ResponseWriter, r *http.Request, callID string) {
	role := types.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = types.RoleCustomer
	}

	sub, err := h.coordinator.Subscribe(callID, role)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.coordinator.Unsubscribe(sub)
		h.logger.Warn("websocket accept failed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
		return
	}

	stream := notify.NewWebSocketStream(conn, h.logger)
	defer stream.Close()
	defer h.coordinator.Unsubscribe(sub)

	h.logger.Info("state stream opened",
		zap.String("call_id", callID),
		zap.String("role", string(role)),
	)

	if err := stream.Run(r.Context(), sub); err != nil {
		h.logger.Debug("state stream closed",
			zap.String("call_id", callID),
			zap.Error(err),
		)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
