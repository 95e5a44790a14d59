package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/warmline/warmline/api"
	"github.com/warmline/warmline/transfer"
	"github.com/warmline/warmline/types"
)

// CallHandler serves the call lifecycle endpoints.
type CallHandler struct {
	coordinator *transfer.Coordinator
	logger      *zap.Logger
}

// NewCallHandler creates a call handler.
func NewCallHandler(coordinator *transfer.Coordinator, logger *zap.Logger) *CallHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallHandler{
		coordinator: coordinator,
		logger:      logger.With(zap.String("component", "call_handler")),
	}
}

// HandleCreate serves POST /api/v1/calls.
func (h *CallHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateCallRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	cl, grant, err := h.coordinator.CreateCall(r.Context(), req.CustomerName, req.AgentAID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("call created",
		zap.String("call_id", cl.ID),
		zap.String("agent_a", cl.AgentAID),
	)
	WriteCreated(w, api.CreateCallResponse{Call: cl, Grant: grant})
}

// HandleJoin serves POST /api/v1/calls/{id}/join.
func (h *CallHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")

	var req api.JoinCallRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Identity == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "identity is required", h.logger)
		return
	}

	grant, err := h.coordinator.JoinCall(r.Context(), callID, req.Identity, types.Role(req.Role))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.JoinCallResponse{Grant: grant})
}

// HandleGet serves GET /api/v1/calls/{id}.
func (h *CallHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cl, err := h.coordinator.GetCall(r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, cl)
}

// HandleEnd serves DELETE /api/v1/calls/{id}. Ending a call cancels any
// in-flight transfer and closes subscriber streams. Idempotent.
func (h *CallHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	h.coordinator.EndCall(r.Context(), callID)

	h.logger.Info("call ended", zap.String("call_id", callID))
	WriteSuccess(w, map[string]string{"call_id": callID, "status": "ended"})
}
