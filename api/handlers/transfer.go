package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/warmline/warmline/api"
	"github.com/warmline/warmline/transfer"
	"github.com/warmline/warmline/types"
)

// TransferHandler serves the warm transfer endpoints.
type TransferHandler struct {
	coordinator *transfer.Coordinator
	logger      *zap.Logger
}

// NewTransferHandler creates a transfer handler.
func NewTransferHandler(coordinator *transfer.Coordinator, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{
		coordinator: coordinator,
		logger:      logger.With(zap.String("component", "transfer_handler")),
	}
}

// HandleInitiate serves POST /api/v1/transfers.
func (h *TransferHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateTransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.CallID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "callId is required", h.logger)
		return
	}

	state, err := h.coordinator.Initiate(r.Context(), req.CallID, types.Role(req.Role), req.Transcript)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("transfer initiated",
		zap.String("call_id", req.CallID),
		zap.String("transfer_id", state.TransferID),
	)
	WriteCreated(w, api.TransferResponse{State: state})
}

// HandleGet serves GET /api/v1/transfers/{id}.
func (h *TransferHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.Transfer(r.PathValue("id"))
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.TransferResponse{State: state})
}

// HandleConfirm serves POST /api/v1/transfers/{id}/confirm.
func (h *TransferHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmTransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	state, grant, err := h.coordinator.Confirm(r.Context(), r.PathValue("id"),
		types.Role(req.Role), req.Version, req.Summary, req.TargetAgent)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("transfer confirmed",
		zap.String("transfer_id", state.TransferID),
		zap.String("target_agent", state.TargetAgentID),
	)
	WriteSuccess(w, api.TransferResponse{State: state, Grant: grant})
}

// HandleJoin serves POST /api/v1/transfers/{id}/join.
func (h *TransferHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req api.JoinTransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	state, grant, err := h.coordinator.Join(r.Context(), r.PathValue("id"),
		types.Role(req.Role), req.Version, req.AgentID)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("target agent joined",
		zap.String("transfer_id", state.TransferID),
		zap.String("agent_id", req.AgentID),
	)
	WriteSuccess(w, api.TransferResponse{State: state, Grant: grant})
}

// HandleComplete serves POST /api/v1/transfers/{id}/complete.
func (h *TransferHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req api.CompleteTransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	state, grant, err := h.coordinator.Complete(r.Context(), r.PathValue("id"),
		types.Role(req.Role), req.Version)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("transfer completed", zap.String("transfer_id", state.TransferID))
	WriteSuccess(w, api.TransferResponse{State: state, Grant: grant})
}

// HandleCancel serves POST /api/v1/transfers/{id}/cancel.
func (h *TransferHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req api.CancelTransferRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	state, err := h.coordinator.Cancel(r.Context(), r.PathValue("id"),
		types.Role(req.Role), req.Version, req.Reason)
	if err != nil {
		WriteErr(w, err, h.logger)
		return
	}

	h.logger.Info("transfer cancelled",
		zap.String("transfer_id", state.TransferID),
		zap.String("reason", state.Reason),
	)
	WriteSuccess(w, api.TransferResponse{State: state})
}
