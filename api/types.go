// Package api defines the request and response bodies of the warm
// transfer HTTP API. Handlers in api/handlers decode requests into these
// types and wrap responses in the handlers.Response envelope.
package api

import (
	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/types"
)

// CreateCallRequest opens a new customer call.
type CreateCallRequest struct {
	CustomerName string `json:"customerName"`
	AgentAID     string `json:"agentAId"`
}

// CreateCallResponse carries the new call record and the customer's room
// credential.
type CreateCallResponse struct {
	Call  *types.Call      `json:"call"`
	Grant *media.RoomGrant `json:"grant,omitempty"`
}

// JoinCallRequest binds a participant to an existing call.
type JoinCallRequest struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// JoinCallResponse carries the joining participant's room credential.
type JoinCallResponse struct {
	Grant *media.RoomGrant `json:"grant,omitempty"`
}

// InitiateTransferRequest starts a warm transfer on a call. The transcript
// is the caller-supplied snapshot of the conversation so far.
type InitiateTransferRequest struct {
	CallID     string `json:"callId"`
	Role       string `json:"role"`
	Transcript string `json:"transcript"`
}

// ConfirmTransferRequest approves the generated summary and names the
// target agent. A non-empty Summary replaces the generated text verbatim.
type ConfirmTransferRequest struct {
	Version     uint64 `json:"version"`
	Role        string `json:"role"`
	Summary     string `json:"summary,omitempty"`
	TargetAgent string `json:"targetAgent"`
}

// JoinTransferRequest accepts the invitation as the target agent.
type JoinTransferRequest struct {
	Version uint64 `json:"version"`
	Role    string `json:"role"`
	AgentID string `json:"agentId"`
}

// CompleteTransferRequest finishes the handoff.
type CompleteTransferRequest struct {
	Version uint64 `json:"version"`
	Role    string `json:"role"`
}

// CancelTransferRequest aborts the transfer.
type CancelTransferRequest struct {
	Version uint64 `json:"version"`
	Role    string `json:"role"`
	Reason  string `json:"reason,omitempty"`
}

// TransferResponse carries the post-operation transfer state and, for
// operations that admit a participant to a room, their credential.
type TransferResponse struct {
	State *types.TransferState `json:"state"`
	Grant *media.RoomGrant     `json:"grant,omitempty"`
}
