package handlers

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warmline/warmline/media"
	"github.com/warmline/warmline/transfer"
	"github.com/warmline/warmline/types"
)

func initiateTransfer(t *testing.T, mux *http.ServeMux, callID string) types.TransferState {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/api/v1/transfers", map[string]interface{}{
		"callId":     callID,
		"role":       "agent_a",
		"transcript": "customer: I was charged twice",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		State types.TransferState `json:"state"`
	}
	dataField(t, rec, &body)
	return body.State
}

func waitSummaryReady(t *testing.T, coord *transfer.Coordinator, callID string) types.TransferState {
	t.Helper()
	var st *types.TransferState
	require.Eventually(t, func() bool {
		s, err := coord.State(callID)
		if err != nil {
			return false
		}
		st = s
		return s.Status == types.StatusSummaryReady
	}, 2*time.Second, 5*time.Millisecond)
	return *st
}

func TestTransferHandler_InitiateAndGet(t *testing.T) {
	mux, coord := newTestMux(t)
	callID := createCall(t, mux)

	st := initiateTransfer(t, mux, callID)
	assert.Equal(t, types.StatusInitiated, st.Status)
	assert.Equal(t, uint64(1), st.Version)
	assert.NotEmpty(t, st.TransferID)

	waitSummaryReady(t, coord, callID)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/transfers/"+st.TransferID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		State types.TransferState `json:"state"`
	}
	dataField(t, rec, &body)
	assert.Equal(t, types.StatusSummaryReady, body.State.Status)
	require.NotNil(t, body.State.Summary)
	assert.Equal(t, "billing", body.State.Summary.IssueType)
}

func TestTransferHandler_InitiateValidation(t *testing.T) {
	mux, _ := newTestMux(t)
	callID := createCall(t, mux)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/transfers", map[string]interface{}{
		"role": "agent_a", "transcript": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/transfers", map[string]interface{}{
		"callId": callID, "role": "customer", "transcript": "hi",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/transfers", map[string]interface{}{
		"callId": "missing", "role": "agent_a", "transcript": "hi",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferHandler_SecondInitiateConflicts(t *testing.T) {
	mux, _ := newTestMux(t)
	callID := createCall(t, mux)
	initiateTransfer(t, mux, callID)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/transfers", map[string]interface{}{
		"callId": callID, "role": "agent_a", "transcript": "again",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrConflict), resp.Error.Code)
	require.NotNil(t, resp.Error.State, "conflict response should carry the live state")
}

func TestTransferHandler_FullHandoffOverHTTP(t *testing.T) {
	mux, coord := newTestMux(t)
	callID := createCall(t, mux)
	initiateTransfer(t, mux, callID)
	st := waitSummaryReady(t, coord, callID)

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/confirm", st.TransferID), map[string]interface{}{
		"version":     st.Version,
		"role":        "agent_a",
		"summary":     "double charge, refund pending",
		"targetAgent": "agent-9",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var confirmed struct {
		State types.TransferState `json:"state"`
		Grant *media.RoomGrant    `json:"grant"`
	}
	dataField(t, rec, &confirmed)
	assert.Equal(t, types.StatusInvitingAgent, confirmed.State.Status)
	assert.Equal(t, "agent-9", confirmed.State.TargetAgentID)
	require.NotNil(t, confirmed.State.Summary)
	assert.Equal(t, "double charge, refund pending", confirmed.State.Summary.Text)
	require.NotNil(t, confirmed.Grant)
	assert.Equal(t, confirmed.State.ConsultRoom, confirmed.Grant.Room)

	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/join", st.TransferID), map[string]interface{}{
		"version": confirmed.State.Version,
		"role":    "agent_b",
		"agentId": "agent-9",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var joined struct {
		State types.TransferState `json:"state"`
		Grant *media.RoomGrant    `json:"grant"`
	}
	dataField(t, rec, &joined)
	assert.Equal(t, types.StatusAgentJoining, joined.State.Status)
	require.NotNil(t, joined.Grant)
	assert.Equal(t, "agent-9", joined.Grant.Identity)

	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/complete", st.TransferID), map[string]interface{}{
		"version": joined.State.Version,
		"role":    "agent_b",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var completed struct {
		State types.TransferState `json:"state"`
		Grant *media.RoomGrant    `json:"grant"`
	}
	dataField(t, rec, &completed)
	assert.Equal(t, types.StatusComplete, completed.State.Status)
	require.NotNil(t, completed.Grant, "completing agent receives the live room credential")
}

func TestTransferHandler_StaleVersionConflict(t *testing.T) {
	mux, coord := newTestMux(t)
	callID := createCall(t, mux)
	initiateTransfer(t, mux, callID)
	st := waitSummaryReady(t, coord, callID)

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/confirm", st.TransferID), map[string]interface{}{
		"version":     st.Version - 1,
		"role":        "agent_a",
		"targetAgent": "agent-9",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrStaleTransfer), resp.Error.Code)
	require.NotNil(t, resp.Error.State)
	assert.Equal(t, st.Version, resp.Error.State.Version)
}

func TestTransferHandler_JoinWrongAgentForbidden(t *testing.T) {
	mux, coord := newTestMux(t)
	callID := createCall(t, mux)
	initiateTransfer(t, mux, callID)
	st := waitSummaryReady(t, coord, callID)

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/confirm", st.TransferID), map[string]interface{}{
		"version": st.Version, "role": "agent_a", "targetAgent": "agent-9",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var confirmed struct {
		State types.TransferState `json:"state"`
	}
	dataField(t, rec, &confirmed)

	rec = doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/join", st.TransferID), map[string]interface{}{
		"version": confirmed.State.Version, "role": "agent_b", "agentId": "agent-13",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransferHandler_Cancel(t *testing.T) {
	mux, coord := newTestMux(t)
	callID := createCall(t, mux)
	initiateTransfer(t, mux, callID)
	st := waitSummaryReady(t, coord, callID)

	rec := doJSON(t, mux, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/cancel", st.TransferID), map[string]interface{}{
		"version": st.Version,
		"role":    "customer",
		"reason":  "resolved it myself",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		State types.TransferState `json:"state"`
	}
	dataField(t, rec, &body)
	assert.Equal(t, types.StatusCancelled, body.State.Status)
	assert.Equal(t, "resolved it myself", body.State.Reason)
}

func TestTransferHandler_UnknownTransfer(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/transfers/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/v1/transfers/missing/cancel", map[string]interface{}{
		"version": 1, "role": "agent_a",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
