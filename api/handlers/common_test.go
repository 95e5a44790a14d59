package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warmline/warmline/types"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError_StatusFromCode(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnauthorized, http.StatusUnauthorized},
		{types.ErrUnauthorizedRole, http.StatusForbidden},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrConflict, http.StatusConflict},
		{types.ErrStaleTransfer, http.StatusConflict},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrSummaryTimeout, http.StatusGatewayTimeout},
		{types.ErrSummaryFailed, http.StatusBadGateway},
		{types.ErrUpstreamError, http.StatusBadGateway},
		{types.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{types.ErrInternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, types.NewError(tt.code, "boom"), zap.NewNop())

			assert.Equal(t, tt.want, rec.Code)
			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.code), resp.Error.Code)
		})
	}
}

func TestWriteError_ExplicitStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrInvalidRequest, "nope").WithHTTPStatus(http.StatusTeapot)
	WriteError(rec, err, zap.NewNop())
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestWriteError_CarriesState(t *testing.T) {
	rec := httptest.NewRecorder()
	err := types.NewError(types.ErrStaleTransfer, "stale version").
		WithState(&types.TransferState{
			CallID:  "call-1",
			Status:  types.StatusInvitingAgent,
			Version: 4,
		})
	WriteError(rec, err, zap.NewNop())

	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	require.NotNil(t, resp.Error.State)
	assert.Equal(t, types.StatusInvitingAgent, resp.Error.State.Status)
	assert.Equal(t, uint64(4), resp.Error.State.Version)
}

func TestWriteErr_WrapsPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErr(rec, errors.New("plain failure"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeEnvelope(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"dana"}`))
		rec := httptest.NewRecorder()
		var p payload
		require.NoError(t, DecodeJSONBody(rec, r, &p, zap.NewNop()))
		assert.Equal(t, "dana", p.Name)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"dana","extra":1}`))
		rec := httptest.NewRecorder()
		var p payload
		err := DecodeJSONBody(rec, r, &p, zap.NewNop())
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		var p payload
		err := DecodeJSONBody(rec, r, &p, zap.NewNop())
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	})
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.True(t, rw.Written)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode)
	assert.True(t, rw.Written)
}
