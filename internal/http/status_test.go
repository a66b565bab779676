package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/gate"
)

type fakeChannels map[string]interface{}

func (f fakeChannels) GetStatus() map[string]interface{} { return f }

type fakeFront struct {
	reset []string
	err   error
}

func (f *fakeFront) Stats() dispatch.Stats { return dispatch.Stats{PendingTurns: 2, Workers: 16} }

func (f *fakeFront) ResetDialog(_ context.Context, key string) error {
	if f.err != nil {
		return f.err
	}
	f.reset = append(f.reset, key)
	return nil
}

func newMux(front *fakeFront, token string) *http.ServeMux {
	mux := http.NewServeMux()
	NewStatusHandler(fakeChannels{"messenger": map[string]interface{}{"running": true}}, front, token).RegisterRoutes(mux)
	return mux
}

func do(mux *http.ServeMux, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	mux := newMux(&fakeFront{}, "secret")
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodGet, "/v1/channels", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodGet, "/v1/channels", "wrong").Code)
	assert.Equal(t, http.StatusOK, do(mux, http.MethodGet, "/v1/channels", "secret").Code)
}

func TestDispatchStats(t *testing.T) {
	rec := do(newMux(&fakeFront{}, ""), http.MethodGet, "/v1/dispatch", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Dispatch dispatch.Stats `json:"dispatch"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Dispatch.PendingTurns)
	assert.Equal(t, 16, body.Dispatch.Workers)
}

func TestResetDialog(t *testing.T) {
	front := &fakeFront{}
	mux := newMux(front, "")

	rec := do(mux, http.MethodDelete, "/v1/dialogs/messenger:page1:u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"messenger:page1:u1"}, front.reset)

	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodDelete, "/v1/dialogs/nokey", "").Code)

	front.err = gate.ErrAdmissionAbandoned
	assert.Equal(t, http.StatusConflict, do(mux, http.MethodDelete, "/v1/dialogs/messenger:page1:u1", "").Code)
}
