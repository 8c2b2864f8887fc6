package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
)

type fakeDebugInfoProvider struct {
	info api.DebugInfo
}

func (f fakeDebugInfoProvider) DebugInfo(ctx context.Context) api.DebugInfo {
	return f.info
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	s := NewServer(fakeDebugInfoProvider{}, ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestDebugInfoEndpointReturnsEngineState(t *testing.T) {
	want := api.DebugInfo{
		DeltaLogID: "deltas",
		Version:    42,
	}
	s := NewServer(fakeDebugInfoProvider{info: want}, ":0", nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/rsm", nil)
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got api.DebugInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, want, got)
}
