package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxhub/chre-runtime/internal/chre/host"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/infrastructure/monitoring"
)

type fakeLister struct {
	apps []*nanoapp.Nanoapp
}

func (f *fakeLister) ForEachNanoapp(fn func(*nanoapp.Nanoapp)) {
	for _, n := range f.apps {
		fn(n)
	}
}

type fakeMetrics struct {
	snap monitoring.Snapshot
}

func (f *fakeMetrics) Snapshot() monitoring.Snapshot {
	return f.snap
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s := New(Config{CORSOrigins: []string{"*"}}, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestHandleListNanoappsWithoutLoopReturns503(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nanoapps", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleListNanoappsReportsLoadedApps(t *testing.T) {
	n := nanoapp.New(0xA, 3, true, 4, nil, nil, nil)
	lister := &fakeLister{apps: []*nanoapp.Nanoapp{n}}
	s := New(Config{}, lister, nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/nanoapps", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"app_id":10`)
	assert.Contains(t, rec.Body.String(), `"is_system":true`)
}

func TestHandleStatsReturnsSnapshot(t *testing.T) {
	fm := &fakeMetrics{snap: monitoring.Snapshot{NanoappsLoaded: 2, InboundQueueDepth: 5, TimersArmed: 1}}
	s := New(Config{}, nil, fm, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nanoapps_loaded":2`)
}

func TestHandleDebugDumpWithoutCoordinatorReturns503(t *testing.T) {
	s := New(Config{}, nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debugdump", nil)
	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleDebugDumpReturnsSessionSummary(t *testing.T) {
	s := New(Config{}, nil, nil, &host.DebugDumpCoordinator{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/debugdump", nil)
	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}
