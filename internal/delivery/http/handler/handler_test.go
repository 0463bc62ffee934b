package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/delivery/http/handler"
	"github.com/user/listing-crawler/internal/delivery/http/router"
	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/internal/usecase"
)

type stubCampaign struct {
	runErr    error
	stopDrain *bool
	lineages  map[string]entity.LineageStatus
	items     map[string]*entity.ItemStub
}

func (s *stubCampaign) Run(context.Context) (usecase.RunSummary, error) {
	if s.runErr != nil {
		return usecase.RunSummary{}, s.runErr
	}
	return usecase.RunSummary{Combos: 3, Enqueued: 2, Keys: []string{"plombier-paris", "plombier-lyon"}, Skipped: []string{"electricien-paris"}}, nil
}

func (s *stubCampaign) Stop(_ context.Context, drain bool) (usecase.StopSummary, error) {
	s.stopDrain = &drain
	if drain {
		return usecase.StopSummary{Drained: map[string]int64{"crawl": 3}}, nil
	}
	return usecase.StopSummary{}, nil
}

func (s *stubCampaign) Lineages(context.Context) ([]entity.LineageStatus, error) {
	out := []entity.LineageStatus{}
	for _, l := range s.lineages {
		out = append(out, l)
	}
	return out, nil
}

func (s *stubCampaign) Lineage(_ context.Context, key string) (entity.LineageStatus, error) {
	l, ok := s.lineages[key]
	if !ok {
		return entity.LineageStatus{}, repository.ErrNotFound
	}
	return l, nil
}

func (s *stubCampaign) Item(_ context.Context, id string) (*entity.ItemStub, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return item, nil
}

type stubHealth struct{ err error }

func (h stubHealth) Check(context.Context) (map[string]string, error) {
	if h.err != nil {
		return map[string]string{"redis": "down"}, h.err
	}
	return map[string]string{"redis": "up"}, nil
}

func newServer(c *stubCampaign, health stubHealth) http.Handler {
	logger := zap.NewNop()
	return router.New(handler.NewHandler(c, health, logger), logger)
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHandleRun(t *testing.T) {
	rec := do(t, newServer(&stubCampaign{}, stubHealth{}), http.MethodPost, "/api/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["enqueued"])
	assert.Equal(t, []any{"electricien-paris"}, body["skipped"])
}

func TestHandleRun_Errors(t *testing.T) {
	rec := do(t, newServer(&stubCampaign{runErr: usecase.ErrNoCombos}, stubHealth{}), http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, newServer(&stubCampaign{runErr: errors.New("redis down")}, stubHealth{}), http.MethodPost, "/api/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis down")
}

func TestHandleStop(t *testing.T) {
	c := &stubCampaign{}
	srv := newServer(c, stubHealth{})

	rec := do(t, srv, http.MethodPost, "/api/stop", `{"drain":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, c.stopDrain)
	assert.True(t, *c.stopDrain)
	assert.Contains(t, rec.Body.String(), `"crawl":3`)

	rec = do(t, srv, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, *c.stopDrain)

	rec = do(t, srv, http.MethodPost, "/api/stop", `{"drain":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLineages(t *testing.T) {
	c := &stubCampaign{lineages: map[string]entity.LineageStatus{
		"plombier-paris": {ComboKey: "plombier-paris", State: entity.LineageCompleted, MaxPages: 2},
	}}
	srv := newServer(c, stubHealth{})

	rec := do(t, srv, http.MethodGet, "/api/lineages/plombier-paris", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status entity.LineageStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, entity.LineageCompleted, status.State)

	rec = do(t, srv, http.MethodGet, "/api/lineages/jardinier-lyon", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/lineages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plombier-paris")
}

func TestHandleGetItem(t *testing.T) {
	c := &stubCampaign{items: map[string]*entity.ItemStub{
		"123": {ExternalID: "123", Status: entity.ItemScraped, Fields: map[string]any{"name": "Plomberie Martin"}},
	}}
	srv := newServer(c, stubHealth{})

	rec := do(t, srv, http.MethodGet, "/api/items/123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Plomberie Martin")
	assert.Contains(t, rec.Body.String(), `"status":"scraped"`)

	rec = do(t, srv, http.MethodGet, "/api/items/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHealthCheck(t *testing.T) {
	rec := do(t, newServer(&stubCampaign{}, stubHealth{}), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newServer(&stubCampaign{}, stubHealth{err: errors.New("redis: connection refused")}), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newServer(&stubCampaign{}, stubHealth{})
	do(t, srv, http.MethodGet, "/api/health", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/api/health",status="200"}`)
}
