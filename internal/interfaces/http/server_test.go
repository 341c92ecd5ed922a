package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/persistence"
	"github.com/crucial-sub/stocklab/internal/stream"
)

type fakeRunner struct {
	hub       *stream.Hub
	block     bool
	cancelled chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, id string, strat *domain.Strategy) (*persistence.Result, error) {
	if f.block {
		<-ctx.Done()
		f.hub.Publish(id, stream.Event{Type: stream.EventError,
			Data: stream.ErrorPayload{Code: "CANCELLED"}})
		close(f.cancelled)
		return nil, errs.New(errs.KindCancelled, "backtest cancelled")
	}
	f.hub.Publish(id, stream.Event{Type: stream.EventProgress,
		Data: stream.ProgressPayload{Date: "2024-01-02", PortfolioValue: 1_000_000}})
	f.hub.Publish(id, stream.Event{Type: stream.EventCompleted, Data: "done"})
	return &persistence.Result{}, nil
}

type fakeStore struct{ latest time.Time }

func (f *fakeStore) LoadPrices(ctx context.Context, start, end time.Time, themes, stocks []string) ([]domain.PriceBar, error) {
	return nil, nil
}

func (f *fakeStore) LoadFundamentals(ctx context.Context, startYear, endYear int, accounts, stocks []string) ([]domain.FundamentalRecord, error) {
	return nil, nil
}

func (f *fakeStore) LoadSharesOutstanding(ctx context.Context, start, end time.Time, stocks []string) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeStore) LatestUniverseDate(ctx context.Context) (time.Time, error) {
	return f.latest, nil
}

func (f *fakeStore) UniverseSnapshot(ctx context.Context) (time.Time, []domain.UniverseStock, error) {
	return f.latest, []domain.UniverseStock{
		{Stock: "005930", Market: domain.MarketKOSPI, MarketCap: 4e14},
		{Stock: "000660", Market: domain.MarketKOSPI, MarketCap: 1e14},
		{Stock: "035720", Market: domain.MarketKOSDAQ, MarketCap: 2e13},
	}, nil
}

type fakeSessions struct{ rows map[string]persistence.Session }

func (f *fakeSessions) Create(ctx context.Context, s persistence.Session) error   { return nil }
func (f *fakeSessions) Complete(ctx context.Context, r persistence.Result) error  { return nil }
func (f *fakeSessions) Fail(ctx context.Context, id, code string) error           { return nil }
func (f *fakeSessions) Get(ctx context.Context, id string) (*persistence.Session, error) {
	s, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func validStrategyBody(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(domain.Strategy{
		BuyConditions:  []domain.Condition{{ID: "A", Factor: "PER", Operator: "<", Value: 10.0}},
		StartDate:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC),
		InitialCapital: 1_000_000,
		Rebalance:      domain.RebalanceDaily,
		MaxPositions:   5,
		Sizing:         domain.SizingEqualWeight,
	})
	require.NoError(t, err)
	return raw
}

func testServer(runner BacktestRunner, hub *stream.Hub, sessions persistence.SessionRepo) *Server {
	api := NewAPI(runner, &fakeStore{latest: time.Date(2024, 8, 23, 0, 0, 0, 0, time.UTC)},
		sessions, hub, zerolog.Nop())
	return NewServer(DefaultServerConfig(), api, zerolog.Nop())
}

func TestCreateBacktestAccepted(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(validStrategyBody(t)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["backtest_id"])
}

func TestCreateBacktestRejectsInvalidStrategy(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	req := httptest.NewRequest("POST", "/api/v1/backtests",
		bytes.NewReader([]byte(`{"initial_capital": -1}`)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION", body["code"])
}

func TestCancelRunningBacktest(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	runner := &fakeRunner{hub: hub, block: true, cancelled: make(chan struct{})}
	srv := testServer(runner, hub, nil)

	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(validStrategyBody(t)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id := body["backtest_id"]

	del := httptest.NewRequest("DELETE", "/api/v1/backtests/"+id, nil)
	delRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(delRec, del)
	require.Equal(t, http.StatusAccepted, delRec.Code)

	select {
	case <-runner.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not observe cancellation")
	}
}

func TestCancelUnknownBacktest(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	req := httptest.NewRequest("DELETE", "/api/v1/backtests/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBacktestSession(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	sessions := &fakeSessions{rows: map[string]persistence.Session{
		"bt-1": {ID: "bt-1", Status: "completed"},
	}}
	srv := testServer(&fakeRunner{hub: hub}, hub, sessions)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests/bt-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"completed"`)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/backtests/bt-2", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEStreamDeliversStickyTerminal(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	// Run to completion first; the stream must still deliver the terminal.
	req := httptest.NewRequest("POST", "/api/v1/backtests", bytes.NewReader(validStrategyBody(t)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id := body["backtest_id"]

	require.Eventually(t, func() bool {
		sseRec := httptest.NewRecorder()
		srv.Router().ServeHTTP(sseRec,
			httptest.NewRequest("GET", "/api/v1/backtests/"+id+"/events", nil))
		return bytes.Contains(sseRec.Body.Bytes(), []byte("event: completed"))
	}, 2*time.Second, 50*time.Millisecond)
}

func TestFactorCatalogueEndpoint(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/factors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PER"`)
	assert.Contains(t, rec.Body.String(), `"RSI_14"`)
}

func TestUniversesEndpoint(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/universes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TradeDate string            `json:"trade_date"`
		Universes []domain.Universe `json:"universes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2024-08-23", body.TradeDate)
	require.Len(t, body.Universes, 8)
	assert.Equal(t, domain.KOSPIMega, body.Universes[0].ID)
	assert.Equal(t, domain.MarketKOSPI, body.Universes[0].Market)
	assert.Equal(t, 2, body.Universes[0].StockCount)
	assert.Equal(t, 1e14, body.Universes[0].MinCap)
	assert.Equal(t, 4e14, body.Universes[0].MaxCap)
	assert.Equal(t, domain.KOSDAQMega, body.Universes[4].ID)
	assert.Equal(t, 1, body.Universes[4].StockCount)
}

func TestHealthEndpoint(t *testing.T) {
	hub := stream.NewHub(zerolog.Nop())
	srv := testServer(&fakeRunner{hub: hub}, hub, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
