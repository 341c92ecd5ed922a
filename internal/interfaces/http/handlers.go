package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/dataload"
	"github.com/crucial-sub/stocklab/internal/domain"
	"github.com/crucial-sub/stocklab/internal/errs"
	"github.com/crucial-sub/stocklab/internal/factors"
	"github.com/crucial-sub/stocklab/internal/persistence"
	"github.com/crucial-sub/stocklab/internal/stream"
)

// BacktestRunner is the engine surface the API depends on.
type BacktestRunner interface {
	Run(ctx context.Context, id string, strat *domain.Strategy) (*persistence.Result, error)
}

// API implements the JSON handlers. Submitted backtests run asynchronously;
// the id returned at submission keys the progress stream and the stored
// session.
type API struct {
	runner   BacktestRunner
	store    dataload.Store
	sessions persistence.SessionRepo
	hub      *stream.Hub
	log      zerolog.Logger

	sse func(w http.ResponseWriter, r *http.Request, id string)
	ws  func(w http.ResponseWriter, r *http.Request, id string)

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewAPI wires the handlers. sessions may be nil when persistence is off.
func NewAPI(runner BacktestRunner, store dataload.Store, sessions persistence.SessionRepo,
	hub *stream.Hub, log zerolog.Logger) *API {
	return &API{
		runner:   runner,
		store:    store,
		sessions: sessions,
		hub:      hub,
		log:      log.With().Str("component", "api").Logger(),
		sse:      stream.SSEHandler(hub, log),
		ws:       stream.WSHandler(hub, log),
		running:  make(map[string]context.CancelFunc),
	}
}

// CreateBacktest validates the strategy, launches the run in the background
// and returns the id immediately.
func (a *API) CreateBacktest(w http.ResponseWriter, r *http.Request) {
	var strat domain.Strategy
	if err := json.NewDecoder(r.Body).Decode(&strat); err != nil {
		writeError(w, errs.Validation("invalid request body: %v", err))
		return
	}
	if err := strat.Validate(); err != nil {
		writeError(w, err)
		return
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.running[id] = cancel
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.running, id)
			a.mu.Unlock()
			cancel()
		}()
		if _, err := a.runner.Run(ctx, id, &strat); err != nil {
			a.log.Error().Err(err).Str("backtest_id", id).Msg("backtest run ended with error")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"backtest_id": id})
}

// CancelBacktest cancels a running backtest. Finished runs are gone from the
// registry and answer 404.
func (a *API) CancelBacktest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a.mu.Lock()
	cancel, ok := a.running[id]
	a.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "backtest not running"})
		return
	}
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"backtest_id": id, "status": "cancelling"})
}

// GetBacktest returns the stored session row.
func (a *API) GetBacktest(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "persistence disabled"})
		return
	}
	id := mux.Vars(r)["id"]
	session, err := a.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown backtest id"})
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// StreamEvents serves the SSE progress stream for one backtest.
func (a *API) StreamEvents(w http.ResponseWriter, r *http.Request) {
	a.sse(w, r, mux.Vars(r)["id"])
}

// StreamWS serves the websocket progress stream for one backtest.
func (a *API) StreamWS(w http.ResponseWriter, r *http.Request) {
	a.ws(w, r, mux.Vars(r)["id"])
}

// Factors returns the factor catalogue.
func (a *API) Factors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"factors": factors.Catalog()})
}

// Universes returns the market-cap bucket summaries as of the latest fully
// populated trade date.
func (a *API) Universes(w http.ResponseWriter, r *http.Request) {
	date, snapshot, err := a.store.UniverseSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trade_date": date.Format("2006-01-02"),
		"universes":  domain.BuildUniverses(snapshot),
	})
}

// Health answers liveness probes.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindDataUnavailable:
		status = http.StatusUnprocessableEntity
	case errs.KindCancelled:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{
		"code":  errs.KindOf(err).Code(),
		"error": err.Error(),
	})
}
