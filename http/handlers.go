package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"outbreakcast/monitoring"
	"outbreakcast/outbreak"
)

// API serves predictions, model cache control and training over JSON.
type API struct {
	predictor *outbreak.Predictor
	runner    *TrainingRunner
	hub       *monitoring.WebSocketHub
	logger    *zap.Logger
	started   time.Time
}

// NewAPI builds the handler set. runner and hub may be nil; the matching
// routes then answer 503.
func NewAPI(predictor *outbreak.Predictor, runner *TrainingRunner, hub *monitoring.WebSocketHub, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		predictor: predictor,
		runner:    runner,
		hub:       hub,
		logger:    logger,
		started:   time.Now(),
	}
}

func (a *API) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", a.handleHealth)
	mux.HandleFunc("POST /api/predict", a.handlePredict)

	mux.HandleFunc("GET /api/models/{country}", a.handleModelStatus)
	mux.HandleFunc("DELETE /api/models/{country}", a.handleInvalidateModel)
	mux.HandleFunc("DELETE /api/models", a.handlePurgeModels)

	mux.HandleFunc("POST /api/train", a.handleStartTraining)
	mux.HandleFunc("GET /api/train", a.handleTrainingStatus)
	mux.HandleFunc("GET /api/ws/training", a.handleTrainingStream)

	mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":        "ok",
		"uptime":        time.Since(a.started).Round(time.Second).String(),
		"cached_models": a.predictor.CachedModels(),
	}
	if a.hub != nil {
		resp["ws_clients"] = a.hub.ClientCount()
	}
	if a.runner != nil {
		resp["training"] = a.runner.Running()
	}
	respondJSON(w, http.StatusOK, resp)
}

// predictRequest uses pointers so that a missing field can be told apart
// from an explicit zero.
type predictRequest struct {
	Country    string   `json:"country"`
	CurrentAvg *float64 `json:"current_avg"`
	Lag7d      *float64 `json:"lag_7d"`
	Lag14d     *float64 `json:"lag_14d"`
}

func (req predictRequest) validate() error {
	switch {
	case req.Country == "":
		return errors.New("country is required")
	case req.CurrentAvg == nil:
		return errors.New("current_avg is required")
	case req.Lag7d == nil:
		return errors.New("lag_7d is required")
	case req.Lag14d == nil:
		return errors.New("lag_14d is required")
	}
	return nil
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdict, err := a.predictor.Predict(req.Country, *req.CurrentAvg, *req.Lag7d, *req.Lag14d)
	if err != nil {
		if errors.Is(err, outbreak.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("country", req.Country),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "prediction failed")
		return
	}
	respondJSON(w, http.StatusOK, verdict)
}

type modelStatus struct {
	Country  string `json:"country"`
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

func (a *API) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	res := a.predictor.Lookup(country)

	resp := modelStatus{
		Country:  country,
		Key:      outbreak.ModelKey(country),
		Filename: outbreak.ModelFilename(country),
		Status:   res.Status.String(),
	}
	if res.Status == outbreak.StatusCorrupt && res.Err != nil {
		resp.Error = res.Err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *API) handleInvalidateModel(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("country")
	evicted := a.predictor.Invalidate(country)
	if evicted {
		a.publish(monitoring.CacheInvalidated, map[string]string{"scope": "country", "country": country})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"country": country,
		"evicted": evicted,
	})
}

func (a *API) handlePurgeModels(w http.ResponseWriter, r *http.Request) {
	n := a.predictor.CachedModels()
	a.predictor.InvalidateAll()
	a.publish(monitoring.CacheInvalidated, map[string]string{"scope": "all", "reason": "manual"})
	respondJSON(w, http.StatusOK, map[string]int{"evicted": n})
}

func (a *API) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	if a.runner == nil {
		respondError(w, http.StatusServiceUnavailable, ErrNoHistorySource.Error())
		return
	}
	err := a.runner.Start("api")
	switch {
	case errors.Is(err, ErrNoHistorySource):
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrTrainingInProgress):
		respondError(w, http.StatusConflict, err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (a *API) handleTrainingStatus(w http.ResponseWriter, r *http.Request) {
	if a.runner == nil {
		respondError(w, http.StatusServiceUnavailable, ErrNoHistorySource.Error())
		return
	}
	respondJSON(w, http.StatusOK, a.runner.status())
}

func (a *API) handleTrainingStream(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	a.hub.HandleWebSocket(w, r)
}

func (a *API) publish(msgType monitoring.MessageType, data any) {
	if a.hub == nil {
		return
	}
	if err := a.hub.Publish(msgType, data); err != nil {
		a.logger.Warn("failed to publish event", zap.String("type", string(msgType)), zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
