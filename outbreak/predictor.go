// Package outbreak resolves per-country outbreak classifiers, serves
// predictions with a heuristic fallback, and trains the classifiers in batch.
package outbreak

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"outbreakcast/ml"
	"outbreakcast/monitoring"
)

var ErrInvalidInput = errors.New("invalid input")

const (
	heuristicRatioThreshold    = 1.2
	heuristicBaseProbability   = 0.85
	heuristicRatioWeight       = 0.05
	heuristicMaxProbability    = 0.999
	heuristicNormalProbability = 0.10
	maxReportedPercent         = 99.9
)

type LogicPath string

const (
	PathModel     LogicPath = "model"
	PathHeuristic LogicPath = "heuristic"
)

type LoadStatus int

const (
	StatusLoaded LoadStatus = iota
	StatusAbsent
	StatusCorrupt
)

func (s LoadStatus) String() string {
	switch s {
	case StatusLoaded:
		return "loaded"
	case StatusAbsent:
		return "absent"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// LoadResult tells "no model trained yet" apart from "artifact present but
// unreadable". Model is set only for StatusLoaded.
type LoadResult struct {
	Model  ml.Classifier
	Status LoadStatus
	Err    error
}

type Verdict struct {
	Country     string    `json:"country"`
	Class       int       `json:"prediction_class"`
	Label       string    `json:"prediction_label"`
	Probability string    `json:"probability"`
	Explanation string    `json:"explanation"`
	Path        LogicPath `json:"logic_path"`
	Outbreak    float64   `json:"outbreak_probability"`
	Growth14d   float64   `json:"growth_14d"`
}

type PredictorConfig struct {
	CacheSize int
	Language  string
}

// Predictor owns the per-country model cache. One instance is built at
// startup and shared by all request handlers.
type Predictor struct {
	store    ModelStore
	cache    *ModelCache
	messages *Messages
	logger   *zap.Logger
}

func NewPredictor(store ModelStore, config PredictorConfig, logger *zap.Logger) (*Predictor, error) {
	if store == nil {
		return nil, errors.New("model store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, err := NewModelCache(config.CacheSize)
	if err != nil {
		return nil, err
	}
	messages, err := NewMessages(config.Language)
	if err != nil {
		return nil, err
	}
	return &Predictor{
		store:    store,
		cache:    cache,
		messages: messages,
		logger:   logger,
	}, nil
}

// Lookup returns the cached model for country, loading it from the store on
// first use. Concurrent first loads of one country may both hit the store;
// the last one to finish wins the cache slot.
func (p *Predictor) Lookup(country string) LoadResult {
	key := ModelKey(country)
	if model, ok := p.cache.Get(key); ok {
		monitoring.ModelCacheHits.Inc()
		return LoadResult{Model: model, Status: StatusLoaded}
	}

	model, err := p.store.Load(country)
	switch {
	case err == nil:
		p.cache.Add(key, model)
		monitoring.ModelLoadsTotal.WithLabelValues(StatusLoaded.String()).Inc()
		p.logger.Info("model loaded", zap.String("country", country), zap.String("key", key))
		return LoadResult{Model: model, Status: StatusLoaded}
	case errors.Is(err, ErrModelNotFound):
		monitoring.ModelLoadsTotal.WithLabelValues(StatusAbsent.String()).Inc()
		return LoadResult{Status: StatusAbsent, Err: err}
	default:
		monitoring.ModelLoadsTotal.WithLabelValues(StatusCorrupt.String()).Inc()
		p.logger.Error("model load failed", zap.String("country", country), zap.Error(err))
		return LoadResult{Status: StatusCorrupt, Err: err}
	}
}

// GetModel returns the country's model, or nil when none is usable.
func (p *Predictor) GetModel(country string) ml.Classifier {
	return p.Lookup(country).Model
}

func (p *Predictor) Predict(country string, current, lag7, lag14 float64) (Verdict, error) {
	if err := checkInputs(current, lag7, lag14); err != nil {
		return Verdict{}, err
	}

	features := ml.BuildFeatures(current, lag7, lag14)

	path := PathHeuristic
	class, probability := HeuristicPrediction(current, lag14)
	if model := p.GetModel(country); model != nil {
		modelClass, modelProbability, err := model.Predict(features.Values())
		if err != nil {
			p.logger.Error("model prediction failed, using heuristic",
				zap.String("country", country), zap.Error(err))
		} else {
			path = PathModel
			class, probability = modelClass, modelProbability
		}
	}

	monitoring.PredictionsTotal.WithLabelValues(string(path), strconv.Itoa(class)).Inc()

	logic := p.messages.LogicPath(path, country)
	return Verdict{
		Country:     country,
		Class:       class,
		Label:       p.messages.Label(class),
		Probability: FormatProbability(probability),
		Explanation: p.messages.Explanation(class, logic, features.GrowthRate14d),
		Path:        path,
		Outbreak:    probability,
		Growth14d:   features.GrowthRate14d,
	}, nil
}

// Invalidate drops the cached model for country so the next prediction
// reloads it from the store.
func (p *Predictor) Invalidate(country string) bool {
	removed := p.cache.Remove(ModelKey(country))
	if removed {
		monitoring.ModelCacheInvalidations.WithLabelValues("manual").Inc()
	}
	return removed
}

func (p *Predictor) InvalidateAll() {
	p.cache.Purge()
	monitoring.ModelCacheInvalidations.WithLabelValues("purge").Inc()
}

func (p *Predictor) CachedModels() int {
	return p.cache.Len()
}

// Cache exposes the model cache for invalidation hooks such as ModelWatcher.
func (p *Predictor) Cache() *ModelCache {
	return p.cache
}

// HeuristicPrediction is the rule used when no trained model exists: a
// 14-day ratio above 1.2 predicts an outbreak with a confidence that grows
// with the ratio.
func HeuristicPrediction(current, lag14 float64) (int, float64) {
	ratio := 0.0
	if lag14 > 0 {
		ratio = current / lag14
	}
	if ratio > heuristicRatioThreshold {
		return 1, math.Min(heuristicBaseProbability+ratio*heuristicRatioWeight, heuristicMaxProbability)
	}
	return 0, heuristicNormalProbability
}

// FormatProbability renders a probability as a percentage with one decimal,
// never above 99.9%.
func FormatProbability(probability float64) string {
	percent := math.Min(probability*100, maxReportedPercent)
	if percent < 0 {
		percent = 0
	}
	return fmt.Sprintf("%.1f%%", percent)
}

func checkInputs(values ...float64) error {
	names := []string{"current", "lag7", "lag14"}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrInvalidInput, names[i])
		}
	}
	return nil
}
