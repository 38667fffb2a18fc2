package outbreak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"outbreakcast/ml"
	"outbreakcast/monitoring"
)

// HistorySource supplies cumulative case histories for training.
type HistorySource interface {
	Countries(ctx context.Context) ([]string, error)
	// CaseTimeline may return a nil timeline for a country with no rows.
	CaseTimeline(ctx context.Context, country string) (*ml.Timeline, error)
}

type TrainOutcome string

const (
	OutcomeTrained             TrainOutcome = "trained"
	OutcomeInsufficientHistory TrainOutcome = "skipped_insufficient_history"
	OutcomeEmpty               TrainOutcome = "skipped_empty"
	OutcomeSingleClass         TrainOutcome = "skipped_single_class"
	OutcomeFailed              TrainOutcome = "failed"
)

// Skipped reports whether the country was passed over for lack of usable
// data rather than because something broke.
func (o TrainOutcome) Skipped() bool {
	switch o {
	case OutcomeInsufficientHistory, OutcomeEmpty, OutcomeSingleClass:
		return true
	}
	return false
}

type CountryResult struct {
	RunID    string        `json:"run_id"`
	Country  string        `json:"country"`
	Outcome  TrainOutcome  `json:"outcome"`
	Points   int           `json:"points"`
	Rows     int           `json:"rows"`
	Classes  int           `json:"classes"`
	Path     string        `json:"path,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Message  string        `json:"message,omitempty"`
}

type BatchReport struct {
	RunID    string          `json:"run_id"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Results  []CountryResult `json:"results"`
}

// Count returns how many countries ended with outcome.
func (r *BatchReport) Count(outcome TrainOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

func (r *BatchReport) Counts() map[TrainOutcome]int {
	counts := make(map[TrainOutcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// ProgressFunc is called once per country, in training order.
type ProgressFunc func(CountryResult)

type TrainerConfig struct {
	MinObservations int             `yaml:"min_observations"`
	Forest          ml.ForestConfig `yaml:"forest"`
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		MinObservations: ml.DefaultMinObservations,
		Forest:          ml.DefaultForestConfig(),
	}
}

// Trainer builds and persists one forest per country. It never touches a
// running predictor's cache.
type Trainer struct {
	source       HistorySource
	store        ModelStore
	config       TrainerConfig
	preprocessor *ml.DataPreprocessor
	progress     ProgressFunc
	logger       *zap.Logger
}

func NewTrainer(source HistorySource, store ModelStore, config TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		source:       source,
		store:        store,
		config:       config,
		preprocessor: &ml.DataPreprocessor{MinObservations: config.MinObservations},
		logger:       logger,
	}
}

func (t *Trainer) SetProgress(fn ProgressFunc) {
	t.progress = fn
}

// Run trains every country the source knows about. Per-country failures are
// recorded in the report and do not stop the batch; a failure to enumerate
// countries or a cancelled context does.
func (t *Trainer) Run(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	defer func() {
		report.Finished = time.Now()
		monitoring.TrainingBatchDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	}()

	countries, err := t.source.Countries(ctx)
	if err != nil {
		return report, fmt.Errorf("list countries: %w", err)
	}
	t.logger.Info("training batch started",
		zap.String("run_id", report.RunID), zap.Int("countries", len(countries)))

	for _, country := range countries {
		if err := ctx.Err(); err != nil {
			t.logger.Warn("training batch cancelled",
				zap.String("run_id", report.RunID), zap.Int("done", len(report.Results)))
			return report, err
		}

		result := t.TrainCountry(ctx, country)
		result.RunID = report.RunID
		report.Results = append(report.Results, result)
		monitoring.TrainingOutcomesTotal.WithLabelValues(string(result.Outcome)).Inc()
		if t.progress != nil {
			t.progress(result)
		}
	}

	t.logger.Info("training batch finished",
		zap.String("run_id", report.RunID),
		zap.Int("trained", report.Count(OutcomeTrained)),
		zap.Int("failed", report.Count(OutcomeFailed)),
		zap.Int("skipped", len(report.Results)-report.Count(OutcomeTrained)-report.Count(OutcomeFailed)))
	return report, nil
}

// TrainCountry runs the full pipeline for one country. It never panics and
// never returns an error directly; everything is folded into the result.
func (t *Trainer) TrainCountry(ctx context.Context, country string) (result CountryResult) {
	start := time.Now()
	result = CountryResult{Country: country}
	logger := t.logger.With(zap.String("country", country))

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("panic: %v", r)
		}
		result.Duration = time.Since(start)
		if result.Err != nil {
			result.Message = result.Err.Error()
		}
		switch {
		case result.Outcome == OutcomeFailed:
			logger.Error("training failed", zap.Error(result.Err))
		case result.Outcome.Skipped():
			logger.Info("training skipped", zap.String("outcome", string(result.Outcome)), zap.Error(result.Err))
		default:
			logger.Info("model trained", zap.Int("rows", result.Rows), zap.String("path", result.Path))
		}
	}()

	timeline, err := t.source.CaseTimeline(ctx, country)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("load history: %w", err)
		return result
	}
	result.Points = timeline.Len()

	set, err := t.preprocessor.Prepare(timeline)
	result.Rows = set.Len()
	result.Classes = set.Classes()
	switch {
	case errors.Is(err, ml.ErrInsufficientHistory):
		result.Outcome = OutcomeInsufficientHistory
		result.Err = err
		return result
	case errors.Is(err, ml.ErrEmptyTrainingSet):
		result.Outcome = OutcomeEmpty
		result.Err = err
		return result
	case errors.Is(err, ml.ErrSingleClass):
		result.Outcome = OutcomeSingleClass
		result.Err = err
		return result
	case err != nil:
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	forest := ml.NewRandomForest(t.config.Forest)
	if err := forest.Train(set.Features, set.Labels); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("train forest: %w", err)
		return result
	}
	if err := t.store.Save(country, forest); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("save model: %w", err)
		return result
	}

	result.Outcome = OutcomeTrained
	result.Path = ModelFilename(country)
	return result
}
