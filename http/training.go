package http

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"outbreakcast/db"
	"outbreakcast/monitoring"
	"outbreakcast/outbreak"
)

var (
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrNoHistorySource    = errors.New("no case history source configured")
)

// EventPublisher receives training lifecycle events. *monitoring.WebSocketHub
// satisfies it.
type EventPublisher interface {
	Publish(msgType monitoring.MessageType, data any) error
}

// TrainingRecorder persists per-country results. *db.Store satisfies it.
type TrainingRecorder interface {
	RecordTraining(ctx context.Context, rec db.TrainingRecord) error
}

type RunnerConfig struct {
	Trainer outbreak.TrainerConfig
	// InvalidateAfterRun purges the predictor cache once a batch has trained
	// at least one model.
	InvalidateAfterRun bool
}

type TrainingRunner struct {
	source    outbreak.HistorySource
	store     outbreak.ModelStore
	predictor *outbreak.Predictor
	publisher EventPublisher
	recorder  TrainingRecorder
	config    RunnerConfig
	logger    *zap.Logger

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	last    *outbreak.BatchReport
	lastErr error

	cron *cron.Cron
}

type runStatus struct {
	Running bool                  `json:"running"`
	Report  *outbreak.BatchReport `json:"report,omitempty"`
	Counts  map[string]int        `json:"counts,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// NewTrainingRunner wires a trainer for use by the API and the scheduler.
// source may be nil, in which case every run fails with ErrNoHistorySource.
// publisher, recorder and predictor are optional.
func NewTrainingRunner(source outbreak.HistorySource, store outbreak.ModelStore, predictor *outbreak.Predictor,
	config RunnerConfig, logger *zap.Logger) *TrainingRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TrainingRunner{
		source:    source,
		store:     store,
		predictor: predictor,
		config:    config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (r *TrainingRunner) SetPublisher(p EventPublisher) {
	r.publisher = p
}

func (r *TrainingRunner) SetRecorder(rec TrainingRecorder) {
	r.recorder = rec
}

func (r *TrainingRunner) Available() bool {
	return r.source != nil
}

func (r *TrainingRunner) Running() bool {
	return r.running.Load()
}

// Start launches a batch in the background and returns immediately.
func (r *TrainingRunner) Start(trigger string) error {
	if r.source == nil {
		return ErrNoHistorySource
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrTrainingInProgress
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		r.execute(r.ctx, trigger)
	}()
	return nil
}

// Run executes a batch synchronously.
func (r *TrainingRunner) Run(ctx context.Context, trigger string) (*outbreak.BatchReport, error) {
	if r.source == nil {
		return nil, ErrNoHistorySource
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer r.running.Store(false)
	return r.execute(ctx, trigger)
}

func (r *TrainingRunner) execute(ctx context.Context, trigger string) (*outbreak.BatchReport, error) {
	r.publish(monitoring.TrainingStarted, map[string]string{"trigger": trigger})

	trainer := outbreak.NewTrainer(r.source, r.store, r.config.Trainer, r.logger)
	trainer.SetProgress(func(res outbreak.CountryResult) {
		r.publish(monitoring.TrainingProgress, res)
		r.record(ctx, res)
	})

	report, err := trainer.Run(ctx)

	r.mu.Lock()
	r.last = report
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("training batch failed", zap.String("trigger", trigger), zap.Error(err))
		r.publish(monitoring.TrainingFailed, map[string]string{
			"run_id": report.RunID,
			"error":  err.Error(),
		})
		return report, err
	}

	r.publish(monitoring.TrainingFinished, map[string]any{
		"run_id": report.RunID,
		"counts": report.Counts(),
	})

	if r.config.InvalidateAfterRun && r.predictor != nil && report.Count(outbreak.OutcomeTrained) > 0 {
		r.predictor.InvalidateAll()
		r.publish(monitoring.CacheInvalidated, map[string]string{"scope": "all", "reason": "training"})
	}
	return report, nil
}

func (r *TrainingRunner) record(ctx context.Context, res outbreak.CountryResult) {
	if r.recorder == nil {
		return
	}
	rec := db.TrainingRecord{
		RunID:     res.RunID,
		Country:   res.Country,
		Outcome:   string(res.Outcome),
		RowsUsed:  res.Rows,
		Message:   res.Message,
		TrainedAt: time.Now().UTC(),
	}
	if err := r.recorder.RecordTraining(ctx, rec); err != nil {
		r.logger.Warn("failed to record training result", zap.String("country", res.Country), zap.Error(err))
	}
}

func (r *TrainingRunner) publish(msgType monitoring.MessageType, data any) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(msgType, data); err != nil {
		r.logger.Warn("failed to publish training event", zap.String("type", string(msgType)), zap.Error(err))
	}
}

// Last returns the most recent batch report, or nil before the first run.
func (r *TrainingRunner) Last() (*outbreak.BatchReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.lastErr
}

func (r *TrainingRunner) status() runStatus {
	report, err := r.Last()
	st := runStatus{Running: r.Running(), Report: report}
	if report != nil {
		st.Counts = make(map[string]int)
		for outcome, n := range report.Counts() {
			st.Counts[string(outcome)] = n
		}
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

// Schedule runs a batch on the given five-field cron expression. A tick that
// fires while a batch is still running is skipped.
func (r *TrainingRunner) Schedule(spec string) error {
	if r.source == nil {
		return ErrNoHistorySource
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if _, err := r.Run(r.ctx, "schedule"); err != nil {
			if errors.Is(err, ErrTrainingInProgress) {
				r.logger.Info("scheduled training skipped, batch already running")
				return
			}
			r.logger.Error("scheduled training failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c
	r.logger.Info("training scheduled", zap.String("schedule", spec))
	return nil
}

// Stop cancels any running batch and waits for background work to end.
func (r *TrainingRunner) Stop() {
	r.cancel()
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	r.wg.Wait()
}
