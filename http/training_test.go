package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"outbreakcast/db"
	"outbreakcast/ml"
	"outbreakcast/monitoring"
	"outbreakcast/outbreak"
)

// outbreakTimeline is flat for 40 days, grows 8% a day for 30 days, then
// holds the peak rate, so both label classes appear.
func outbreakTimeline(days int) *ml.Timeline {
	tl := ml.NewTimeline()
	start := time.Date(2020, 1, 22, 0, 0, 0, 0, time.UTC)
	total := 0.0
	for d := 0; d < days; d++ {
		daily := 20.0
		switch {
		case d >= 70:
			daily = 20 * math.Pow(1.08, 30)
		case d >= 40:
			daily = 20 * math.Pow(1.08, float64(d-39))
		}
		total += daily
		tl.Add(start.AddDate(0, 0, d), total)
	}
	return tl
}

type staticSource struct {
	timelines map[string]*ml.Timeline
	order     []string
	err       error
}

func (s *staticSource) Countries(ctx context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *staticSource) CaseTimeline(ctx context.Context, country string) (*ml.Timeline, error) {
	return s.timelines[country], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []monitoring.MessageType
}

func (p *recordingPublisher) Publish(msgType monitoring.MessageType, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, msgType)
	return nil
}

func (p *recordingPublisher) types() []monitoring.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]monitoring.MessageType(nil), p.events...)
}

type memoryRecorder struct {
	mu      sync.Mutex
	records []db.TrainingRecord
}

func (r *memoryRecorder) RecordTraining(ctx context.Context, rec db.TrainingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func newTestSource() *staticSource {
	return &staticSource{
		order: []string{"Vietnam", "Tiny"},
		timelines: map[string]*ml.Timeline{
			"Vietnam": outbreakTimeline(120),
			"Tiny":    outbreakTimeline(10),
		},
	}
}

func TestRunnerRunTrainsRecordsAndPublishes(t *testing.T) {
	store := &mapStore{models: map[string]ml.Classifier{
		"Vietnam": &fakeModel{label: 0, confidence: 0.1},
	}}
	predictor := newTestPredictor(t, store)
	predictor.Lookup("Vietnam")

	publisher := &recordingPublisher{}
	recorder := &memoryRecorder{}
	runner := NewTrainingRunner(newTestSource(), store, predictor, RunnerConfig{
		Trainer:            outbreak.DefaultTrainerConfig(),
		InvalidateAfterRun: true,
	}, nil)
	runner.SetPublisher(publisher)
	runner.SetRecorder(recorder)
	defer runner.Stop()

	report, err := runner.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Count(outbreak.OutcomeTrained) != 1 || report.Count(outbreak.OutcomeInsufficientHistory) != 1 {
		t.Fatalf("unexpected outcomes: %v", report.Counts())
	}
	if _, ok := store.models["Vietnam"].(*ml.RandomForest); !ok {
		t.Fatalf("expected a trained forest, got %T", store.models["Vietnam"])
	}
	if predictor.CachedModels() != 0 {
		t.Fatal("cache should be purged after a run that trained models")
	}

	if len(recorder.records) != 2 || recorder.records[0].RunID != report.RunID {
		t.Fatalf("unexpected training log: %+v", recorder.records)
	}

	want := []monitoring.MessageType{
		monitoring.TrainingStarted,
		monitoring.TrainingProgress,
		monitoring.TrainingProgress,
		monitoring.TrainingFinished,
		monitoring.CacheInvalidated,
	}
	got := publisher.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	last, lastErr := runner.Last()
	if last != report || lastErr != nil {
		t.Fatal("Last should return the finished report")
	}
}

func TestRunnerSourceFailure(t *testing.T) {
	publisher := &recordingPublisher{}
	source := &staticSource{err: errors.New("database unavailable")}
	runner := NewTrainingRunner(source, &mapStore{}, nil, RunnerConfig{Trainer: outbreak.DefaultTrainerConfig()}, nil)
	runner.SetPublisher(publisher)
	defer runner.Stop()

	if _, err := runner.Run(context.Background(), "test"); err == nil {
		t.Fatal("expected error when countries cannot be listed")
	}
	got := publisher.types()
	if len(got) != 2 || got[1] != monitoring.TrainingFailed {
		t.Fatalf("unexpected events: %v", got)
	}
	if st := runner.status(); st.Error == "" {
		t.Fatal("status should carry the last error")
	}
}

func TestRunnerRejectsOverlappingRuns(t *testing.T) {
	predictor := newTestPredictor(t, &mapStore{})
	runner := NewTrainingRunner(newTestSource(), &mapStore{}, predictor, RunnerConfig{}, nil)
	defer runner.Stop()

	runner.running.Store(true)
	if err := runner.Start("test"); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", err)
	}
	if _, err := runner.Run(context.Background(), "test"); !errors.Is(err, ErrTrainingInProgress) {
		t.Fatalf("expected ErrTrainingInProgress, got %v", err)
	}

	mux := newTestMux(NewAPI(predictor, runner, nil, nil))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/train", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	runner.running.Store(false)
}

func TestTrainingRoutes(t *testing.T) {
	store := &mapStore{}
	predictor := newTestPredictor(t, store)
	runner := NewTrainingRunner(newTestSource(), store, predictor, RunnerConfig{Trainer: outbreak.DefaultTrainerConfig()}, nil)
	defer runner.Stop()
	mux := newTestMux(NewAPI(predictor, runner, nil, nil))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/train", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if report, _ := runner.Last(); report != nil && !runner.Running() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("training did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/train", nil))
	payload := decodeBody(t, rr)
	counts, ok := payload["counts"].(map[string]any)
	if !ok || counts["trained"].(float64) != 1 {
		t.Fatalf("unexpected status: %v", payload)
	}
	if payload["running"] != false {
		t.Fatalf("expected idle runner: %v", payload)
	}
}

func TestRunnerSchedule(t *testing.T) {
	runner := NewTrainingRunner(newTestSource(), &mapStore{}, nil, RunnerConfig{}, nil)
	defer runner.Stop()

	if err := runner.Schedule("not a schedule"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if err := runner.Schedule("0 3 * * *"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	idle := NewTrainingRunner(nil, &mapStore{}, nil, RunnerConfig{}, nil)
	if err := idle.Schedule("0 3 * * *"); !errors.Is(err, ErrNoHistorySource) {
		t.Fatalf("expected ErrNoHistorySource, got %v", err)
	}
}
