// Package pipeline imports cumulative case histories into the case store.
package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"outbreakcast/ml"
	"outbreakcast/monitoring"
)

// CasePoint is one cumulative case count for a country on a day.
type CasePoint struct {
	Country string    `json:"country"`
	Date    time.Time `json:"date"`
	Cases   float64   `json:"cases"`
}

func (p *CasePoint) DateString() string {
	if p.Date.IsZero() {
		return ""
	}
	return p.Date.Format(ml.DateLayout)
}

// CountryHistory is one country document of a historical case feed:
//
//	{"country": "Vietnam", "timeline": {"cases": {"1/22/20": 0, ...}}}
type CountryHistory struct {
	Country  string   `json:"country"`
	Province []string `json:"province,omitempty"`
	Timeline struct {
		Cases map[string]float64 `json:"cases"`
	} `json:"timeline"`
}

// CaseStorage persists clean observations for one country.
type CaseStorage interface {
	UpsertCases(ctx context.Context, country string, observations []ml.Observation) (int, error)
}

type IngestionStats struct {
	TotalPoints   int64            `json:"total_points"`
	StoredPoints  int64            `json:"stored_points"`
	FailedPoints  int64            `json:"failed_points"`
	Batches       int64            `json:"batches"`
	LastIngestion time.Time        `json:"last_ingestion"`
	Countries     map[string]int64 `json:"countries"`
}

// IngestResult summarises one Ingest call.
type IngestResult struct {
	Countries int            `json:"countries"`
	Stored    int            `json:"stored"`
	Rejected  int            `json:"rejected"`
	Issues    []QualityIssue `json:"issues,omitempty"`
}

type DataIngester struct {
	storage CaseStorage
	cleaner *DataCleaner
	logger  *zap.Logger

	stats     IngestionStats
	statsLock sync.RWMutex
}

func NewDataIngester(storage CaseStorage, cleaner *DataCleaner, logger *zap.Logger) *DataIngester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cleaner == nil {
		cleaner = NewDataCleaner(logger)
	}
	return &DataIngester{
		storage: storage,
		cleaner: cleaner,
		logger:  logger,
		stats: IngestionStats{
			Countries: make(map[string]int64),
		},
	}
}

// Ingest reads a JSON array of country histories, or a single one, cleans
// every point and upserts what survives. Bad points become issues in the
// result; only malformed JSON or a storage failure aborts the import.
func (di *DataIngester) Ingest(ctx context.Context, r io.Reader) (IngestResult, error) {
	histories, err := DecodeHistories(r)
	if err != nil {
		return IngestResult{}, err
	}

	var points []*CasePoint
	var issues []QualityIssue
	for _, h := range histories {
		converted, bad := h.Points()
		points = append(points, converted...)
		issues = append(issues, bad...)
	}
	for _, issue := range issues {
		di.cleaner.RecordIssue(issue)
	}

	result, err := di.IngestPoints(ctx, points)
	result.Rejected += len(issues)
	result.Issues = append(issues, result.Issues...)
	return result, err
}

// IngestPoints cleans and stores points that are already decoded.
func (di *DataIngester) IngestPoints(ctx context.Context, points []*CasePoint) (IngestResult, error) {
	cleaned, issues := di.cleaner.Clean(points)
	result := IngestResult{
		Rejected: len(issues),
		Issues:   issues,
	}
	monitoring.CasePointsIngested.WithLabelValues("rejected").Add(float64(len(issues)))

	grouped := toObservations(cleaned)
	countries := make([]string, 0, len(grouped))
	for country := range grouped {
		countries = append(countries, country)
	}
	sort.Strings(countries)

	for _, country := range countries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		observations := grouped[country]
		n, err := di.storage.UpsertCases(ctx, country, observations)
		di.recordBatch(country, len(observations), n, err)
		if err != nil {
			return result, fmt.Errorf("store cases for %s: %w", country, err)
		}
		result.Countries++
		result.Stored += n
		monitoring.CasePointsIngested.WithLabelValues("stored").Add(float64(n))
	}

	di.logger.Info("case history ingested",
		zap.Int("countries", result.Countries),
		zap.Int("stored", result.Stored),
		zap.Int("rejected", result.Rejected))
	return result, nil
}

func (di *DataIngester) recordBatch(country string, total, stored int, err error) {
	di.statsLock.Lock()
	defer di.statsLock.Unlock()

	di.stats.TotalPoints += int64(total)
	di.stats.Batches++
	if err != nil {
		di.stats.FailedPoints += int64(total)
		return
	}
	di.stats.StoredPoints += int64(stored)
	di.stats.Countries[country] += int64(stored)
	di.stats.LastIngestion = time.Now()
}

func (di *DataIngester) GetStats() IngestionStats {
	di.statsLock.RLock()
	defer di.statsLock.RUnlock()

	stats := di.stats
	stats.Countries = make(map[string]int64, len(di.stats.Countries))
	for k, v := range di.stats.Countries {
		stats.Countries[k] = v
	}
	return stats
}

func (di *DataIngester) Cleaner() *DataCleaner {
	return di.cleaner
}

// DecodeHistories accepts either a JSON array of country histories or one
// country history object.
func DecodeHistories(r io.Reader) ([]CountryHistory, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty case history document")
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	switch first {
	case '[':
		var histories []CountryHistory
		if err := dec.Decode(&histories); err != nil {
			return nil, fmt.Errorf("decode case histories: %w", err)
		}
		return histories, nil
	case '{':
		var history CountryHistory
		if err := dec.Decode(&history); err != nil {
			return nil, fmt.Errorf("decode case history: %w", err)
		}
		return []CountryHistory{history}, nil
	default:
		return nil, fmt.Errorf("case history must be a JSON object or array, got %q", first)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.ReadByte(); err != nil {
			return 0, err
		}
	}
}

// Points converts the history into case points in date order. Keys that are
// not dates become issues.
func (h CountryHistory) Points() ([]*CasePoint, []QualityIssue) {
	points := make([]*CasePoint, 0, len(h.Timeline.Cases))
	var issues []QualityIssue
	for raw, cases := range h.Timeline.Cases {
		date, err := ml.ParseDate(raw)
		if err != nil {
			issues = append(issues, QualityIssue{
				Type:      "date_parse",
				Severity:  "medium",
				Message:   err.Error(),
				Timestamp: time.Now(),
				Country:   h.Country,
			})
			continue
		}
		points = append(points, &CasePoint{Country: h.Country, Date: date.UTC(), Cases: cases})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, issues
}
