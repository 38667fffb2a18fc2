package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"outbreakcast/ml"
)

// CleaningRule validates or normalises one case point. A non-nil error
// rejects the point.
type CleaningRule interface {
	Apply(*CasePoint) (*CasePoint, error)
	Name() string
}

type QualityIssue struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"` // low, medium, high
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Country   string    `json:"country"`
	Date      string    `json:"date,omitempty"`
}

// DataCleaner runs every rule over each point and keeps the issues it finds.
type DataCleaner struct {
	rules      []CleaningRule
	issues     []QualityIssue
	issuesLock sync.RWMutex

	stats     CleaningStats
	statsLock sync.RWMutex

	logger *zap.Logger
}

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// NewDataCleaner returns a cleaner with the default case-history rules.
func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		rules:  make([]CleaningRule, 0),
		issues: make([]QualityIssue, 0),
		stats: CleaningStats{
			Issues: make(map[string]int64),
		},
		logger: logger,
	}

	cleaner.AddRule(NewCountryValidationRule())
	cleaner.AddRule(NewCaseCountValidationRule())
	cleaner.AddRule(NewDateValidationRule())
	cleaner.AddRule(NewDuplicateDetectionRule())

	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns the points that passed every rule. Rules run in order and a
// rejected point is not shown to later rules.
func (dc *DataCleaner) Clean(points []*CasePoint) ([]*CasePoint, []QualityIssue) {
	var cleaned []*CasePoint
	var issues []QualityIssue

	dc.statsLock.Lock()
	defer dc.statsLock.Unlock()

	for _, point := range points {
		dc.stats.TotalProcessed++

		original := *point
		var rejection *QualityIssue

		for _, rule := range dc.rules {
			next, err := rule.Apply(point)
			if err != nil {
				rejection = &QualityIssue{
					Type:      rule.Name(),
					Severity:  "high",
					Message:   err.Error(),
					Timestamp: time.Now(),
					Country:   point.Country,
					Date:      point.DateString(),
				}
				dc.stats.Issues[rule.Name()]++
				break
			}
			if next != nil {
				point = next
			}
		}

		if rejection != nil {
			dc.stats.Rejected++
			issues = append(issues, *rejection)
			continue
		}
		if original != *point {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned = append(cleaned, point)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.issuesLock.Lock()
		dc.issues = append(dc.issues, issues...)
		dc.issuesLock.Unlock()
		dc.logger.Warn("case points rejected", zap.Int("rejected", len(issues)), zap.Int("passed", len(cleaned)))
	}

	return cleaned, issues
}

// RecordIssue keeps an issue found outside the rule chain, such as a date
// that could not be parsed at decode time.
func (dc *DataCleaner) RecordIssue(issue QualityIssue) {
	dc.statsLock.Lock()
	dc.stats.TotalProcessed++
	dc.stats.Rejected++
	dc.stats.Issues[issue.Type]++
	dc.statsLock.Unlock()

	dc.issuesLock.Lock()
	dc.issues = append(dc.issues, issue)
	dc.issuesLock.Unlock()
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.statsLock.RLock()
	defer dc.statsLock.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// GetIssues returns the most recent issues, at most limit (all when limit <= 0).
func (dc *DataCleaner) GetIssues(limit int) []QualityIssue {
	dc.issuesLock.RLock()
	defer dc.issuesLock.RUnlock()

	if limit <= 0 || limit > len(dc.issues) {
		limit = len(dc.issues)
	}

	issues := make([]QualityIssue, limit)
	copy(issues, dc.issues[len(dc.issues)-limit:])
	return issues
}

func (dc *DataCleaner) ClearIssues() {
	dc.issuesLock.Lock()
	defer dc.issuesLock.Unlock()

	dc.issues = make([]QualityIssue, 0)
}

// ============ rules ============

// CountryValidationRule trims the country name and rejects empty ones.
type CountryValidationRule struct {
	MaxLength int
}

func NewCountryValidationRule() *CountryValidationRule {
	return &CountryValidationRule{MaxLength: 100}
}

func (r *CountryValidationRule) Name() string {
	return "country_validation"
}

func (r *CountryValidationRule) Apply(point *CasePoint) (*CasePoint, error) {
	name := strings.TrimSpace(point.Country)
	if name == "" {
		return nil, fmt.Errorf("country is empty")
	}
	if len(name) > r.MaxLength {
		return nil, fmt.Errorf("country name longer than %d bytes", r.MaxLength)
	}
	if name == point.Country {
		return point, nil
	}
	corrected := *point
	corrected.Country = name
	return &corrected, nil
}

// CaseCountValidationRule rejects counts that are not finite or fall outside
// [MinCases, MaxCases].
type CaseCountValidationRule struct {
	MinCases float64
	MaxCases float64
}

func NewCaseCountValidationRule() *CaseCountValidationRule {
	return &CaseCountValidationRule{
		MinCases: 0,
		MaxCases: 1e10,
	}
}

func (r *CaseCountValidationRule) Name() string {
	return "case_count_validation"
}

func (r *CaseCountValidationRule) Apply(point *CasePoint) (*CasePoint, error) {
	if math.IsNaN(point.Cases) || math.IsInf(point.Cases, 0) {
		return nil, fmt.Errorf("case count is not a finite number")
	}
	if point.Cases < r.MinCases || point.Cases > r.MaxCases {
		return nil, fmt.Errorf("case count %.0f out of range [%.0f, %.0f]", point.Cases, r.MinCases, r.MaxCases)
	}
	return point, nil
}

// DateValidationRule rejects missing dates and dates too far in the future.
type DateValidationRule struct {
	MaxFuture time.Duration
	now       func() time.Time
}

func NewDateValidationRule() *DateValidationRule {
	return &DateValidationRule{
		MaxFuture: 48 * time.Hour,
		now:       time.Now,
	}
}

func (r *DateValidationRule) Name() string {
	return "date_validation"
}

func (r *DateValidationRule) Apply(point *CasePoint) (*CasePoint, error) {
	if point.Date.IsZero() {
		return nil, fmt.Errorf("date is missing")
	}
	if point.Date.After(r.now().Add(r.MaxFuture)) {
		return nil, fmt.Errorf("date %s is in the future", point.DateString())
	}
	return point, nil
}

// DuplicateDetectionRule rejects a second point for the same country and day.
type DuplicateDetectionRule struct {
	seenMap map[string]struct{}
	mu      sync.Mutex
}

func NewDuplicateDetectionRule() *DuplicateDetectionRule {
	return &DuplicateDetectionRule{
		seenMap: make(map[string]struct{}),
	}
}

func (r *DuplicateDetectionRule) Name() string {
	return "duplicate_detection"
}

func (r *DuplicateDetectionRule) Apply(point *CasePoint) (*CasePoint, error) {
	key := point.Country + "|" + point.DateString()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.seenMap[key]; exists {
		return nil, fmt.Errorf("duplicate case point: %s on %s", point.Country, point.DateString())
	}

	r.seenMap[key] = struct{}{}
	return point, nil
}

// Reset forgets every point seen so far.
func (r *DuplicateDetectionRule) Reset() {
	r.mu.Lock()
	r.seenMap = make(map[string]struct{})
	r.mu.Unlock()
}

// toObservations groups clean points by country.
func toObservations(points []*CasePoint) map[string][]ml.Observation {
	grouped := make(map[string][]ml.Observation)
	for _, p := range points {
		grouped[p.Country] = append(grouped[p.Country], ml.Observation{Date: p.Date, Cases: p.Cases})
	}
	return grouped
}
