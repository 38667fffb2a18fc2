package ml

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/btree"
)

const DateLayout = "2006-01-02"

var dateLayouts = []string{
	"1/2/06",
	"1/2/2006",
	DateLayout,
	time.RFC3339,
}

// Observation is one cumulative case count on a given day.
type Observation struct {
	Date  time.Time
	Cases float64
}

// Timeline keeps cumulative observations ordered by date. Adding a second
// observation for an existing date replaces the first.
type Timeline struct {
	tree *btree.BTreeG[Observation]
}

func NewTimeline() *Timeline {
	return &Timeline{
		tree: btree.NewG(16, func(a, b Observation) bool {
			return a.Date.Before(b.Date)
		}),
	}
}

// TimelineFromMap builds a timeline from a date-keyed series such as the
// "cases" object of a country history document.
func TimelineFromMap(series map[string]float64) (*Timeline, error) {
	t := NewTimeline()
	for raw, cases := range series {
		date, err := ParseDate(raw)
		if err != nil {
			return nil, err
		}
		t.Add(date, cases)
	}
	return t, nil
}

func (t *Timeline) Add(date time.Time, cases float64) {
	y, m, d := date.Date()
	t.tree.ReplaceOrInsert(Observation{
		Date:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Cases: cases,
	})
}

func (t *Timeline) Len() int {
	if t == nil || t.tree == nil {
		return 0
	}
	return t.tree.Len()
}

// Observations returns every observation in chronological order.
func (t *Timeline) Observations() []Observation {
	if t.Len() == 0 {
		return nil
	}
	out := make([]Observation, 0, t.tree.Len())
	t.tree.Ascend(func(o Observation) bool {
		out = append(out, o)
		return true
	})
	return out
}

func (t *Timeline) CumulativeCases() []float64 {
	observations := t.Observations()
	values := make([]float64, len(observations))
	for i, o := range observations {
		values[i] = o.Cases
	}
	return values
}

// ParseDate accepts the date formats seen in case history feeds
// ("1/22/20", "2020-01-22", RFC 3339).
func ParseDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
