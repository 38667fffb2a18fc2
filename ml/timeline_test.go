package ml

import (
	"testing"
	"time"
)

func TestTimelineOrdersByDate(t *testing.T) {
	tl := NewTimeline()
	day := func(d int) time.Time { return time.Date(2020, 3, d, 0, 0, 0, 0, time.UTC) }
	tl.Add(day(3), 30)
	tl.Add(day(1), 10)
	tl.Add(day(2), 20)
	tl.Add(day(2), 25)

	if tl.Len() != 3 {
		t.Fatalf("expected 3 observations, got %d", tl.Len())
	}
	got := tl.CumulativeCases()
	want := []float64{10, 25, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTimelineFromMap(t *testing.T) {
	tl, err := TimelineFromMap(map[string]float64{
		"1/23/20":    5,
		"1/22/20":    1,
		"2020-01-24": 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obs := tl.Observations()
	if len(obs) != 3 {
		t.Fatalf("expected 3 observations, got %d", len(obs))
	}
	if obs[0].Date.Format(DateLayout) != "2020-01-22" || obs[2].Cases != 9 {
		t.Fatalf("unexpected order: %+v", obs)
	}

	if _, err := TimelineFromMap(map[string]float64{"yesterday": 1}); err == nil {
		t.Fatal("expected error for bad date")
	}
}

func TestParseDate(t *testing.T) {
	for _, raw := range []string{"1/22/20", "1/22/2020", "2020-01-22", "2020-01-22T00:00:00Z"} {
		parsed, err := ParseDate(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if parsed.Format(DateLayout) != "2020-01-22" {
			t.Fatalf("%s: got %s", raw, parsed.Format(DateLayout))
		}
	}
}

func TestNilTimelineIsEmpty(t *testing.T) {
	var tl *Timeline
	if tl.Len() != 0 {
		t.Fatal("expected empty nil timeline")
	}
}
