package mayasync

import (
	"testing"
	"time"
)

func testPolicy() WindowPolicy {
	return WindowPolicy{
		Overlap:        30 * time.Minute,
		SafetyDelay:    5 * time.Minute,
		Bootstrap:      7 * 24 * time.Hour,
		MaxWindow:      90 * 24 * time.Hour,
		RequestCeiling: 14 * 24 * time.Hour,
		Order:          OldestFirst,
	}
}

func TestPlanWindow_FirstRunUsesBootstrap(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := testPolicy()

	w := PlanWindow(nil, now, p)

	wantStart := now.Add(-p.Bootstrap)
	wantEnd := now.Add(-p.SafetyDelay)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", w.End, wantEnd)
	}
}

func TestPlanWindow_OverlapRewindsFromLastSuccess(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)
	p := testPolicy()

	w := PlanWindow(&last, now, p)

	wantStart := last.Add(-p.Overlap)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("start = %v, want %v", w.Start, wantStart)
	}
	if !w.End.Equal(now.Add(-p.SafetyDelay)) {
		t.Fatalf("end = %v, want %v", w.End, now.Add(-p.SafetyDelay))
	}
}

func TestPlanWindow_ClampsToMaxWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-365 * 24 * time.Hour)
	p := testPolicy()

	w := PlanWindow(&last, now, p)

	if w.Duration() != p.MaxWindow {
		t.Fatalf("duration = %v, want clamp to %v", w.Duration(), p.MaxWindow)
	}
	if !w.End.Equal(now.Add(-p.SafetyDelay)) {
		t.Fatalf("clamp must keep the end, moved to %v", w.End)
	}
}

func TestPlanWindow_RecentSuccessStillYieldsMinimumWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := testPolicy()
	p.Overlap = 0
	// Last success after the safety-delayed end: inverted range without the floor.
	last := now.Add(-time.Minute)

	w := PlanWindow(&last, now, p)

	if !w.Start.Before(w.End) {
		t.Fatalf("window inverted: start %v, end %v", w.Start, w.End)
	}
	if w.Duration() != minWindow {
		t.Fatalf("duration = %v, want floor %v", w.Duration(), minWindow)
	}
}

func TestSliceWindow_CoversRangeWithNoGaps(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(31 * 24 * time.Hour)}
	ceiling := 14 * 24 * time.Hour

	slices := SliceWindow(w, ceiling, OldestFirst)

	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}
	if !slices[0].Start.Equal(w.Start) {
		t.Fatalf("first slice starts at %v, want %v", slices[0].Start, w.Start)
	}
	if !slices[len(slices)-1].End.Equal(w.End) {
		t.Fatalf("last slice ends at %v, want %v", slices[len(slices)-1].End, w.End)
	}
	for i := 1; i < len(slices); i++ {
		if !slices[i].Start.Equal(slices[i-1].End) {
			t.Fatalf("gap between slice %d and %d: %v vs %v", i-1, i, slices[i-1].End, slices[i].Start)
		}
	}
	for i, s := range slices {
		if s.Duration() > ceiling {
			t.Fatalf("slice %d duration %v exceeds ceiling %v", i, s.Duration(), ceiling)
		}
	}
}

func TestSliceWindow_NewestFirstReversesOrder(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(30 * 24 * time.Hour)}

	slices := SliceWindow(w, 14*24*time.Hour, NewestFirst)

	if len(slices) != 3 {
		t.Fatalf("got %d slices, want 3", len(slices))
	}
	if !slices[0].End.Equal(w.End) {
		t.Fatalf("newest-first must emit the newest slice first, got end %v", slices[0].End)
	}
	for i := 1; i < len(slices); i++ {
		if !slices[i].End.Equal(slices[i-1].Start) {
			t.Fatalf("slices out of order at %d", i)
		}
	}
}

func TestSliceWindow_ZeroCeilingReturnsWholeWindow(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(100 * 24 * time.Hour)}

	slices := SliceWindow(w, 0, OldestFirst)

	if len(slices) != 1 || slices[0] != w {
		t.Fatalf("got %v, want the unsliced window", slices)
	}
}

func TestPlanWindows_BootstrapFitsInOneRequest(t *testing.T) {
	// A 7-day bootstrap against a 14-day provider ceiling needs exactly one
	// upstream request.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := testPolicy()

	windows := PlanWindows(nil, now, p)

	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	if !windows[0].Start.Equal(now.Add(-p.Bootstrap)) || !windows[0].End.Equal(now.Add(-p.SafetyDelay)) {
		t.Fatalf("window = %+v", windows[0])
	}
}

func TestPlanWindows_LongGapSlicesAgainstCeiling(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-60 * 24 * time.Hour)
	p := testPolicy()

	windows := PlanWindows(&last, now, p)

	if len(windows) < 4 {
		t.Fatalf("60-day backlog against a 14-day ceiling needs at least 5 requests, got %d", len(windows))
	}
	if !windows[0].Start.Equal(last.Add(-p.Overlap)) {
		t.Fatalf("oldest slice must start at the overlap rewind, got %v", windows[0].Start)
	}
}
