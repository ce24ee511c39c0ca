package mayasync

import "time"

// Window is one bounded time range handed to an operation executor,
// covering [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// WindowOrder controls the emission order of sliced sub-windows.
type WindowOrder int

const (
	OldestFirst WindowOrder = iota
	NewestFirst
)

// WindowPolicy holds the planner tunables for one operation kind.
type WindowPolicy struct {
	// Overlap re-examines a trailing slice of the last successful window to
	// catch records that became visible late upstream.
	Overlap time.Duration
	// SafetyDelay keeps the window end away from "now" so we never query for
	// records the provider has not finished indexing.
	SafetyDelay time.Duration
	// Bootstrap is the first-run default lookback when no prior success exists.
	Bootstrap time.Duration
	// MaxWindow caps the total range of one job.
	MaxWindow time.Duration
	// RequestCeiling is the provider's hard per-request range limit. Zero
	// means the provider accepts the full range in one request.
	RequestCeiling time.Duration
	Order          WindowOrder
}

const minWindow = 5 * time.Minute

// PlanWindow computes the legal overall range for a range-bounded upstream
// query. Pure function: no clock access, no I/O.
func PlanWindow(lastSuccessAt *time.Time, now time.Time, p WindowPolicy) Window {
	end := now.Add(-p.SafetyDelay)

	var start time.Time
	if lastSuccessAt != nil {
		start = lastSuccessAt.Add(-p.Overlap)
	} else {
		start = now.Add(-p.Bootstrap)
	}

	if p.MaxWindow > 0 && end.Sub(start) > p.MaxWindow {
		start = end.Add(-p.MaxWindow)
	}

	if !start.Before(end) {
		floor := minWindow
		if p.MaxWindow > 0 && p.MaxWindow < floor {
			floor = p.MaxWindow
		}
		start = end.Add(-floor)
	}

	return Window{Start: start, End: end}
}

// SliceWindow splits w into contiguous sub-windows each no longer than
// ceiling, covering [w.Start, w.End) exactly with no gaps or overlaps.
// A non-positive ceiling returns the window unsliced.
func SliceWindow(w Window, ceiling time.Duration, order WindowOrder) []Window {
	if ceiling <= 0 || w.Duration() <= ceiling {
		return []Window{w}
	}

	var out []Window
	for cursor := w.Start; cursor.Before(w.End); {
		next := cursor.Add(ceiling)
		if next.After(w.End) {
			next = w.End
		}
		out = append(out, Window{Start: cursor, End: next})
		cursor = next
	}

	if order == NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// PlanWindows is the full planner: overall range, then ceiling slicing.
func PlanWindows(lastSuccessAt *time.Time, now time.Time, p WindowPolicy) []Window {
	return SliceWindow(PlanWindow(lastSuccessAt, now, p), p.RequestCeiling, p.Order)
}
