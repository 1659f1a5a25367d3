// Package timeline computes the schedule window a parent task derives from its
// direct children.
package timeline

import "time"

const dateLayout = "2006-01-02"

// Window is an optional [Start, End] pair. Either bound may be nil.
type Window struct {
	Start *time.Time `json:"startDate"`
	End   *time.Time `json:"endDate"`
}

// Rollup returns the window a parent derives from its children: the earliest
// non-nil start and the latest non-nil end. With no bounds at all the result
// is the empty window.
func Rollup(children []Window) Window {
	var out Window
	for _, c := range children {
		if c.Start != nil && (out.Start == nil || c.Start.Before(*out.Start)) {
			s := *c.Start
			out.Start = &s
		}
		if c.End != nil && (out.End == nil || c.End.After(*out.End)) {
			e := *c.End
			out.End = &e
		}
	}
	return out
}

// Valid reports whether Start <= End when both are present.
func (w Window) Valid() bool {
	if w.Start == nil || w.End == nil {
		return true
	}
	return !w.Start.After(*w.End)
}

// Equal compares both bounds by instant, treating nil as its own value.
func (w Window) Equal(o Window) bool {
	return sameInstant(w.Start, o.Start) && sameInstant(w.End, o.End)
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Start == nil && w.End == nil
}

// Message renders the audit message for a window change.
func Message(w Window) string {
	switch {
	case w.Start != nil && w.End != nil:
		return "Timeline updated: " + format(w.Start) + " to " + format(w.End)
	case w.Start != nil:
		return "Timeline updated: starts " + format(w.Start)
	case w.End != nil:
		return "Timeline updated: ends " + format(w.End)
	default:
		return "Timeline cleared"
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func format(t *time.Time) string {
	return t.UTC().Format(dateLayout)
}
