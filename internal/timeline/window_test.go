package timeline

import (
	"testing"
	"time"
)

func day(s string) *time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestRollup(t *testing.T) {
	tests := []struct {
		name      string
		children  []Window
		wantStart *time.Time
		wantEnd   *time.Time
	}{
		{name: "no children"},
		{name: "children without bounds", children: []Window{{}, {}}},
		{
			name:      "single child",
			children:  []Window{{Start: day("2026-01-01"), End: day("2026-01-05")}},
			wantStart: day("2026-01-01"),
			wantEnd:   day("2026-01-05"),
		},
		{
			name: "min start max end across children",
			children: []Window{
				{Start: day("2026-01-01"), End: day("2026-01-05")},
				{Start: day("2025-12-20"), End: day("2026-01-02")},
			},
			wantStart: day("2025-12-20"),
			wantEnd:   day("2026-01-05"),
		},
		{
			name: "nulls are excluded per bound",
			children: []Window{
				{Start: day("2026-02-01")},
				{End: day("2026-03-01")},
				{},
			},
			wantStart: day("2026-02-01"),
			wantEnd:   day("2026-03-01"),
		},
		{
			name:     "only end bounds",
			children: []Window{{End: day("2026-01-02")}, {End: day("2026-01-09")}},
			wantEnd:  day("2026-01-09"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rollup(tt.children)
			want := Window{Start: tt.wantStart, End: tt.wantEnd}
			if !got.Equal(want) {
				t.Fatalf("Rollup() = %s, want %s", Message(got), Message(want))
			}
		})
	}
}

func TestRollupDoesNotAliasChildren(t *testing.T) {
	start := day("2026-01-01")
	got := Rollup([]Window{{Start: start}})
	*start = start.Add(48 * time.Hour)
	if got.Start.Equal(*start) {
		t.Fatalf("rollup result shares memory with input")
	}
}

func TestWindowValid(t *testing.T) {
	if !(Window{Start: day("2026-01-01"), End: day("2026-01-01")}).Valid() {
		t.Fatalf("equal bounds should be valid")
	}
	if (Window{Start: day("2026-01-02"), End: day("2026-01-01")}).Valid() {
		t.Fatalf("inverted bounds should be invalid")
	}
	if !(Window{Start: day("2026-01-02")}).Valid() {
		t.Fatalf("open window should be valid")
	}
}

func TestMessageVariants(t *testing.T) {
	cases := map[string]Window{
		"Timeline updated: 2026-01-01 to 2026-01-05": {Start: day("2026-01-01"), End: day("2026-01-05")},
		"Timeline updated: starts 2026-01-01":        {Start: day("2026-01-01")},
		"Timeline updated: ends 2026-01-05":          {End: day("2026-01-05")},
		"Timeline cleared":                           {},
	}
	for want, w := range cases {
		if got := Message(w); got != want {
			t.Errorf("Message() = %q, want %q", got, want)
		}
	}
}
