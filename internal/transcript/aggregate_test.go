package transcript

import (
	"testing"
	"time"

	"transcript-pipeline/internal/domain"
)

func words(offsets map[string]time.Duration, order ...string) []domain.WordToken {
	out := make([]domain.WordToken, 0, len(order))
	for _, w := range order {
		out = append(out, domain.WordToken{Text: w, StartOffset: offsets[w]})
	}
	return out
}

func sec(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// TestAggregateWindows checks grouping at 0, 5, 119, 120 and 241 seconds.
func TestAggregateWindows(t *testing.T) {
	offsets := map[string]time.Duration{
		"alpha": 0, "beta": sec(5), "gamma": sec(119), "delta": sec(120), "eps": sec(241),
	}
	rs := domain.ResultSet{Segments: []domain.Segment{
		{Words: words(offsets, "alpha", "beta")},
		{Words: words(offsets, "gamma", "delta", "eps")},
	}}

	got := Aggregate(rs, 120*time.Second)
	want := "Timestamp: 0:00:00 - 0:02:00\nalpha beta gamma\n\n" +
		"Timestamp: 0:02:00 - 0:04:00\ndelta\n\n" +
		"Timestamp: 0:04:00 - 0:06:00\neps"
	if got != want {
		t.Fatalf("Aggregate() =\n%q\nwant\n%q", got, want)
	}
}

// TestAggregateEmpty checks an empty result set renders nothing.
func TestAggregateEmpty(t *testing.T) {
	if got := Aggregate(domain.ResultSet{}, time.Minute); got != "" {
		t.Fatalf("Aggregate() = %q, want empty", got)
	}
	if got := Aggregate(domain.ResultSet{Segments: []domain.Segment{{Transcript: "x"}}}, time.Minute); got != "" {
		t.Fatalf("Aggregate() with no words = %q, want empty", got)
	}
}

// TestChunksBoundary checks a word at exactly k*chunk lands in window k.
func TestChunksBoundary(t *testing.T) {
	rs := domain.ResultSet{Segments: []domain.Segment{{Words: []domain.WordToken{
		{Text: "edge", StartOffset: 240 * time.Second},
		{Text: "before", StartOffset: 240*time.Second - time.Millisecond},
	}}}}

	chunks := Chunks(rs, 120*time.Second)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Index != 1 || chunks[0].Text() != "before" {
		t.Fatalf("first chunk = %+v", chunks[0])
	}
	if chunks[1].Index != 2 || chunks[1].Text() != "edge" {
		t.Fatalf("second chunk = %+v", chunks[1])
	}
}

// TestChunksAscendingAndOrderPreserving checks out-of-order input.
func TestChunksAscendingAndOrderPreserving(t *testing.T) {
	rs := domain.ResultSet{Segments: []domain.Segment{
		{Words: []domain.WordToken{
			{Text: "late", StartOffset: 600 * time.Second},
			{Text: "b", StartOffset: 30 * time.Second},
		}},
		{Words: []domain.WordToken{
			{Text: "a", StartOffset: 10 * time.Second},
			{Text: "mid", StartOffset: 250 * time.Second},
		}},
	}}

	chunks := Chunks(rs, 120*time.Second)
	var indices []int
	for _, c := range chunks {
		indices = append(indices, c.Index)
	}
	if len(indices) != 3 || indices[0] != 0 || indices[1] != 2 || indices[2] != 5 {
		t.Fatalf("indices = %v, want [0 2 5]", indices)
	}
	if chunks[0].Text() != "b a" {
		t.Fatalf("window 0 text = %q, want emission order %q", chunks[0].Text(), "b a")
	}
}

// TestAggregateIdempotent checks identical input renders identical output.
func TestAggregateIdempotent(t *testing.T) {
	var tokens []domain.WordToken
	for i := 0; i < 200; i++ {
		tokens = append(tokens, domain.WordToken{Text: "w", StartOffset: time.Duration((i*37)%900) * time.Second})
	}
	rs := domain.ResultSet{Segments: []domain.Segment{{Words: tokens}}}

	first := Aggregate(rs, 60*time.Second)
	for i := 0; i < 10; i++ {
		if got := Aggregate(rs, 60*time.Second); got != first {
			t.Fatal("Aggregate() output differs between runs")
		}
	}
}

// TestChunksDefaultDuration checks non-positive sizes fall back to the default.
func TestChunksDefaultDuration(t *testing.T) {
	rs := domain.ResultSet{Segments: []domain.Segment{{Words: []domain.WordToken{{Text: "x", StartOffset: 130 * time.Second}}}}}
	chunks := Chunks(rs, 0)
	if len(chunks) != 1 || chunks[0].Index != 1 || chunks[0].End != 240*time.Second {
		t.Fatalf("chunks = %+v", chunks)
	}
}

// TestFormatClock checks label rendering.
func TestFormatClock(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{2 * time.Minute, "0:02:00"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
		{26 * time.Hour, "26:00:00"},
		{1500 * time.Millisecond, "0:00:01"},
		{-time.Second, "0:00:00"},
	}
	for _, tc := range cases {
		if got := FormatClock(tc.in); got != tc.want {
			t.Fatalf("FormatClock(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
