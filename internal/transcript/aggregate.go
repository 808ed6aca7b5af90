// Package transcript turns word-level recognition results into a readable
// transcript grouped into fixed time windows.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"transcript-pipeline/internal/domain"
)

// DefaultChunkDuration is used when no positive window size is configured.
const DefaultChunkDuration = 120 * time.Second

// Chunk is one rendered time window.
type Chunk struct {
	Index int
	Start time.Duration
	End   time.Duration
	Words []string
}

// Header returns the window label line.
func (c Chunk) Header() string {
	return fmt.Sprintf("Timestamp: %s - %s", FormatClock(c.Start), FormatClock(c.End))
}

// Text returns the space-joined words of the window.
func (c Chunk) Text() string {
	return strings.Join(c.Words, " ")
}

type indexedWord struct {
	index int
	text  string
}

// Chunks groups every word of rs into windows of size chunk. A word starting
// at exactly k*chunk belongs to window k. Words keep backend emission order
// inside a window and windows are returned in ascending index order.
func Chunks(rs domain.ResultSet, chunk time.Duration) []Chunk {
	if chunk <= 0 {
		chunk = DefaultChunkDuration
	}

	words := lo.FlatMap(rs.Segments, func(seg domain.Segment, _ int) []indexedWord {
		return lo.Map(seg.Words, func(w domain.WordToken, _ int) indexedWord {
			return indexedWord{index: windowIndex(w.StartOffset, chunk), text: w.Text}
		})
	})
	groups := lo.GroupBy(words, func(w indexedWord) int { return w.index })

	indices := lo.Keys(groups)
	sort.Ints(indices)

	chunks := make([]Chunk, 0, len(indices))
	for _, idx := range indices {
		chunks = append(chunks, Chunk{
			Index: idx,
			Start: time.Duration(idx) * chunk,
			End:   time.Duration(idx+1) * chunk,
			Words: lo.Map(groups[idx], func(w indexedWord, _ int) string { return w.text }),
		})
	}
	return chunks
}

// Aggregate renders rs as a transcript. An empty result set gives "".
func Aggregate(rs domain.ResultSet, chunk time.Duration) string {
	sections := lo.Map(Chunks(rs, chunk), func(c Chunk, _ int) string {
		return c.Header() + "\n" + c.Text()
	})
	return strings.Join(sections, "\n\n")
}

func windowIndex(offset, chunk time.Duration) int {
	if offset < 0 {
		return 0
	}
	return int(offset / chunk)
}

// FormatClock renders d as H:MM:SS, truncating sub-second precision.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
}
