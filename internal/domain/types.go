package domain

import "time"

// JobStatus tracks each pipeline stage for a single transcription job.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusConverting   JobStatus = "converting"
	JobStatusUploading    JobStatus = "uploading"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusAggregating  JobStatus = "aggregating"
	JobStatusExporting    JobStatus = "exporting"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether no further stage can follow the status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

// Job stores one run's identity, input, lifecycle status and last progress.
type Job struct {
	ID        string    `json:"id"`
	InputPath string    `json:"inputPath,omitempty"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
}

// InputRef is the selected input file plus its detected media type.
type InputRef struct {
	Path      string `json:"path"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
	Title     string `json:"title,omitempty"`
	Artist    string `json:"artist,omitempty"`
}

// StagedRef locates an uploaded artifact in the durable store.
type StagedRef struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	URI       string `json:"uri"`
}

// WordToken is one recognized word and its offset into the source media.
type WordToken struct {
	Text        string        `json:"text"`
	StartOffset time.Duration `json:"startOffset"`
}

// Segment is one recognition result: the best alternative and its words.
type Segment struct {
	Transcript string      `json:"transcript"`
	Confidence float64     `json:"confidence"`
	Words      []WordToken `json:"words"`
}

// ResultSet is the ordered output of a completed recognition job.
type ResultSet struct {
	Segments []Segment `json:"segments"`
}

// WordCount returns the number of word tokens across all segments.
func (r ResultSet) WordCount() int {
	n := 0
	for _, seg := range r.Segments {
		n += len(seg.Words)
	}
	return n
}
