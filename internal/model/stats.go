package model

import "time"

// StageStats summarizes one run of one stage.
type StageStats struct {
	Chain      string    `json:"chain"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Batches is the number of dispatched batches, which is also the final depth.
	Batches  int `json:"batches"`
	Requests int `json:"requests"`
	Records  int `json:"records"`

	// FetchFailures counts addresses whose fetch failed.
	FetchFailures int `json:"fetch_failures"`
	// ExtractFailures counts addresses whose document failed extraction or validation.
	ExtractFailures int `json:"extract_failures"`

	// Discovered counts addresses routed to this stage's frontier by pagination.
	Discovered int `json:"discovered"`
	// HandedOff counts addresses passed to the next stage.
	HandedOff int `json:"handed_off"`

	// Stopped is set when the run ended because of an explicit stop.
	Stopped bool `json:"stopped"`
	// Error is the run-level failure, if any.
	Error string `json:"error,omitempty"`
}

// Duration returns how long the stage ran.
func (s StageStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Failed reports whether the stage ended with a run-level failure.
func (s StageStats) Failed() bool {
	return s.Error != ""
}

// RunSummary collects stage statistics of one fastcrawl invocation.
type RunSummary struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Stages     []StageStats `json:"stages"`
}

// TotalRequests sums requests over all stages.
func (s *RunSummary) TotalRequests() int {
	n := 0
	for _, st := range s.Stages {
		n += st.Requests
	}
	return n
}

// TotalRecords sums saved records over all stages.
func (s *RunSummary) TotalRecords() int {
	n := 0
	for _, st := range s.Stages {
		n += st.Records
	}
	return n
}

// FailedStages returns the stages that ended with a run-level failure.
func (s *RunSummary) FailedStages() []StageStats {
	var out []StageStats
	for _, st := range s.Stages {
		if st.Failed() {
			out = append(out, st)
		}
	}
	return out
}
