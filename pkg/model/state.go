package model

import "time"

// PipelineState is the mutable blackboard carried through one per-location
// pipeline run. It is owned by exactly one executor and never shared.
type PipelineState struct {
	LocationName    string
	Location        *Location
	TargetDate      time.Time // calendar day whose 09/12/15/18 are sampled
	LLMProvider     string
	ExcludePrevious bool
	RetryCount      int

	WeatherData  *ForecastCollection
	PastComments []ReferenceComment
	SelectedPair *CommentPair
	FinalComment string
	Validation   *ValidationResult

	Errors   []string
	Warnings []string

	Metadata      map[string]any
	NodeTimes     map[string]int64 // stage name -> wall-clock millis
	WorkflowStart time.Time
}

// NewPipelineState seeds a state for one location run.
func NewPipelineState(name string, targetDate time.Time, provider string) *PipelineState {
	return &PipelineState{
		LocationName: name,
		TargetDate:   targetDate,
		LLMProvider:  provider,
		Metadata:     make(map[string]any),
		NodeTimes:    make(map[string]int64),
	}
}

// AddError appends a pipeline-visible error message.
func (s *PipelineState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// AddWarning appends a pipeline-visible warning message.
func (s *PipelineState) AddWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// LocationResult is the immutable per-location outcome.
type LocationResult struct {
	Location      string         `json:"location"`
	Success       bool           `json:"success"`
	Comment       string         `json:"comment,omitempty"`
	AdviceComment string         `json:"advice_comment,omitempty"`
	ErrorKind     string         `json:"error_kind,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Metadata      map[string]any `json:"generation_metadata,omitempty"`
	SourceFiles   []string       `json:"source_files,omitempty"`
}

// BatchResult aggregates the outcomes of one batch run.
// Invariant: SuccessCount + FailedCount == TotalCount == len(Results).
type BatchResult struct {
	RunID            string           `json:"run_id"`
	TotalCount       int              `json:"total_count"`
	SuccessCount     int              `json:"success_count"`
	FailedCount      int              `json:"failed_count"`
	Results          []LocationResult `json:"results"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
}
