package models

import "time"

// PassKind names one extraction purpose over all chunks
type PassKind string

const (
	PassMainFields PassKind = "main_fields"
	PassLineItems  PassKind = "line_items"
)

// ResultStatus is the outcome of one chunk extraction
type ResultStatus string

const (
	ResultSuccess ResultStatus = "SUCCESS"
	ResultError   ResultStatus = "ERROR"
)

// ErrorKind classifies why a chunk extraction ended in ERROR
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindConnection ErrorKind = "connection"
	ErrorKindSemantic   ErrorKind = "semantic"
	ErrorKindTimeout    ErrorKind = "timeout" // stage timeout fired before the chunk finished
)

// ExtractionResult is the immutable outcome of one chunk in one pass
type ExtractionResult struct {
	ChunkIndex   int                    `json:"chunk_index"`
	Pass         PassKind               `json:"pass"`
	Status       ResultStatus           `json:"status"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	ErrorKind    ErrorKind              `json:"error_kind,omitempty"`
	Error        string                 `json:"error,omitempty"`
	AttemptCount int                    `json:"attempt_count"`
	Duration     time.Duration          `json:"duration"`
}

// OK reports whether the result carries a usable payload
func (r ExtractionResult) OK() bool {
	return r.Status == ResultSuccess && r.Payload != nil
}

// PassSummary counts the results of one pass
type PassSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// SuccessRatio returns succeeded/total, or 0 for an empty pass
func (s PassSummary) SuccessRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// OracleRequestLog records one oracle round trip for a run
type OracleRequestLog struct {
	Pass       PassKind      `json:"pass"`
	ChunkIndex int           `json:"chunk_index"` // -1 for merge requests
	Attempt    int           `json:"attempt"`
	Status     ResultStatus  `json:"status"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Provider   string        `json:"provider,omitempty"`
	Model      string        `json:"model,omitempty"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}
