package models

import "time"

// ProcessingState is the stage tag of one pipeline run
type ProcessingState string

const (
	StateUploaded            ProcessingState = "uploaded"
	StateExtractingMain      ProcessingState = "extracting_main"
	StateExtractingItems     ProcessingState = "extracting_items"
	StateAggregating         ProcessingState = "aggregating"
	StateValidating          ProcessingState = "validating"
	StateReconcilingExternal ProcessingState = "reconciling_external"
	StateCompleted           ProcessingState = "completed"
	StateFailed              ProcessingState = "failed"
)

// StageOrder is the fixed, linear order of the pipeline stages
var StageOrder = []ProcessingState{
	StateUploaded,
	StateExtractingMain,
	StateExtractingItems,
	StateAggregating,
	StateValidating,
	StateReconcilingExternal,
	StateCompleted,
}

// IsTerminal reports whether no further transitions happen without a re-run
func (s ProcessingState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StageIndex returns the 1-based position in StageOrder, or 0 for failed/unknown
func (s ProcessingState) StageIndex() int {
	for i, st := range StageOrder {
		if st == s {
			return i + 1
		}
	}
	return 0
}

// Progress is the externally visible progress of a run
type Progress struct {
	Stage           ProcessingState `json:"stage"`
	StageName       string          `json:"stage_name"`
	StageIndex      int             `json:"stage_index"`
	TotalStages     int             `json:"total_stages"`
	StageProgress   int             `json:"stage_progress"`   // 0-100 within the stage
	OverallProgress int             `json:"overall_progress"` // 0-100 weighted across stages
	Message         string          `json:"message"`
	ChunksTotal     int             `json:"chunks_total,omitempty"`
	ChunksProcessed int             `json:"chunks_processed,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// FieldConflict records a fallback-merge decision between two disagreeing non-null values
type FieldConflict struct {
	Field      string      `json:"field"`
	Kept       interface{} `json:"kept"`
	Discarded  interface{} `json:"discarded"`
	ChunkIndex int         `json:"chunk_index"` // chunk whose value was discarded
}

// RunState is the persisted state of one pipeline run. Mutated only by the orchestrator.
type RunState struct {
	ID           string          `json:"id"`
	DocumentName string          `json:"document_name"`
	DocumentPath string          `json:"document_path"`
	State        ProcessingState `json:"state" badgerhold:"index"`
	Progress     Progress        `json:"progress"`
	Attempt      int             `json:"attempt"` // 1 for the first run, incremented by each re-run

	FailedStage  ProcessingState `json:"failed_stage,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`

	MainPass  PassSummary `json:"main_pass"`
	ItemsPass PassSummary `json:"items_pass"`

	Record             *ContractRecord     `json:"record,omitempty"`
	MergeStrategy      string              `json:"merge_strategy,omitempty"`
	Conflicts          []FieldConflict     `json:"conflicts,omitempty"`
	ValidationErrors   []string            `json:"validation_errors,omitempty"`
	ValidationWarnings []string            `json:"validation_warnings,omitempty"`
	Link               *ExternalRecordLink `json:"link,omitempty"`
	OracleRequests     []OracleRequestLog  `json:"oracle_requests,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CompletedWithWarnings reports a successful run that had partial extraction or validation warnings
func (r *RunState) CompletedWithWarnings() bool {
	return r.State == StateCompleted && len(r.Warnings) > 0
}

// ExternalRecordLink is the outcome of reconciliation against the line-of-business system
type ExternalRecordLink struct {
	RunID               string    `json:"run_id"`
	NaturalKey          string    `json:"natural_key"`
	ExternalUUID        string    `json:"external_uuid"`
	RelatedExternalUUID string    `json:"related_external_uuid,omitempty"`
	FoundExisting       bool      `json:"found_existing"`
	Updated             bool      `json:"updated,omitempty"`
	AttachedTo          string    `json:"attached_to,omitempty"` // entity UUID the document was attached to
	CreatedAt           time.Time `json:"created_at"`
}

// HistoryStatus classifies a history entry
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryWarning HistoryStatus = "warning"
	HistoryError   HistoryStatus = "error"
)

// HistoryEntry is one append-only event in a run's processing history
type HistoryEntry struct {
	ID        string            `json:"id"`
	RunID     string            `json:"run_id" badgerhold:"index"`
	Sequence  int               `json:"sequence"`
	Stage     ProcessingState   `json:"stage"`
	Status    HistoryStatus     `json:"status"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
