package memory

import (
	"encoding/json"
	"time"
)

// Memory bank file names. Every task directory contains a memory_bank/
// subdirectory holding these files.
const (
	BankDirName = "memory_bank"

	TaskDefinitionFile      = "task_definition.md"
	CWCJSONFile             = "current_working_context.json"
	CWCMarkdownFile         = "cwc.md"
	KeyFindingsFile         = "key_findings.jsonl"
	ErrorsEncounteredFile   = "errors_encountered.jsonl"
	ChatHistoryFile         = "chat_history.jsonl"
	DecisionsFile           = "key_decisions_and_learnings.md"
	ExecutionLogSummaryFile = "execution_log_summary.md"
	FinalAnswerArchiveFile  = "final_answer_archive.md"
	UploadedFilesDir        = "uploaded_files"
)

// RawContentReferenceType marks a finding whose payload lives in a separate
// raw-content file instead of inline.
const RawContentReferenceType = "reference_to_raw_content"

// RawContentReference points at a raw-content file holding a large step
// output, with a short preview for prompt assembly.
type RawContentReference struct {
	Type           string `json:"type"`
	RawContentPath string `json:"rawContentPath"`
	Preview        string `json:"preview,omitempty"`
}

// KeyFinding is a compact record of a successful step's output. Data is
// either inline content or a RawContentReference.
type KeyFinding struct {
	ID                  string          `json:"id"`
	SourceStepNarrative string          `json:"sourceStepNarrative"`
	SourceToolName      string          `json:"sourceToolName"`
	Data                json.RawMessage `json:"data"`
}

// SetInlineData stores an inline payload on the finding.
func (kf *KeyFinding) SetInlineData(data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	kf.Data = raw
	return nil
}

// SetReference stores a raw-content reference on the finding.
func (kf *KeyFinding) SetReference(rawContentPath, preview string) error {
	return kf.SetInlineData(RawContentReference{
		Type:           RawContentReferenceType,
		RawContentPath: rawContentPath,
		Preview:        preview,
	})
}

// AsReference returns the raw-content reference when the finding's data is
// one, and false otherwise.
func (kf *KeyFinding) AsReference() (*RawContentReference, bool) {
	if len(kf.Data) == 0 {
		return nil, false
	}
	var ref RawContentReference
	if err := json.Unmarshal(kf.Data, &ref); err != nil {
		return nil, false
	}
	if ref.Type != RawContentReferenceType {
		return nil, false
	}
	return &ref, true
}

// DataString renders the finding's data for prompt assembly. References
// render as their preview.
func (kf *KeyFinding) DataString() string {
	if ref, ok := kf.AsReference(); ok && ref.Preview != "" {
		return ref.Preview
	}
	var s string
	if err := json.Unmarshal(kf.Data, &s); err == nil {
		return s
	}
	return string(kf.Data)
}

// ErrorRecord is a compact record of a failed step.
type ErrorRecord struct {
	ErrorID             string    `json:"errorId"`
	SourceStepNarrative string    `json:"sourceStepNarrative"`
	SourceToolName      string    `json:"sourceToolName"`
	ErrorMessage        string    `json:"errorMessage"`
	Timestamp           time.Time `json:"timestamp"`
}

// ChatMessage is one appended entry of the task's chat history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// CurrentWorkingContext is the single evolving snapshot of task progress.
// It is overwritten as a whole on every update and persisted both as JSON
// and as a markdown surface (cwc.md).
type CurrentWorkingContext struct {
	LastUpdatedAt      time.Time `json:"lastUpdatedAt"`
	SummaryOfProgress  string    `json:"summaryOfProgress"`
	NextObjective      string    `json:"nextObjective"`
	ConfidenceScore    float64   `json:"confidenceScore"`
	IdentifiedEntities []string  `json:"identifiedEntities"`
	PendingQuestions   []string  `json:"pendingQuestions"`
}
