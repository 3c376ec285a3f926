package integrity

import (
	"time"

	"github.com/trezcool/mtihani/core"
)

// Violation types
const (
	TypeTabSwitch        = "tab_switch"
	TypeCopyPaste        = "copy_paste"
	TypeRightClick       = "right_click"
	TypeInactivity       = "inactivity"
	TypeMultipleAttempts = "multiple_attempts"
	TypeTimeOverrun      = "time_overrun"
)

// Severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Client-observed event kinds
const (
	EventVisibilityLoss = "visibility_loss"
	EventContextMenu    = "context_menu"
	EventClipboard      = "clipboard"
)

// Clipboard operations
const (
	OpCopy  = "copy"
	OpCut   = "cut"
	OpPaste = "paste"
)

// Violation is a recorded instance of suspicious behavior during an attempt.
// Append-only; never mutated or deleted by normal operation.
type Violation struct {
	ID          string                 `json:"id"`
	AttemptID   string                 `json:"attempt_id"`
	ExamID      string                 `json:"exam_id"`
	CandidateID string                 `json:"candidate_id"`
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity"`
	Description string                 `json:"description"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	CreatedAt   time.Time              `json:"created_at"` // UTC
}

// Event is a client-observed signal reported against a started attempt.
type Event struct {
	Kind string `json:"kind" validate:"required,oneof=visibility_loss context_menu clipboard"`
	// Operation qualifies clipboard events: copy, cut or paste.
	Operation string `json:"operation,omitempty" validate:"omitempty,oneof=copy cut paste"`
}

func (e *Event) Validate() error {
	e.Kind = core.CleanString(e.Kind, true /* lower */)
	e.Operation = core.CleanString(e.Operation, true /* lower */)
	if err := core.Validate.Struct(e); err != nil {
		return err
	}
	if e.Kind == EventClipboard && e.Operation == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "operation", Error: "this field is required"})
	}
	return nil
}
