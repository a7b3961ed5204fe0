package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType is the dispatch kind of an action job.
type ActionType string

const (
	ActionChat ActionType = "chat"
	ActionRest ActionType = "rest"
	ActionTool ActionType = "tool"
)

// AllActionTypes lists every dispatch kind, in worker start order.
func AllActionTypes() []ActionType {
	return []ActionType{ActionChat, ActionRest, ActionTool}
}

// ParseActionType parses the persisted action-type string.
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(strings.ToLower(strings.TrimSpace(s))) {
	case ActionChat:
		return ActionChat, nil
	case ActionRest:
		return ActionRest, nil
	case ActionTool:
		return ActionTool, nil
	default:
		return "", fmt.Errorf("unknown action type: %q", s)
	}
}

// ActionJob is one queued instance of an action, bound to a specific event.
// EventData snapshots the template variables so the worker never re-reads the
// event row (and keeps working if the trigger is deleted mid-flight).
type ActionJob struct {
	ID         string          `json:"id"`
	TriggerID  string          `json:"trigger_id"`
	EventID    string          `json:"event_id"`
	ActionType ActionType      `json:"action_type"`
	Priority   int32           `json:"priority"`
	Config     json.RawMessage `json:"config"`
	EventData  json.RawMessage `json:"event_data"`
	Attempts   int             `json:"attempts"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewActionJob builds a job with a fresh random id.
func NewActionJob(triggerID, eventID string, kind ActionType, priority int32, config, eventData json.RawMessage) *ActionJob {
	return &ActionJob{
		ID:         uuid.NewString(),
		TriggerID:  triggerID,
		EventID:    eventID,
		ActionType: kind,
		Priority:   priority,
		Config:     config,
		EventData:  eventData,
		CreatedAt:  time.Now().UTC(),
	}
}

// DLQEntry is a terminally-failed job with its last error. Entries are only
// ever appended by the pipeline; inspection and requeue are external tooling.
type DLQEntry struct {
	ID        int64      `json:"id"`
	Job       *ActionJob `json:"job"`
	LastError string     `json:"last_error"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}

// Action result statuses.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// ActionResult is the audit record of one job's terminal outcome.
type ActionResult struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	TriggerID  string    `json:"trigger_id"`
	EventID    string    `json:"event_id"`
	ActionType string    `json:"action_type"`
	Status     string    `json:"status"`
	DurationMS int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SuccessResult builds a success audit record.
func SuccessResult(job *ActionJob, duration time.Duration, attempts int) *ActionResult {
	return &ActionResult{
		JobID:      job.ID,
		TriggerID:  job.TriggerID,
		EventID:    job.EventID,
		ActionType: string(job.ActionType),
		Status:     ResultSuccess,
		DurationMS: duration.Milliseconds(),
		Attempts:   attempts,
	}
}

// FailureResult builds a failure audit record.
func FailureResult(job *ActionJob, duration time.Duration, attempts int, errMsg string) *ActionResult {
	return &ActionResult{
		JobID:      job.ID,
		TriggerID:  job.TriggerID,
		EventID:    job.EventID,
		ActionType: string(job.ActionType),
		Status:     ResultFailed,
		DurationMS: duration.Milliseconds(),
		Attempts:   attempts,
		Error:      errMsg,
	}
}
