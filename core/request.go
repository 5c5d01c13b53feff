package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/agentrelay/internal/util"
)

// RequestKind tags the request variants accepted at the boundary.
type RequestKind string

const (
	RequestChat      RequestKind = "chat"
	RequestLifecycle RequestKind = "lifecycle"
	RequestTask      RequestKind = "task"
)

// Request is a validated inbound request. Implementations are ChatRequest,
// LifecycleRequest and TaskRequest.
type Request interface {
	Kind() RequestKind
	Validate() error
	isRequest()
}

// ChatRequest carries one user message for a task within a session.
type ChatRequest struct {
	TaskID       string `json:"task_id"`
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id,omitempty"`
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

func (ChatRequest) Kind() RequestKind { return RequestChat }
func (ChatRequest) isRequest()        {}

// Validate checks the required fields.
func (r ChatRequest) Validate() error {
	if err := requireID("task_id", r.TaskID); err != nil {
		return err
	}
	if err := requireID("session_id", r.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return &RequestError{Field: "message", Message: "must not be empty"}
	}
	return nil
}

// LifecycleAction is a session lifecycle operation.
type LifecycleAction string

const (
	LifecycleCreated LifecycleAction = "created"
	LifecycleDeleted LifecycleAction = "deleted"
	LifecycleCleared LifecycleAction = "cleared"
)

// LifecycleRequest creates, deletes or clears a session.
type LifecycleRequest struct {
	SessionID string          `json:"session_id"`
	UserID    string          `json:"user_id,omitempty"`
	Action    LifecycleAction `json:"action"`
}

func (LifecycleRequest) Kind() RequestKind { return RequestLifecycle }
func (LifecycleRequest) isRequest()        {}

// Validate checks the session id and action.
func (r LifecycleRequest) Validate() error {
	if err := requireID("session_id", r.SessionID); err != nil {
		return err
	}
	switch r.Action {
	case LifecycleCreated, LifecycleDeleted, LifecycleCleared:
		return nil
	default:
		return &RequestError{Field: "action", Message: fmt.Sprintf("unknown action %q", r.Action)}
	}
}

// Task payloads. Field names follow the wire format of the task messages.
type (
	TeamFormationPayload struct {
		Task          string   `json:"task" description:"goal the team should accomplish"`
		RequiredRoles []string `json:"requiredRoles" description:"roles that must be staffed"`
	}
	DataAnalysisPayload struct {
		DataSource   string `json:"dataSource" description:"where the data lives"`
		AnalysisType string `json:"analysisType" description:"kind of analysis to run"`
	}
	ImageGenerationPayload struct {
		Prompt string `json:"prompt" description:"image description"`
		Style  string `json:"style,omitempty"`
	}
	TextGenerationPayload struct {
		Prompt    string `json:"prompt" description:"text to continue or answer"`
		MaxLength int    `json:"maxLength,omitempty"`
	}
)

var taskSchemas = map[string]util.Schema{
	"team-formation":   util.SchemaFor(TeamFormationPayload{}),
	"data-analysis":    util.SchemaFor(DataAnalysisPayload{}),
	"image-generation": util.SchemaFor(ImageGenerationPayload{}),
	"text-generation":  util.SchemaFor(TextGenerationPayload{}),
}

// TaskTypes lists the supported task types in sorted order.
func TaskTypes() []string {
	types := make([]string, 0, len(taskSchemas))
	for t := range taskSchemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// TaskRequest asks for a typed task whose payload is validated against the
// schema registered for its type.
type TaskRequest struct {
	TaskID    string         `json:"task_id"`
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	TaskType  string         `json:"task_type"`
	Data      map[string]any `json:"task_data"`
}

func (TaskRequest) Kind() RequestKind { return RequestTask }
func (TaskRequest) isRequest()        {}

// Validate checks ids, the task type and the payload.
func (r TaskRequest) Validate() error {
	if err := requireID("task_id", r.TaskID); err != nil {
		return err
	}
	if err := requireID("session_id", r.SessionID); err != nil {
		return err
	}
	schema, ok := taskSchemas[r.TaskType]
	if !ok {
		return &RequestError{Field: "task_type", Message: fmt.Sprintf("unsupported task type %q", r.TaskType)}
	}
	if err := schema.Validate(r.Data); err != nil {
		var ve *util.ValidationError
		if errors.As(err, &ve) {
			return &RequestError{Field: "task_data." + ve.Field, Message: ve.Message}
		}
		return &RequestError{Field: "task_data", Message: err.Error()}
	}
	return nil
}

// Prompt renders the payload as the text handed to the execution pipeline.
// Schema fields come first in declaration order, extra fields follow sorted.
func (r TaskRequest) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task type: %s", r.TaskType)

	seen := map[string]bool{}
	for _, name := range r.TaskFields() {
		seen[name] = true
		if v, ok := r.Data[name]; ok {
			fmt.Fprintf(&b, "\n%s: %s", name, formatValue(v))
		}
	}

	extra := make([]string, 0)
	for k := range r.Data {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(&b, "\n%s: %s", k, formatValue(r.Data[k]))
	}
	return b.String()
}

// TaskFields returns the schema field names for the request's task type.
func (r TaskRequest) TaskFields() []string {
	schema := taskSchemas[r.TaskType]
	fields := make([]string, 0, len(schema.Properties))
	fields = append(fields, schema.Required...)
	optional := make([]string, 0)
	for name := range schema.Properties {
		if !contains(schema.Required, name) {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(fields, optional...)
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &RequestError{Field: field, Message: "must not be empty"}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
