package conversation

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
)

// Default field names collected by the clarification flow.
const (
	FieldTopic            = "topic"
	FieldSpecificQuestion = "specific_question"
)

const (
	defaultClarificationTemplate = "I'd be happy to help, but I need a few more details first.\n\n{{.Question}}"
	defaultSummaryTemplate       = "Here is what I understood:\n{{range .Fields}}- {{.Name}}: {{.Value}}\n{{end}}\nShall I proceed? Reply yes to continue or no to cancel."
	defaultRepromptTemplate      = "Sorry, I did not catch that. Please reply yes to proceed or no to cancel.\n\n{{.Summary}}"
	defaultRequestTemplate       = "{{.Original}}\n\nAdditional details:\n{{range .Fields}}- {{.Name}}: {{.Value}}\n{{end}}"
)

// Options tunes the heuristic, vocabularies and prompt templates.
type Options struct {
	// ShortInputTokens: inputs with fewer tokens always need clarification.
	ShortInputTokens int
	// TriggerMaxTokens: inputs containing a trigger phrase need
	// clarification when they have fewer tokens than this.
	TriggerMaxTokens int
	TriggerPhrases   []string
	RequiredInfo     []string
	// Questions maps a field to a text/template rendered against the
	// info collected so far.
	Questions   map[string]string
	Affirmative []string
	Negative    []string

	ClarificationTemplate string
	SummaryTemplate       string
	RepromptTemplate      string
	RequestTemplate       string

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// DefaultOptions returns the stock heuristic and vocabularies.
func DefaultOptions() Options {
	return Options{
		ShortInputTokens: 3,
		TriggerMaxTokens: 6,
		TriggerPhrases:   []string{"help", "help me", "assist", "i need help"},
		RequiredInfo:     []string{FieldTopic, FieldSpecificQuestion},
		Questions: map[string]string{
			FieldTopic:            "What topic would you like help with?",
			FieldSpecificQuestion: "What specific question do you have about {{.topic}}?",
		},
		Affirmative:           []string{"yes", "y", "proceed", "ok", "confirm"},
		Negative:              []string{"no", "n", "cancel", "stop"},
		ClarificationTemplate: defaultClarificationTemplate,
		SummaryTemplate:       defaultSummaryTemplate,
		RepromptTemplate:      defaultRepromptTemplate,
		RequestTemplate:       defaultRequestTemplate,
		Logger:                logging.NoOpLogger{},
	}
}

// Analysis is the result of Analyze.
type Analysis struct {
	NeedsClarification  bool
	RequiredInfo        []string
	ClarificationPrompt string
	// Question is the first field to ask for.
	Question string
}

// Action tells the caller what to do after a reply was processed.
type Action string

const (
	// ActionAsk asks for the next required field.
	ActionAsk Action = "ask"
	// ActionConfirm presents the summary and awaits yes/no.
	ActionConfirm Action = "confirm"
	// ActionReprompt repeats the confirmation question; state is unchanged.
	ActionReprompt Action = "reprompt"
	// ActionProceed executes the composed request.
	ActionProceed Action = "proceed"
	// ActionAbort ends the flow without execution.
	ActionAbort Action = "abort"
)

// Outcome is the result of one step of the flow.
type Outcome struct {
	Action Action
	// State is the next conversation state; nil means idle.
	State *core.ConversationState
	// Prompt is shown to the user for ask, confirm and reprompt.
	Prompt string
	// Request is the composed request for proceed.
	Request string
	// TaskIDs are the tasks that took part in the flow.
	TaskIDs []string
}

// Terminal reports whether the outcome returns the session to idle.
func (o Outcome) Terminal() bool { return o.Action == ActionProceed || o.Action == ActionAbort }

// Coordinator drives the clarification flow on top of a SessionStore.
type Coordinator struct {
	opts        Options
	store       core.SessionStore
	triggers    [][]string
	affirmative map[string]bool
	negative    map[string]bool
	logger      logging.Logger
}

// New creates a Coordinator persisting its state in store.
func New(store core.SessionStore, optFns ...func(o *Options)) *Coordinator {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Coordinator{
		opts:        opts,
		store:       store,
		affirmative: toSet(opts.Affirmative),
		negative:    toSet(opts.Negative),
		logger:      logging.OrNoOp(opts.Logger),
	}
	for _, p := range opts.TriggerPhrases {
		if toks := tokenize(p); len(toks) > 0 {
			c.triggers = append(c.triggers, toks)
		}
	}

	return c
}

// Options returns a copy of the effective options.
func (c *Coordinator) Options() Options { return c.opts }

// Analyze decides whether input needs clarification: fewer than
// ShortInputTokens tokens, or a trigger phrase with fewer than
// TriggerMaxTokens tokens. The decision depends on the text only.
func (c *Coordinator) Analyze(input string) Analysis {
	tokens := tokenize(input)

	needs := len(tokens) < c.opts.ShortInputTokens ||
		(len(tokens) < c.opts.TriggerMaxTokens && c.hasTrigger(tokens))
	if !needs || len(c.opts.RequiredInfo) == 0 {
		return Analysis{}
	}

	required := append([]string(nil), c.opts.RequiredInfo...)
	question := c.question(required[0], map[string]string{})

	return Analysis{
		NeedsClarification:  true,
		RequiredInfo:        required,
		Question:            required[0],
		ClarificationPrompt: util.RenderOrRaw(c.opts.ClarificationTemplate, map[string]any{"Question": question}),
	}
}

// Start stores a fresh collecting_info state for the session and returns it.
func (c *Coordinator) Start(ctx context.Context, sessionID, taskID, input string, a Analysis) (*core.ConversationState, error) {
	state := &core.ConversationState{
		Stage:           core.StageCollectingInfo,
		OriginalRequest: input,
		RequiredInfo:    append([]string(nil), a.RequiredInfo...),
		CollectedInfo:   map[string]string{},
		CurrentQuestion: a.Question,
		TaskIDs:         []string{taskID},
	}
	if err := c.store.SetConversationState(ctx, sessionID, state); err != nil {
		return nil, fmt.Errorf("start conversation: %w", err)
	}
	c.logger.Debug("conversation started", "session_id", sessionID, "task_id", taskID, "question", a.Question)

	return state, nil
}

// Continue feeds a reply into the session's active conversation and persists
// the resulting state. It returns core.ErrInvalidState when the session is idle.
func (c *Coordinator) Continue(ctx context.Context, sessionID, taskID, reply string) (Outcome, error) {
	state, err := c.store.ConversationState(ctx, sessionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load conversation: %w", err)
	}
	if state == nil {
		return Outcome{}, fmt.Errorf("session %s has no conversation in progress: %w", sessionID, core.ErrInvalidState)
	}

	out := c.Advance(state, reply)
	out.TaskIDs = appendUnique(state.TaskIDs, taskID)
	if out.State != nil {
		out.State.TaskIDs = out.TaskIDs
	}

	if err := c.store.SetConversationState(ctx, sessionID, out.State); err != nil {
		return Outcome{}, fmt.Errorf("save conversation: %w", err)
	}
	c.logger.Debug("conversation advanced", "session_id", sessionID, "task_id", taskID, "action", out.Action)

	return out, nil
}

// Abandon returns the session to idle without further processing.
func (c *Coordinator) Abandon(ctx context.Context, sessionID string) error {
	return c.store.SetConversationState(ctx, sessionID, nil)
}

// Advance computes the next step for reply without touching the store.
// The input state is not modified.
func (c *Coordinator) Advance(state *core.ConversationState, reply string) Outcome {
	next := state.Clone()
	if next.CollectedInfo == nil {
		next.CollectedInfo = map[string]string{}
	}

	switch next.Stage {
	case core.StageCollectingInfo:
		return c.collect(next, reply)
	case core.StageConfirmation:
		return c.confirm(next, reply)
	default:
		// unknown stage: drop it and treat the reply as a fresh request
		return Outcome{Action: ActionProceed, Request: reply}
	}
}

func (c *Coordinator) collect(state *core.ConversationState, reply string) Outcome {
	answer := strings.TrimSpace(reply)
	if answer == "" {
		return Outcome{Action: ActionAsk, State: state, Prompt: c.question(state.CurrentQuestion, state.CollectedInfo)}
	}

	if state.CurrentQuestion != "" {
		state.CollectedInfo[state.CurrentQuestion] = answer
	}

	if field, ok := nextMissing(state); ok {
		state.CurrentQuestion = field
		return Outcome{Action: ActionAsk, State: state, Prompt: c.question(field, state.CollectedInfo)}
	}

	state.Stage = core.StageConfirmation
	state.CurrentQuestion = ""
	return Outcome{Action: ActionConfirm, State: state, Prompt: c.summary(state)}
}

func (c *Coordinator) confirm(state *core.ConversationState, reply string) Outcome {
	word := strings.ToLower(strings.TrimSpace(reply))

	switch {
	case c.affirmative[word]:
		return Outcome{Action: ActionProceed, Request: c.compose(state)}
	case c.negative[word]:
		return Outcome{Action: ActionAbort}
	default:
		prompt := util.RenderOrRaw(c.opts.RepromptTemplate, map[string]any{"Summary": c.summary(state)})
		return Outcome{Action: ActionReprompt, State: state, Prompt: prompt}
	}
}

type field struct {
	Name  string
	Value string
}

func fields(state *core.ConversationState) []field {
	out := make([]field, 0, len(state.RequiredInfo))
	for _, name := range state.RequiredInfo {
		out = append(out, field{Name: name, Value: state.CollectedInfo[name]})
	}
	return out
}

func (c *Coordinator) summary(state *core.ConversationState) string {
	return strings.TrimSpace(util.RenderOrRaw(c.opts.SummaryTemplate, map[string]any{"Fields": fields(state)}))
}

func (c *Coordinator) compose(state *core.ConversationState) string {
	return strings.TrimSpace(util.RenderOrRaw(c.opts.RequestTemplate, map[string]any{
		"Original": state.OriginalRequest,
		"Fields":   fields(state),
	}))
}

func (c *Coordinator) question(name string, collected map[string]string) string {
	tmpl, ok := c.opts.Questions[name]
	if !ok {
		return fmt.Sprintf("Please provide the %s.", strings.ReplaceAll(name, "_", " "))
	}
	return util.RenderOrRaw(tmpl, collected)
}

func (c *Coordinator) hasTrigger(tokens []string) bool {
	for _, phrase := range c.triggers {
		if containsSequence(tokens, phrase) {
			return true
		}
	}
	return false
}

// nextMissing returns the first field of RequiredInfo without a value.
func nextMissing(state *core.ConversationState) (string, bool) {
	for _, name := range state.RequiredInfo {
		if _, ok := state.CollectedInfo[name]; !ok {
			return name, true
		}
	}
	return "", false
}

// tokenize splits on whitespace, lower-cases and trims surrounding punctuation.
// Tokens made only of punctuation are dropped.
func tokenize(s string) []string {
	raw := strings.Fields(s)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.TrimFunc(strings.ToLower(tok), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

func containsSequence(tokens, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(tokens); i++ {
		for j := range seq {
			if tokens[i+j] != seq[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

func toSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}

func appendUnique(ids []string, id string) []string {
	out := append([]string(nil), ids...)
	for _, existing := range ids {
		if existing == id {
			return out
		}
	}
	return append(out, id)
}
