// Package agent implements the conversation-processing pipeline: one
// linear pass per incoming message through thread-continuity detection,
// classification, requirement validation, routing, confidence scoring,
// and escalation, with state persisted per user between invocations.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"converse/internal/config"
	"converse/internal/knowledge"
	"converse/internal/llm"
	"converse/internal/logging"
	"converse/internal/types"
)

// threadWindow is how many prior user messages thread detection sees.
const threadWindow = 3

// validateContextWindow is how many prior messages requirement
// validation sees.
const validateContextWindow = 5

// fallbackResponse is the default-path reply when the LLM call fails.
const fallbackResponse = "I apologize, but I encountered an error while processing your request. Please try again."

// StateStore persists conversation state between invocations. Distinct
// user IDs never observe each other's state.
type StateStore interface {
	GetState(ctx context.Context, userID string) (*types.AgentState, error)
	PutState(ctx context.Context, userID string, state *types.AgentState) error
}

// KnowledgeSource supplies the formatted knowledge block for the
// default response path.
type KnowledgeSource interface {
	RetrieveForQuery(ctx context.Context, query string) string
}

// Options wires a Processor. LLM and Store are required; the rest
// default sensibly. The confidence threshold is taken as configured: a
// zero threshold means replies are never escalated (config.DefaultConfig
// supplies 0.7).
type Options struct {
	Config    config.AgentConfig
	LLM       llm.Client
	Store     StateStore
	Knowledge KnowledgeSource // nil disables the knowledge block
	Scorer    Scorer          // nil means the length heuristic
	Escalator Escalator       // nil means the stock team-review reply
	Prompts   *PromptTemplates
}

// Processor runs the pipeline. One invocation handles exactly one
// message for one user; invocations for the same user are serialized
// through a per-key mutex, different users run concurrently.
type Processor struct {
	cfg       config.AgentConfig
	llm       llm.Client
	store     StateStore
	knowledge KnowledgeSource
	scorer    Scorer
	escalator Escalator
	prompts   PromptTemplates
	registry  *handlerRegistry

	keysMu   sync.Mutex
	userLock map[string]*sync.Mutex
}

// NewProcessor validates the wiring and builds a processor.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.LLM == nil {
		return nil, fmt.Errorf("processor requires an LLM client")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("processor requires a state store")
	}

	scorer := opts.Scorer
	if scorer == nil {
		scorer = NewLengthScorer(opts.Config.LengthCeiling)
	}
	escalator := opts.Escalator
	if escalator == nil {
		escalator = teamReviewEscalator{}
	}
	prompts := DefaultPromptTemplates()
	if opts.Prompts != nil {
		prompts = *opts.Prompts
	}

	return &Processor{
		cfg:       opts.Config,
		llm:       opts.LLM,
		store:     opts.Store,
		knowledge: opts.Knowledge,
		scorer:    scorer,
		escalator: escalator,
		prompts:   prompts,
		registry:  newHandlerRegistry(),
	}, nil
}

// RegisterHandler installs a custom handler for a category.
func (p *Processor) RegisterHandler(category string, h Handler) error {
	return p.registry.register(category, h, p.cfg.Categories)
}

// UnregisterHandler removes a category's handler, if any.
func (p *Processor) UnregisterHandler(category string) {
	p.registry.unregister(category)
}

// lockUser returns the held mutex for a user key, creating it on first
// use. Same-key invocations serialize end to end so a slow invocation
// can never overwrite state written by a later one.
func (p *Processor) lockUser(userID string) *sync.Mutex {
	p.keysMu.Lock()
	if p.userLock == nil {
		p.userLock = make(map[string]*sync.Mutex)
	}
	mu, ok := p.userLock[userID]
	if !ok {
		mu = &sync.Mutex{}
		p.userLock[userID] = mu
	}
	p.keysMu.Unlock()

	mu.Lock()
	return mu
}

// Process runs one message through the pipeline and returns the
// assistant's reply. Collaborator failures degrade per stage; only a
// persistence failure is returned as an error.
func (p *Processor) Process(ctx context.Context, userID, content string) (types.Message, error) {
	if strings.TrimSpace(userID) == "" {
		return types.Message{}, fmt.Errorf("user ID must be non-empty")
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, fmt.Errorf("message must be non-empty")
	}

	mu := p.lockUser(userID)
	defer mu.Unlock()

	state, err := p.store.GetState(ctx, userID)
	if err != nil {
		return types.Message{}, fmt.Errorf("load state: %w", err)
	}
	hadPrior := state != nil
	if state == nil {
		state = types.NewAgentState()
	}
	if state.RequirementAttempts == nil {
		state.RequirementAttempts = make(map[string]int)
	}

	userMsg := types.NewMessage(types.RoleUser, content)
	state.Messages = append(state.Messages, userMsg)
	state.WorkflowStep = types.StepStart
	state.Confidence = nil
	state.NeedsEscalation = false

	p.threadCheck(ctx, state, hadPrior)
	p.classify(ctx, state)
	p.validate(ctx, state)

	var reply types.Message
	if len(state.MissingRequirements) > 0 {
		reply = p.askInfo(ctx, state)
	} else {
		reply = p.route(ctx, state)
	}

	// WorkflowStep keeps the last stage that produced the reply, so the
	// persisted state records how this invocation ended.
	state.Messages = append(state.Messages, reply)
	if err := p.store.PutState(ctx, userID, state); err != nil {
		return reply, fmt.Errorf("persist state: %w", err)
	}
	return reply, nil
}

// threadCheck decides whether the message opens a new topic. A fresh
// user, or one with no prior user messages, is implicitly NEW. LLM
// failure degrades to CONTINUE, the conservative verdict.
func (p *Processor) threadCheck(ctx context.Context, state *types.AgentState, hadPrior bool) {
	state.WorkflowStep = types.StepThreadCheck

	reset := func() {
		state.MissingRequirements = nil
		state.RequirementAttempts = make(map[string]int)
		state.Category = ""
	}

	if !hadPrior {
		reset()
		return
	}
	// Skip the just-appended message when gathering the prior window.
	prior := &types.AgentState{Messages: state.Messages[:len(state.Messages)-1]}
	recent := prior.RecentUserMessages(threadWindow)
	if len(recent) == 0 {
		reset()
		return
	}

	prompt := fmt.Sprintf(p.prompts.ThreadCheck,
		strings.Join(recent, " | "), state.LastUserMessage().Content)
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		logging.AgentDebug("thread check failed, assuming CONTINUE: %v", err)
		return
	}
	if strings.ToUpper(strings.TrimSpace(raw)) == "NEW" {
		logging.AgentDebug("thread check: NEW topic, resetting requirement state")
		reset()
	}
}

// classify assigns a category. No configured categories means the
// default sentinel without an LLM call. An unrecognized or failed
// classification is the default sentinel, never an error.
func (p *Processor) classify(ctx context.Context, state *types.AgentState) {
	state.WorkflowStep = types.StepClassify

	if len(p.cfg.Categories) == 0 {
		state.Category = types.DefaultCategory
		return
	}

	prompt := fmt.Sprintf(p.prompts.Classify,
		strings.Join(p.cfg.Categories, ", "), state.LastUserMessage().Content)
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		logging.AgentDebug("classification failed, using default category: %v", err)
		state.Category = types.DefaultCategory
		return
	}

	got := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range p.cfg.Categories {
		if strings.ToLower(c) == got {
			state.Category = c
			logging.AgentDebug("classified as %s", c)
			return
		}
	}
	state.Category = types.DefaultCategory
}

// validate checks category requirements against the conversation. The
// attempts counter increments whenever at least one field is missing;
// it exists for handlers and tests to notice repeated stalls. LLM
// failure degrades to "nothing missing" so the pipeline proceeds.
func (p *Processor) validate(ctx context.Context, state *types.AgentState) {
	state.WorkflowStep = types.StepValidate
	state.MissingRequirements = nil

	req := p.requirementFor(state.Category)
	if req == nil || len(req.RequiredFields) == 0 {
		return
	}

	prompt := fmt.Sprintf(p.prompts.Validate,
		strings.Join(req.RequiredFields, ", "),
		conversationContext(state, validateContextWindow),
		state.LastUserMessage().Content)
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil {
		logging.AgentDebug("requirements check failed, proceeding without: %v", err)
		return
	}

	result := strings.TrimSpace(raw)
	if strings.EqualFold(result, "NONE") {
		return
	}

	var missing []string
	for _, field := range strings.Split(result, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		// Keep the configured spelling regardless of how the model
		// cased the field name.
		for _, want := range req.RequiredFields {
			if strings.EqualFold(field, want) {
				missing = append(missing, want)
				break
			}
		}
	}
	state.MissingRequirements = missing
	if len(missing) > 0 {
		state.RequirementAttempts[state.Category]++
		logging.AgentDebug("missing %v for %s (attempt %d)",
			missing, state.Category, state.RequirementAttempts[state.Category])
	}
}

// askInfo short-circuits the invocation with a request for the missing
// fields. Routing and confidence scoring are skipped entirely.
func (p *Processor) askInfo(ctx context.Context, state *types.AgentState) types.Message {
	state.WorkflowStep = types.StepAskInfo

	prompt := fmt.Sprintf(p.prompts.AskInfo,
		state.LastUserMessage().Content, strings.Join(state.MissingRequirements, ", "))
	raw, err := p.llm.Complete(ctx, prompt)
	if err != nil || strings.TrimSpace(raw) == "" {
		raw = fmt.Sprintf("I can help with that! I just need your %s.",
			strings.Join(state.MissingRequirements, ", "))
	}
	return types.NewMessage(types.RoleAssistant, strings.TrimSpace(raw))
}

// route dispatches to a registered handler, or runs the default
// response path followed by confidence scoring and escalation. Handler
// responses are trusted verbatim and leave confidence unset.
func (p *Processor) route(ctx context.Context, state *types.AgentState) types.Message {
	state.WorkflowStep = types.StepRoute

	if h, ok := p.registry.lookup(state.Category); ok {
		state.WorkflowStep = types.StepHandler
		resp, err := h.Handle(state)
		if err != nil || len(resp.Messages) == 0 {
			if err != nil {
				logging.Get(logging.CategoryAgent).Warnf("handler for %s failed: %v", state.Category, err)
			}
			return types.NewMessage(types.RoleAssistant, fallbackResponse)
		}
		return resp.Messages[len(resp.Messages)-1]
	}

	reply := p.defaultResponse(ctx, state)
	return p.scoreAndMaybeEscalate(state, reply)
}

// defaultResponse composes personality, the knowledge block, tool
// names, and the full history into one prompt. LLM failure degrades to
// the fixed apologetic fallback.
func (p *Processor) defaultResponse(ctx context.Context, state *types.AgentState) types.Message {
	state.WorkflowStep = types.StepDefaultResponse

	var b strings.Builder
	b.WriteString(p.cfg.Personality)

	if p.knowledge != nil {
		block := p.knowledge.RetrieveForQuery(ctx, state.LastUserMessage().Content)
		if block != "" && block != knowledge.NoKnowledgeFound {
			b.WriteString("\n\nKnowledge:\n")
			b.WriteString(block)
		}
	}
	if len(p.cfg.Tools) > 0 {
		b.WriteString("\n\nTools: ")
		b.WriteString(strings.Join(p.cfg.Tools, ", "))
	}

	b.WriteString("\n\nConversation history (use this context to provide relevant responses):")
	for _, msg := range state.Messages {
		role := "User"
		if msg.Role == types.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "\n%s: %s", role, msg.Content)
	}
	b.WriteString("\nAssistant:")

	raw, err := p.llm.Complete(ctx, b.String())
	if err != nil {
		logging.Get(logging.CategoryAgent).Warnf("default response failed: %v", err)
		raw = fallbackResponse
	}
	return types.NewMessage(types.RoleAssistant, strings.TrimSpace(raw))
}

// scoreAndMaybeEscalate applies the confidence gate to a default-path
// reply. Below threshold, the escalator's reply replaces it.
func (p *Processor) scoreAndMaybeEscalate(state *types.AgentState, reply types.Message) types.Message {
	state.WorkflowStep = types.StepConfidence

	score := p.scorer.Score(state, reply.Content)
	state.Confidence = &score
	state.NeedsEscalation = score < p.cfg.ConfidenceThreshold
	if !state.NeedsEscalation {
		return reply
	}

	state.WorkflowStep = types.StepEscalate
	logging.AgentDebug("confidence %.2f below threshold %.2f, escalating", score, p.cfg.ConfidenceThreshold)
	resp := p.escalator.Escalate(state)
	if len(resp.Messages) == 0 {
		return reply
	}
	return resp.Messages[len(resp.Messages)-1]
}

func (p *Processor) requirementFor(category string) *types.CategoryRequirement {
	for i := range p.cfg.Requirements {
		if p.cfg.Requirements[i].Category == category {
			return &p.cfg.Requirements[i]
		}
	}
	return nil
}

// conversationContext formats the last n messages for the validation
// prompt, excluding the just-appended current message.
func conversationContext(state *types.AgentState, n int) string {
	msgs := state.Messages
	if len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	if len(msgs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\nConversation history:\n")
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		role := "User"
		if msg.Role == types.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s", role, msg.Content)
	}
	b.WriteString("\n")
	return b.String()
}
