package prereq

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// DefaultChoiceLimit bounds the existing-resource options offered in one question.
const DefaultChoiceLimit = 25

// Prompts attached to the resolution for each kind of question.
const (
	selectionPrompt = "Choose which existing resource to use, or create a new one."
	alignmentPrompt = "Your request looks like it targets a different service."
	fieldsPrompt    = "I need a few required inputs before provisioning."
)

// Options configures a Resolver.
type Options struct {
	// Backend supplies auto-fill, inventory and choices. Optional.
	Backend engine.Backend

	// Schemas resolves operation input requirements. Optional.
	Schemas engine.SchemaIntrospector

	// ChoiceLimit bounds listed existing resources. Defaults to DefaultChoiceLimit.
	ChoiceLimit int

	Logger zerolog.Logger
}

// Resolver asks for whatever a request still needs before execution.
type Resolver struct {
	backend     engine.Backend
	schemas     engine.SchemaIntrospector
	choiceLimit int
	logger      zerolog.Logger
}

var _ engine.PrerequisiteResolver = (*Resolver)(nil)

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	limit := opts.ChoiceLimit
	if limit <= 0 {
		limit = DefaultChoiceLimit
	}
	return &Resolver{
		backend:     opts.Backend,
		schemas:     opts.Schemas,
		choiceLimit: limit,
		logger:      opts.Logger.With().Str("component", "prereq").Logger(),
	}
}

// Resolve runs auto-fill, existing-resource selection, service alignment and
// operation field checks, stopping at the first step that produces questions.
func (r *Resolver) Resolve(ctx context.Context, req engine.ResolveRequest) (*engine.Resolution, error) {
	if req.Intent == nil {
		return nil, fmt.Errorf("resolve prerequisites: intent is nil")
	}
	intent := req.Intent.Clone()
	if intent.Parameters == nil {
		intent.Parameters = make(map[string]interface{})
	}

	creds := requestCredentials(req)
	if creds.Complete() && (intent.Action == engine.ActionCreate || intent.Action == engine.ActionUpdate) {
		sub := req
		sub.Intent = intent
		sub.Credentials = creds
		if filled := r.AutoFill(ctx, sub); filled != nil {
			intent = filled
		}
	}

	if qs := r.selectionQuestions(ctx, intent, creds); len(qs) > 0 {
		r.logger.Debug().Str("resource_type", intent.ResourceType).Int("questions", len(qs)).Msg("Existing-resource selection required")
		return &engine.Resolution{Intent: intent, Questions: qs, Prompt: selectionPrompt}, nil
	}

	if qs := alignmentQuestions(intent, req.Text); len(qs) > 0 {
		r.logger.Debug().Str("resource_type", intent.ResourceType).Msg("Service alignment question raised")
		return &engine.Resolution{Intent: intent, Questions: qs, Prompt: alignmentPrompt}, nil
	}

	questions := append(r.MissingFields(ctx, intent, req.Text), legacyQuestions(intent)...)
	questions = engine.DedupeQuestions(questions)
	res := &engine.Resolution{Intent: intent, Questions: questions}
	if len(questions) > 0 {
		res.Prompt = fieldsPrompt
	}
	return res, nil
}

// AutoFill asks the backend for safe defaults and merges them over the
// intent's parameters. It returns the input intent unchanged on any failure.
func (r *Resolver) AutoFill(ctx context.Context, req engine.ResolveRequest) *engine.Intent {
	intent := req.Intent
	if intent == nil || r.backend == nil || intent.ResourceType == "" {
		return intent
	}
	if intent.Action != engine.ActionCreate && intent.Action != engine.ActionUpdate {
		return intent
	}
	creds := requestCredentials(req)
	if !creds.Complete() {
		return intent
	}

	env := req.Environment
	if env == "" {
		env = "dev"
	}
	tags := map[string]string{"ManagedBy": "cloudpilot", "Environment": env}
	for k, v := range req.Tags {
		tags[k] = v
	}

	ctx = engine.WithCredentials(ctx, creds)
	params, err := r.backend.AutoFill(ctx, engine.AutoFillRequest{
		Action:       intent.Action,
		ResourceType: intent.ResourceType,
		ResourceName: intent.ResourceName,
		Parameters:   engine.CloneMap(intent.Parameters),
		Tags:         tags,
		Environment:  env,
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", intent.ResourceType).Msg("Auto-fill failed, continuing with given parameters")
		return intent
	}
	if len(params) == 0 {
		return intent
	}

	out := intent.Clone()
	if out.Parameters == nil {
		out.Parameters = make(map[string]interface{})
	}
	for k, v := range params {
		if engine.IsEmptyValue(v) {
			continue
		}
		out.Parameters[k] = v
	}
	return out
}

// requestCredentials merges request credentials with any answered credential variables.
func requestCredentials(req engine.ResolveRequest) *engine.Credentials {
	creds := engine.CredentialsFromVariables(req.Credentials, req.Answers)
	if creds == nil && req.Intent != nil {
		creds = engine.CredentialsFromVariables(nil, req.Intent.Parameters)
	}
	return creds
}
