package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Resource is a simulated cloud resource.
type Resource struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Name       string                 `json:"name,omitempty"`
	Region     string                 `json:"region"`
	Status     string                 `json:"status"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`

	// settle counts the describes left before the resource is ready.
	settle int
}

// Failure makes matching operations fail until it is used up or cleared.
type Failure struct {
	Action       engine.Action
	ResourceType string
	Message      string

	// Times is the number of calls that fail. Zero fails until cleared.
	Times int

	// ClearedBy is the remediation step type that removes the failure.
	ClearedBy string
}

func (f *Failure) matches(action engine.Action, resourceType string) bool {
	if f.Action != "" && f.Action != action {
		return false
	}
	return f.ResourceType == "" || f.ResourceType == "*" || strings.EqualFold(f.ResourceType, resourceType)
}

// SimulatorOptions configures a Simulator.
type SimulatorOptions struct {
	// Region is used when a request names none.
	Region string

	// SettleAfter is the number of describes a new resource stays in its
	// transitional state.
	SettleAfter int

	// RequireCredentials rejects calls without complete credentials on the context.
	RequireCredentials bool

	Logger zerolog.Logger
	Now    func() time.Time
}

// Simulator is an in-memory provisioning backend. It keeps resources per type,
// models transitional states and lets tests inject failures that remediation
// steps clear.
type Simulator struct {
	opts     SimulatorOptions
	logger   zerolog.Logger
	registry *Registry

	mu        sync.Mutex
	resources map[string]map[string]*Resource
	failures  []*Failure
	steps     []engine.RemediationStep
}

var _ engine.Backend = (*Simulator)(nil)

// NewSimulator returns a simulator with fixed handlers for every simulated
// resource type and a default network.
func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Simulator{
		opts:      opts,
		logger:    opts.Logger.With().Str("component", "backend-simulator").Logger(),
		registry:  NewRegistry(),
		resources: make(map[string]map[string]*Resource),
	}

	for _, rt := range simulatedTypes() {
		for _, action := range []engine.Action{engine.ActionCreate, engine.ActionUpdate, engine.ActionDelete, engine.ActionList, engine.ActionDescribe} {
			_ = s.registry.Register(action, rt, s.apply)
		}
	}
	for _, rt := range []string{"ec2", "eks", "ecs"} {
		_ = s.registry.Register(engine.ActionDeploy, rt, s.deploy)
	}

	s.seedDefaultNetwork()
	return s
}

func (s *Simulator) seedDefaultNetwork() {
	now := s.opts.Now()
	seed := []*Resource{
		{ID: "vpc-default", Type: "vpc", Name: "default", Attributes: map[string]interface{}{"is_default": true, "cidr_block": "172.31.0.0/16"}},
		{ID: "subnet-default-a", Type: "subnet", Name: "default-a", Attributes: map[string]interface{}{"vpc_id": "vpc-default", "availability_zone": s.opts.Region + "a"}},
		{ID: "subnet-default-b", Type: "subnet", Name: "default-b", Attributes: map[string]interface{}{"vpc_id": "vpc-default", "availability_zone": s.opts.Region + "b"}},
		{ID: "sg-default", Type: "security_group", Name: "default", Attributes: map[string]interface{}{"vpc_id": "vpc-default"}},
	}
	for _, r := range seed {
		r.Region = s.opts.Region
		r.Status = profileFor(r.Type).ready
		r.CreatedAt, r.UpdatedAt = now, now
		s.put(r)
	}
}

// Seed stores a resource as is.
func (s *Simulator) Seed(r Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Region == "" {
		r.Region = s.opts.Region
	}
	if r.Status == "" {
		r.Status = profileFor(r.Type).ready
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.opts.Now()
		r.UpdatedAt = r.CreatedAt
	}
	s.put(&r)
}

// InjectFailure registers a failure.
func (s *Simulator) InjectFailure(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &f)
}

// Steps returns the remediation steps run so far.
func (s *Simulator) Steps() []engine.RemediationStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.RemediationStep(nil), s.steps...)
}

// Resource returns a copy of a stored resource.
func (s *Simulator) Resource(resourceType, id string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.get(resourceType, id)
	if r == nil {
		return Resource{}, false
	}
	out := *r
	out.Attributes = engine.CloneMap(r.Attributes)
	return out, true
}

// HasHandler implements engine.Backend.
func (s *Simulator) HasHandler(action engine.Action, resourceType string) bool {
	return s.registry.Has(action, resourceType)
}

// Handlers returns the registered fixed handlers.
func (s *Simulator) Handlers() []string {
	return s.registry.Keys()
}

// Execute implements engine.Backend.
func (s *Simulator) Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return engine.Failure(errMissingCredentials), nil
	}
	return s.registry.Dispatch(ctx, req)
}

const errMissingCredentials = "AWS credentials are required: Unable to locate credentials"

func (s *Simulator) checkCredentials(ctx context.Context) error {
	if !s.opts.RequireCredentials {
		return nil
	}
	if !engine.CredentialsFromContext(ctx).Complete() {
		return engine.NewValidationError(errMissingCredentials, nil)
	}
	return nil
}

// apply is the fixed handler of the CRUD actions.
func (s *Simulator) apply(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	rt := strings.ToLower(strings.TrimSpace(req.ResourceType))
	region := s.region(ctx, req.Region)

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg := s.takeFailure(req.Action, rt); msg != "" {
		s.logger.Debug().Str("action", string(req.Action)).Str("resource_type", rt).Msg("Injected failure")
		return engine.Failure(msg), nil
	}

	switch req.Action {
	case engine.ActionCreate:
		return s.create(rt, region, req)
	case engine.ActionUpdate:
		return s.update(rt, req)
	case engine.ActionDelete:
		return s.delete(rt, req)
	case engine.ActionList:
		items := s.list(rt, 0)
		list := make([]interface{}, 0, len(items))
		for _, item := range items {
			list = append(list, item)
		}
		return &engine.ExecutionResult{
			Success: true,
			Payload: map[string]interface{}{"count": len(items), "items": list},
			Message: fmt.Sprintf("Found %d %s resources.", len(items), rt),
		}, nil
	case engine.ActionDescribe:
		id := s.identifierOf(rt, req)
		r := s.get(rt, id)
		if r == nil {
			return engine.Failure(notFound(rt, id).Error()), nil
		}
		return &engine.ExecutionResult{Success: true, Payload: s.describe(r, false)}, nil
	}
	return nil, fmt.Errorf("action %s: %w", req.Action, engine.ErrUnsupported)
}

func (s *Simulator) create(rt, region string, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	profile := profileFor(rt)
	name := strings.TrimSpace(req.ResourceName)
	if name == "" {
		name = engine.StringValue(req.Parameters["name"])
	}

	id := s.identifierOf(rt, req)
	if id == "" || (profile.idPrefix != "" && !strings.HasPrefix(id, profile.idPrefix)) {
		if profile.idPrefix != "" {
			id = profile.idPrefix + shortHex(12)
		} else {
			id = name
		}
	}
	if id == "" {
		return engine.Failure(fmt.Sprintf("A name is required to create %s.", rt)), nil
	}
	if existing := s.get(rt, id); existing != nil {
		return engine.Failure(fmt.Sprintf("%s %s already exists (AlreadyExists).", rt, id)), nil
	}

	now := s.opts.Now()
	attrs := engine.CloneMap(req.Parameters)
	for k, v := range req.Tags {
		if attrs["tags"] == nil {
			attrs["tags"] = map[string]interface{}{}
		}
		attrs["tags"].(map[string]interface{})[k] = v
	}
	r := &Resource{
		ID:         id,
		Type:       rt,
		Name:       name,
		Region:     region,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
		settle:     s.opts.SettleAfter,
	}
	r.Status = profile.ready
	if r.settle > 0 && profile.pending != "" {
		r.Status = profile.pending
	}
	decorate(r)
	s.put(r)

	s.logger.Info().Str("resource_type", rt).Str("id", id).Msg("Simulated resource created")

	payload := s.describe(r, false)
	return &engine.ExecutionResult{
		Success: true,
		Payload: payload,
		Message: fmt.Sprintf("Created %s %s.", rt, id),
	}, nil
}

func (s *Simulator) update(rt string, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	id := s.identifierOf(rt, req)
	r := s.get(rt, id)
	if r == nil {
		return engine.Failure(notFound(rt, id).Error()), nil
	}
	for k, v := range req.Parameters {
		if engine.IsEmptyValue(v) {
			continue
		}
		r.Attributes[k] = v
	}
	r.UpdatedAt = s.opts.Now()
	return &engine.ExecutionResult{
		Success: true,
		Payload: s.describe(r, false),
		Message: fmt.Sprintf("Updated %s %s.", rt, id),
	}, nil
}

func (s *Simulator) delete(rt string, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	id := s.identifierOf(rt, req)
	if s.get(rt, id) == nil {
		return engine.Failure(notFound(rt, id).Error()), nil
	}
	delete(s.resources[rt], id)
	payload := map[string]interface{}{"deleted": true, "resource_name": id}
	if keys := engine.IdentifierKeys(rt); len(keys) > 0 {
		payload[keys[0]] = id
	}
	return &engine.ExecutionResult{
		Success: true,
		Payload: payload,
		Message: fmt.Sprintf("Deleted %s %s.", rt, id),
	}, nil
}

// deploy installs an application on a compute resource.
func (s *Simulator) deploy(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	rt := strings.ToLower(req.ResourceType)

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg := s.takeFailure(engine.ActionDeploy, rt); msg != "" {
		return engine.Failure(msg), nil
	}

	id := s.identifierOf(rt, req)
	r := s.get(rt, id)
	if r == nil {
		return engine.Failure(notFound(rt, id).Error()), nil
	}
	targets := engine.StringList(req.Parameters["app_targets"])
	if len(targets) == 0 {
		return &engine.ExecutionResult{
			RequiresInput:  true,
			QuestionPrompt: "What should I deploy?",
			Questions: []engine.Question{{
				Variable: "app_targets",
				Prompt:   "Which applications should be deployed (for example nginx, docker)?",
				Type:     engine.QuestionString,
				Hint:     "Comma-separated list.",
			}},
		}, nil
	}

	port := engine.IntValue(req.Parameters["app_port"], 80)
	r.Attributes["app_targets"] = targets
	r.Attributes["app_port"] = port
	r.UpdatedAt = s.opts.Now()

	payload := s.describe(r, false)
	payload["deployed"] = true
	payload["app_targets"] = targets
	if engine.ToBool(req.Parameters["public_access"], true) {
		payload["app_url"] = fmt.Sprintf("http://%s.apps.%s.simulated.internal:%d", r.ID, r.Region, port)
	}
	return &engine.ExecutionResult{
		Success: true,
		Payload: payload,
		Message: fmt.Sprintf("Deployed %s to %s %s.", strings.Join(targets, ", "), rt, r.ID),
	}, nil
}

// Describe implements engine.Backend. Each call advances a transitional
// resource one step toward ready.
func (s *Simulator) Describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	rt := strings.ToLower(strings.TrimSpace(resourceType))

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.get(rt, identifier)
	if r == nil {
		return nil, notFound(rt, identifier)
	}
	return s.describe(r, true), nil
}

// List implements engine.Backend.
func (s *Simulator) List(ctx context.Context, resourceType string, limit int) ([]map[string]interface{}, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(strings.ToLower(strings.TrimSpace(resourceType)), limit), nil
}

// ListChoices implements engine.Backend.
func (s *Simulator) ListChoices(ctx context.Context, resourceType string, limit int) ([]string, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, r := range s.sorted(strings.ToLower(strings.TrimSpace(resourceType))) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if r.Name != "" && r.Name != r.ID {
			out = append(out, r.ID+" | "+r.Name)
		} else {
			out = append(out, r.ID)
		}
	}
	return out, nil
}

// DiscoverInventory implements engine.Backend.
func (s *Simulator) DiscoverInventory(ctx context.Context, resourceTypes []string, perTypeLimit int) (map[string]engine.InventorySummary, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]engine.InventorySummary, len(resourceTypes))
	for _, rt := range resourceTypes {
		rt = strings.ToLower(strings.TrimSpace(rt))
		all := s.sorted(rt)
		summary := engine.InventorySummary{Count: len(all), SampleIDs: []string{}}
		for _, r := range all {
			if perTypeLimit > 0 && len(summary.SampleIDs) >= perTypeLimit {
				break
			}
			summary.SampleIDs = append(summary.SampleIDs, r.ID)
		}
		out[rt] = summary
	}
	return out, nil
}

func (s *Simulator) region(ctx context.Context, requested string) string {
	if r := strings.TrimSpace(requested); r != "" {
		return r
	}
	if creds := engine.CredentialsFromContext(ctx); creds != nil && creds.Region != "" {
		return creds.Region
	}
	return s.opts.Region
}

// takeFailure consumes the first failure matching the pair. Callers hold mu.
func (s *Simulator) takeFailure(action engine.Action, rt string) string {
	for i, f := range s.failures {
		if !f.matches(action, rt) {
			continue
		}
		msg := f.Message
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				s.failures = append(s.failures[:i], s.failures[i+1:]...)
			}
		}
		return msg
	}
	return ""
}

// identifierOf reads the identifier from the request's identifier keys,
// its resource name, or the selected existing resource.
func (s *Simulator) identifierOf(rt string, req engine.ExecuteRequest) string {
	for _, key := range engine.IdentifierKeys(rt) {
		if v := engine.StringValue(req.Parameters[key]); v != "" {
			return v
		}
	}
	for _, key := range []string{"target_resource_id", "existing_resource_id"} {
		if v := engine.StringValue(req.Parameters[key]); v != "" {
			return strings.TrimSpace(strings.SplitN(v, "|", 2)[0])
		}
	}
	if req.Action != engine.ActionCreate {
		return strings.TrimSpace(req.ResourceName)
	}
	return ""
}

func (s *Simulator) put(r *Resource) {
	if s.resources[r.Type] == nil {
		s.resources[r.Type] = make(map[string]*Resource)
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]interface{})
	}
	s.resources[r.Type][r.ID] = r
}

// get looks a resource up by id, then by name.
func (s *Simulator) get(rt, id string) *Resource {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if r, ok := s.resources[rt][id]; ok {
		return r
	}
	for _, r := range s.resources[rt] {
		if r.Name == id {
			return r
		}
	}
	return nil
}

func (s *Simulator) sorted(rt string) []*Resource {
	out := make([]*Resource, 0, len(s.resources[rt]))
	for _, r := range s.resources[rt] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Simulator) list(rt string, limit int) []map[string]interface{} {
	var out []map[string]interface{}
	for _, r := range s.sorted(rt) {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.describe(r, false))
	}
	return out
}

// describe renders a resource. advance moves a settling resource forward.
func (s *Simulator) describe(r *Resource, advance bool) map[string]interface{} {
	profile := profileFor(r.Type)
	if advance && r.settle > 0 {
		r.settle--
		if r.settle == 0 {
			r.Status = profile.ready
		}
	}

	out := engine.CloneMap(r.Attributes)
	if keys := engine.IdentifierKeys(r.Type); len(keys) > 0 {
		out[keys[0]] = r.ID
	}
	out["id"] = r.ID
	out["resource_name"] = firstNonEmpty(r.Name, r.ID)
	out["region"] = r.Region
	out["status"] = r.Status
	out["created_at"] = r.CreatedAt.UTC().Format(time.RFC3339)

	switch r.Type {
	case "ec2":
		out["state"] = r.Status
		check := "ok"
		if r.settle > 0 {
			check = "initializing"
		}
		out["instance_status"] = check
		out["system_status"] = check
	case "eks":
		if r.settle > 0 {
			out["nodegroups"] = []string{}
		} else if _, ok := out["nodegroups"]; !ok {
			out["nodegroups"] = []string{r.ID + "-default"}
		}
	}
	return out
}

func notFound(rt, id string) error {
	return engine.NewExecutionFailure(fmt.Sprintf("%s %s not found (ResourceNotFound)", rt, id), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(rt)
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
