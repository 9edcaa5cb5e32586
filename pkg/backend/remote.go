package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/remote"
)

// RemoteBackend calls a provisioning backend served by Server.
type RemoteBackend struct {
	client *remote.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]bool
}

var _ engine.Backend = (*RemoteBackend)(nil)

// NewRemote returns a backend client. The handler list is fetched by Refresh.
func NewRemote(client *remote.Client, logger zerolog.Logger) *RemoteBackend {
	return &RemoteBackend{
		client:   client,
		logger:   logger.With().Str("component", "remote-backend").Logger(),
		handlers: map[string]bool{},
	}
}

// Refresh reloads the fixed handler list used by HasHandler.
func (b *RemoteBackend) Refresh(ctx context.Context) error {
	var resp handlersResponse
	if err := b.client.Get(ctx, "backend.handlers", RouteHandlers, &resp); err != nil {
		return fmt.Errorf("failed to fetch backend handlers: %w", err)
	}
	handlers := make(map[string]bool, len(resp.Handlers))
	for _, h := range resp.Handlers {
		handlers[h] = true
	}

	b.mu.Lock()
	b.handlers = handlers
	b.mu.Unlock()

	b.logger.Info().Int("handlers", len(handlers)).Msg("Backend handlers loaded")
	return nil
}

// HasHandler implements engine.Backend.
func (b *RemoteBackend) HasHandler(action engine.Action, resourceType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers[handlerKey(action, resourceType)]
}

func (b *RemoteBackend) call(ctx context.Context, span, route string, req *wireRequest, out interface{}) error {
	req.Credentials = engine.CredentialsFromContext(ctx)
	return mapError(b.client.Post(ctx, span, route, req, out))
}

// mapError restores the engine error kinds the server flattened into statuses.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se *remote.StatusError
	if !errors.As(err, &se) {
		return err
	}
	var body errorResponse
	msg := se.Body
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	switch se.Code {
	case http.StatusNotImplemented:
		return fmt.Errorf("%s: %w", msg, engine.ErrUnsupported)
	case http.StatusNotFound:
		return engine.NewExecutionFailure(msg, nil).WithCode(engine.ErrCodeNotFound)
	case http.StatusBadRequest:
		return engine.NewValidationError(msg, nil)
	}
	e := engine.NewExecutionFailure(msg, err)
	if body.Code != "" {
		e = e.WithCode(body.Code)
	}
	return e
}

// Execute implements engine.Backend.
func (b *RemoteBackend) Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	var res engine.ExecutionResult
	if err := b.call(ctx, "backend.execute", RouteExecute, &wireRequest{Execute: &req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Describe implements engine.Backend.
func (b *RemoteBackend) Describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	var resp objectResponse
	err := b.call(ctx, "backend.describe", RouteDescribe, &wireRequest{ResourceType: resourceType, Identifier: identifier}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// List implements engine.Backend.
func (b *RemoteBackend) List(ctx context.Context, resourceType string, limit int) ([]map[string]interface{}, error) {
	var resp listResponse
	err := b.call(ctx, "backend.list", RouteList, &wireRequest{ResourceType: resourceType, Limit: limit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// ListChoices implements engine.Backend.
func (b *RemoteBackend) ListChoices(ctx context.Context, resourceType string, limit int) ([]string, error) {
	var resp choicesResponse
	err := b.call(ctx, "backend.choices", RouteChoices, &wireRequest{ResourceType: resourceType, Limit: limit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Choices, nil
}

// DiscoverInventory implements engine.Backend.
func (b *RemoteBackend) DiscoverInventory(ctx context.Context, resourceTypes []string, perTypeLimit int) (map[string]engine.InventorySummary, error) {
	var resp inventoryResponse
	err := b.call(ctx, "backend.inventory", RouteInventory, &wireRequest{ResourceTypes: resourceTypes, Limit: perTypeLimit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Inventory, nil
}

// Invoke implements engine.Backend.
func (b *RemoteBackend) Invoke(ctx context.Context, call engine.OperationCall) (map[string]interface{}, error) {
	var resp objectResponse
	if err := b.call(ctx, "backend.invoke", RouteInvoke, &wireRequest{Call: &call}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// AutoFill implements engine.Backend.
func (b *RemoteBackend) AutoFill(ctx context.Context, req engine.AutoFillRequest) (map[string]interface{}, error) {
	var resp objectResponse
	if err := b.call(ctx, "backend.autofill", RouteAutoFill, &wireRequest{AutoFill: &req}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// RunRemediationStep implements engine.Backend.
func (b *RemoteBackend) RunRemediationStep(ctx context.Context, step engine.RemediationStep) (map[string]interface{}, error) {
	var resp objectResponse
	if err := b.call(ctx, "backend.remediation_step", RouteStep, &wireRequest{Step: &step}, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}
