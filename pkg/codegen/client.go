// Package codegen is the client of the procedure generation service. The
// service writes Starlark procedures against the cloud.* module of the
// sandbox and repairs them from runtime failures.
package codegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/remote"
)

const (
	GeneratePath = "/v1/generate"
	RepairPath   = "/v1/repair"
)

// generateRules is sent as the system prompt of generation requests.
const generateRules = `Write a Starlark procedure for the request.
Rules:
1. Only the cloud module is available: cloud.invoke, cloud.try_invoke, cloud.describe, cloud.list and cloud.region.
2. Output only code. No markdown fences, no explanations.
3. Never hardcode image ids; look the latest one up with cloud.invoke.
4. Never index a list without checking that it is not empty.
5. Report the outcome with emit({...}) using lowercase keys: success, error, details, message, resource_type, action.
6. On failure put the real provider error text in "error".
7. Never use placeholder identifiers such as "default", "null" or "none" for VPCs, subnets or roles.
8. Use cloud.region when a region is required.
9. Never ask for input; every value comes from the context or a safe default.`

// repairRules is sent as the system prompt of repair requests.
const repairRules = `Repair the failed Starlark procedure.
Rules:
1. Return only executable code.
2. Keep the business intent of the original request.
3. Fix the exact runtime error provided.
4. Always finish with emit({...}) using lowercase keys: success, error, details, message, action, resource_type.
5. Never use placeholder identifiers or fake ARNs.
6. Guard every list before indexing it.
7. Use cloud.region for the region. Never ask for input.`

type generateRequest struct {
	System  string                `json:"system"`
	Prompt  string                `json:"prompt"`
	Context engine.CodegenContext `json:"context"`
}

type repairRequest struct {
	System     string                `json:"system"`
	Prompt     string                `json:"prompt"`
	Context    engine.CodegenContext `json:"context"`
	FailedCode string                `json:"failed_code"`
	Error      string                `json:"error"`
	Output     string                `json:"output,omitempty"`
}

type codeResponse struct {
	Code string `json:"code"`
}

// Client implements engine.Codegen over HTTP.
type Client struct {
	remote *remote.Client
	logger zerolog.Logger
}

var _ engine.Codegen = (*Client)(nil)

// NewClient returns a codegen client over rc.
func NewClient(rc *remote.Client, logger zerolog.Logger) *Client {
	return &Client{
		remote: rc,
		logger: logger.With().Str("component", "codegen").Logger(),
	}
}

// Generate returns a procedure for the prompt, or "" when the service has none.
func (c *Client) Generate(ctx context.Context, prompt string, cctx engine.CodegenContext) (string, error) {
	var resp codeResponse
	req := generateRequest{System: generateRules, Prompt: prompt, Context: cctx}
	if err := c.remote.Post(ctx, "codegen.generate", GeneratePath, req, &resp); err != nil {
		return "", fmt.Errorf("codegen generate: %w", err)
	}
	code := StripFences(resp.Code)
	c.logger.Debug().Int("bytes", len(code)).Msg("Procedure generated")
	return code, nil
}

// Repair returns a corrected procedure, or "" when the service has none.
func (c *Client) Repair(ctx context.Context, prompt string, cctx engine.CodegenContext, failedCode, errText, output string) (string, error) {
	if strings.TrimSpace(errText) == "" {
		errText = "unknown"
	}
	var resp codeResponse
	req := repairRequest{
		System:     repairRules,
		Prompt:     prompt,
		Context:    cctx,
		FailedCode: failedCode,
		Error:      errText,
		Output:     output,
	}
	if err := c.remote.Post(ctx, "codegen.repair", RepairPath, req, &resp); err != nil {
		return "", fmt.Errorf("codegen repair: %w", err)
	}
	return StripFences(resp.Code), nil
}

// StripFences removes a markdown code fence around code, if any.
func StripFences(code string) string {
	code = strings.TrimSpace(code)
	start := strings.Index(code, "```")
	if start < 0 {
		return code
	}
	body := code[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], " =()") {
		// language tag such as ```python or ```starlark
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
