package backend

import (
	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Routes served by Mount and called by RemoteBackend, relative to the mount point.
const (
	RouteHandlers  = "/handlers"
	RouteExecute   = "/execute"
	RouteDescribe  = "/describe"
	RouteList      = "/list"
	RouteChoices   = "/choices"
	RouteInventory = "/inventory"
	RouteInvoke    = "/invoke"
	RouteAutoFill  = "/autofill"
	RouteStep      = "/remediation-steps"
)

// wireRequest is the body of every backend call. Only the fields of the
// called route are set. Credentials travel in the body because the server
// side puts them back on the request context.
type wireRequest struct {
	Credentials *engine.Credentials `json:"credentials,omitempty"`

	Execute  *engine.ExecuteRequest  `json:"execute,omitempty"`
	Call     *engine.OperationCall   `json:"call,omitempty"`
	AutoFill *engine.AutoFillRequest `json:"autofill,omitempty"`
	Step     *engine.RemediationStep `json:"step,omitempty"`

	ResourceType  string   `json:"resource_type,omitempty"`
	ResourceTypes []string `json:"resource_types,omitempty"`
	Identifier    string   `json:"identifier,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

type handlersResponse struct {
	Handlers []string `json:"handlers"`
}

type objectResponse struct {
	Result map[string]interface{} `json:"result"`
}

type listResponse struct {
	Items []map[string]interface{} `json:"items"`
}

type choicesResponse struct {
	Choices []string `json:"choices"`
}

type inventoryResponse struct {
	Inventory map[string]engine.InventorySummary `json:"inventory"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
