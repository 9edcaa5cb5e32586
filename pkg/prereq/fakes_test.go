package prereq

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

type fakeBackend struct {
	choices   []string
	choiceErr error
	inventory map[string]engine.InventorySummary
	autofill  map[string]interface{}
	fillErr   error

	choiceCalls int
	fillReqs    []engine.AutoFillRequest
	fillCreds   []*engine.Credentials
}

func (f *fakeBackend) Execute(ctx context.Context, req engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) HasHandler(action engine.Action, resourceType string) bool { return false }

func (f *fakeBackend) Describe(ctx context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) List(ctx context.Context, resourceType string, limit int) ([]map[string]interface{}, error) {
	return nil, nil
}

func (f *fakeBackend) ListChoices(ctx context.Context, resourceType string, limit int) ([]string, error) {
	f.choiceCalls++
	return f.choices, f.choiceErr
}

func (f *fakeBackend) DiscoverInventory(ctx context.Context, resourceTypes []string, perTypeLimit int) (map[string]engine.InventorySummary, error) {
	return f.inventory, nil
}

func (f *fakeBackend) Invoke(ctx context.Context, call engine.OperationCall) (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) AutoFill(ctx context.Context, req engine.AutoFillRequest) (map[string]interface{}, error) {
	f.fillReqs = append(f.fillReqs, req)
	f.fillCreds = append(f.fillCreds, engine.CredentialsFromContext(ctx))
	return f.autofill, f.fillErr
}

func (f *fakeBackend) RunRemediationStep(ctx context.Context, step engine.RemediationStep) (map[string]interface{}, error) {
	return nil, nil
}

// fakeSchemas serves operation schemas keyed by "action:resource_type".
type fakeSchemas struct {
	operations map[string]*engine.OperationSchema
}

func (f *fakeSchemas) ResolveOperation(service, resourceType string, action engine.Action) string {
	if s, ok := f.operations[string(action)+":"+resourceType]; ok {
		return s.Operation
	}
	return ""
}

func (f *fakeSchemas) OperationSchema(service, operation string) (*engine.OperationSchema, error) {
	for _, s := range f.operations {
		if s.Operation == operation {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown operation %s", operation)
}

func (f *fakeSchemas) ServiceFor(resourceType string) string {
	return resourceType
}

func (f *fakeSchemas) ValidatePayload(schema *engine.OperationSchema, payload map[string]interface{}) error {
	return nil
}

func testSchemas() *fakeSchemas {
	return &fakeSchemas{operations: map[string]*engine.OperationSchema{
		"create:ec2": {
			Service:   "ec2",
			Operation: "RunInstances",
			Required: []engine.FieldSpec{
				{Name: "ImageId", Type: engine.FieldString},
				{Name: "MinCount", Type: engine.FieldInteger},
				{Name: "MaxCount", Type: engine.FieldInteger},
			},
			Optional: []engine.FieldSpec{
				{Name: "InstanceType", Type: engine.FieldString},
				{Name: "SubnetId", Type: engine.FieldString},
				{Name: "TagSpecifications", Type: engine.FieldList},
			},
		},
		"create:lambda": {
			Service:   "lambda",
			Operation: "CreateFunction",
			Required: []engine.FieldSpec{
				{Name: "FunctionName", Type: engine.FieldString},
				{Name: "Role", Type: engine.FieldString},
				{Name: "Code", Type: engine.FieldStructure},
			},
		},
		"create:dynamodb": {
			Service:   "dynamodb",
			Operation: "CreateTable",
			Required: []engine.FieldSpec{
				{Name: "TableName", Type: engine.FieldString},
				{Name: "KeySchema", Type: engine.FieldList},
				{Name: "ProvisionedThroughput", Type: engine.FieldStructure, Children: []engine.FieldSpec{
					{Name: "ReadCapacityUnits", Type: engine.FieldLong},
					{Name: "WriteCapacityUnits", Type: engine.FieldLong},
				}},
			},
		},
		"create:rds": {
			Service:   "rds",
			Operation: "CreateDBInstance",
			Required: []engine.FieldSpec{
				{Name: "DBInstanceIdentifier", Type: engine.FieldString},
				{Name: "Engine", Type: engine.FieldString, Enum: []string{"postgres", "mysql"}},
			},
			Optional: []engine.FieldSpec{
				{Name: "VpcId", Type: engine.FieldString},
			},
		},
	}}
}

func testCreds() *engine.Credentials {
	return &engine.Credentials{AccessKey: "AKIAEXAMPLE", SecretKey: "secret"}
}

func variables(qs []engine.Question) []string {
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Variable)
	}
	return out
}
