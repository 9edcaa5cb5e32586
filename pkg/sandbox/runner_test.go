package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

type fakeBackend struct {
	calls     []engine.OperationCall
	invokeErr error
	region    string
}

func (f *fakeBackend) Execute(context.Context, engine.ExecuteRequest) (*engine.ExecutionResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBackend) HasHandler(engine.Action, string) bool { return false }

func (f *fakeBackend) Describe(_ context.Context, resourceType, identifier string) (map[string]interface{}, error) {
	return map[string]interface{}{"type": resourceType, "id": identifier, "state": "available"}, nil
}

func (f *fakeBackend) List(_ context.Context, resourceType string, limit int) ([]map[string]interface{}, error) {
	out := []map[string]interface{}{}
	for i := 0; i < limit && i < 2; i++ {
		out = append(out, map[string]interface{}{"type": resourceType, "index": i})
	}
	return out, nil
}

func (f *fakeBackend) ListChoices(context.Context, string, int) ([]string, error) { return nil, nil }

func (f *fakeBackend) DiscoverInventory(context.Context, []string, int) (map[string]engine.InventorySummary, error) {
	return nil, nil
}

func (f *fakeBackend) Invoke(ctx context.Context, call engine.OperationCall) (map[string]interface{}, error) {
	f.calls = append(f.calls, call)
	if creds := engine.CredentialsFromContext(ctx); creds != nil {
		f.region = creds.Region
	}
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	return map[string]interface{}{"InstanceId": "i-0abc", "Operation": call.Operation}, nil
}

func (f *fakeBackend) AutoFill(context.Context, engine.AutoFillRequest) (map[string]interface{}, error) {
	return nil, nil
}

func (f *fakeBackend) RunRemediationStep(context.Context, engine.RemediationStep) (map[string]interface{}, error) {
	return nil, nil
}

func newTestRunner(backend engine.Backend) *Runner {
	return NewRunner(Options{Backend: backend, Timeout: 5 * time.Second, Logger: zerolog.Nop()})
}

func TestRunner_Run(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		wantErr   string
		checkFunc func(*testing.T, *engine.ScriptOutcome)
	}{
		{
			name: "emit result",
			code: `
emit({"success": True, "resource_id": "bucket-1"})
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["resource_id"] != "bucket-1" || o.Result["success"] != true {
					t.Errorf("Unexpected result: %v", o.Result)
				}
			},
		},
		{
			name: "last emit wins",
			code: `
emit({"step": 1})
emit(struct(step = 2))
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["step"] != int64(2) {
					t.Errorf("Expected step 2, got %v", o.Result["step"])
				}
			},
		},
		{
			name: "global result fallback",
			code: `
result = {"success": True, "count": len([1, 2, 3])}
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["count"] != int64(3) {
					t.Errorf("Expected count 3, got %v", o.Result["count"])
				}
			},
		},
		{
			name: "struct builtin",
			code: `
s = struct(state = "available", port = 5432)
emit({"state": s.state, "port": s.port})
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["state"] != "available" || o.Result["port"] != int64(5432) {
					t.Errorf("Unexpected result: %v", o.Result)
				}
			},
		},
		{
			name: "printed JSON fallback",
			code: `
print(json.encode({"state": "pending"}))
print(json.encode({"state": "ok", "count": 2}))
print("finished")
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["state"] != "ok" || o.Result["count"] != int64(2) {
					t.Errorf("Unexpected result: %v", o.Result)
				}
			},
		},
		{
			name: "emit preferred over printed JSON",
			code: `
emit({"state": "emitted"})
print(json.encode({"state": "printed"}))
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result["state"] != "emitted" {
					t.Errorf("Expected emitted state, got %v", o.Result["state"])
				}
			},
		},
		{
			name: "no result",
			code: `
x = 1
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Result != nil {
					t.Errorf("Expected nil result, got %v", o.Result)
				}
			},
		},
		{
			name: "print captured",
			code: `
print("creating bucket")
print("done")
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				if o.Output != "creating bucket\ndone" {
					t.Errorf("Unexpected output: %q", o.Output)
				}
			},
		},
		{
			name: "json module",
			code: `
emit(json.decode('{"a": [1, 2]}'))
`,
			checkFunc: func(t *testing.T, o *engine.ScriptOutcome) {
				list, ok := o.Result["a"].([]interface{})
				if !ok || len(list) != 2 {
					t.Errorf("Unexpected result: %v", o.Result)
				}
			},
		},
		{
			name:    "load refused",
			code:    `load("boto3.star", "client")`,
			wantErr: "cannot load",
		},
		{
			name:    "syntax error",
			code:    `def broken(:`,
			wantErr: "procedure failed",
		},
		{
			name: "fail builtin",
			code: `
fail("quota exceeded")
`,
			wantErr: "quota exceeded",
		},
		{
			name:    "emit non dict",
			code:    `emit([1, 2])`,
			wantErr: "expected dict or struct",
		},
	}

	runner := newTestRunner(&fakeBackend{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := runner.Run(context.Background(), tt.code)
			if outcome == nil {
				t.Fatal("Expected outcome, got nil")
			}
			if tt.wantErr != "" {
				if outcome.Err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(outcome.Err.Error(), tt.wantErr) {
					t.Errorf("Expected error containing %q, got %v", tt.wantErr, outcome.Err)
				}
				return
			}
			if outcome.Err != nil {
				t.Fatalf("Unexpected error: %v", outcome.Err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, outcome)
			}
		})
	}
}

func TestRunner_CloudInvoke(t *testing.T) {
	backend := &fakeBackend{}
	runner := newTestRunner(backend)

	ctx := engine.WithCredentials(context.Background(), &engine.Credentials{AccessKey: "AKIA", SecretKey: "s", Region: "eu-west-1"})
	code := `
out = cloud.invoke("ec2", "RunInstances", {"MinCount": 1, "MaxCount": 1, "InstanceType": "t3.micro"})
emit({"success": True, "resource_id": out["InstanceId"], "region": cloud.region})
`
	outcome := runner.Run(ctx, code)
	if outcome.Err != nil {
		t.Fatalf("Unexpected error: %v", outcome.Err)
	}
	if outcome.Result["resource_id"] != "i-0abc" {
		t.Errorf("Expected resource_id i-0abc, got %v", outcome.Result["resource_id"])
	}
	if outcome.Result["region"] != "eu-west-1" {
		t.Errorf("Expected region eu-west-1, got %v", outcome.Result["region"])
	}
	if len(backend.calls) != 1 {
		t.Fatalf("Expected 1 backend call, got %d", len(backend.calls))
	}
	call := backend.calls[0]
	if call.Service != "ec2" || call.Operation != "RunInstances" {
		t.Errorf("Unexpected call: %+v", call)
	}
	if call.Payload["MinCount"] != int64(1) || call.Payload["InstanceType"] != "t3.micro" {
		t.Errorf("Unexpected payload: %v", call.Payload)
	}
	if backend.region != "eu-west-1" {
		t.Errorf("Expected credentials to reach the backend, got region %q", backend.region)
	}
}

func TestRunner_CloudInvokeErrors(t *testing.T) {
	backend := &fakeBackend{invokeErr: errors.New("UnauthorizedOperation")}
	runner := newTestRunner(backend)

	outcome := runner.Run(context.Background(), `cloud.invoke("ec2", "RunInstances")`)
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "UnauthorizedOperation") {
		t.Errorf("Expected backend error to fail the procedure, got %v", outcome.Err)
	}

	outcome = runner.Run(context.Background(), `
r = cloud.try_invoke("ec2", "RunInstances")
emit({"success": r["ok"], "error": r["error"]})
`)
	if outcome.Err != nil {
		t.Fatalf("Unexpected error: %v", outcome.Err)
	}
	if outcome.Result["success"] != false {
		t.Errorf("Expected success false, got %v", outcome.Result["success"])
	}
	if !strings.Contains(outcome.Result["error"].(string), "UnauthorizedOperation") {
		t.Errorf("Expected error text, got %v", outcome.Result["error"])
	}
}

func TestRunner_DescribeAndList(t *testing.T) {
	runner := newTestRunner(&fakeBackend{})
	outcome := runner.Run(context.Background(), `
d = cloud.describe("rds", "db-1")
items = cloud.list("s3", limit = 5)
emit({"state": d["state"], "count": len(items)})
`)
	if outcome.Err != nil {
		t.Fatalf("Unexpected error: %v", outcome.Err)
	}
	if outcome.Result["state"] != "available" || outcome.Result["count"] != int64(2) {
		t.Errorf("Unexpected result: %v", outcome.Result)
	}
}

func TestRunner_NoBackend(t *testing.T) {
	runner := newTestRunner(nil)
	outcome := runner.Run(context.Background(), `cloud.invoke("s3", "CreateBucket", {"Bucket": "b"})`)
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "no provisioning backend") {
		t.Errorf("Expected missing backend error, got %v", outcome.Err)
	}
}

func TestRunner_StepLimit(t *testing.T) {
	runner := NewRunner(Options{Timeout: 5 * time.Second, MaxSteps: 1000, Logger: zerolog.Nop()})
	outcome := runner.Run(context.Background(), `
def spin():
    n = 0
    for i in range(1000000):
        n += i
    return n

spin()
`)
	if outcome.Err == nil {
		t.Fatal("Expected step limit error, got nil")
	}
	if !strings.Contains(outcome.Err.Error(), "too many steps") {
		t.Errorf("Expected too many steps error, got %v", outcome.Err)
	}
}

func TestRunner_Timeout(t *testing.T) {
	runner := NewRunner(Options{Timeout: 50 * time.Millisecond, MaxSteps: 1 << 62, Logger: zerolog.Nop()})
	outcome := runner.Run(context.Background(), `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n

spin()
`)
	if outcome.Err == nil || !strings.Contains(outcome.Err.Error(), "timeout") {
		t.Errorf("Expected timeout error, got %v", outcome.Err)
	}
}

func TestRunner_OutputTruncated(t *testing.T) {
	runner := NewRunner(Options{Timeout: 5 * time.Second, MaxOutput: 32, Logger: zerolog.Nop()})
	outcome := runner.Run(context.Background(), `
for i in range(100):
    print("line %d" % i)
`)
	if outcome.Err != nil {
		t.Fatalf("Unexpected error: %v", outcome.Err)
	}
	if !strings.HasSuffix(outcome.Output, "[output truncated]") {
		t.Errorf("Expected truncated output, got %q", outcome.Output)
	}
}
