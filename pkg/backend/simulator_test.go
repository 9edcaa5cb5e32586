package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

func newTestSimulator(opts SimulatorOptions) *Simulator {
	opts.Logger = zerolog.Nop()
	return NewSimulator(opts)
}

func mustExecute(t *testing.T, s *Simulator, req engine.ExecuteRequest) *engine.ExecutionResult {
	t.Helper()
	res, err := s.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return res
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, engine.ExecuteRequest) (*engine.ExecutionResult, error) {
		return &engine.ExecutionResult{Success: true}, nil
	}

	if err := r.Register(engine.ActionCreate, "S3", h); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register(engine.ActionCreate, "s3", h); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := r.Register(engine.ActionDelete, "s3", nil); err == nil {
		t.Error("Expected nil handler to be rejected")
	}
	if !r.Has(engine.ActionCreate, " s3 ") {
		t.Error("Expected handler lookup to ignore case and spaces")
	}

	_, err := r.Dispatch(context.Background(), engine.ExecuteRequest{Action: engine.ActionDelete, ResourceType: "s3"})
	if !errors.Is(err, engine.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}

	keys := r.Keys()
	if len(keys) != 1 || keys[0] != "create/s3" {
		t.Errorf("Expected [create/s3], got %v", keys)
	}
}

func TestSimulator_CreateDescribeDelete(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	ctx := context.Background()

	res := mustExecute(t, s, engine.ExecuteRequest{
		Action:       engine.ActionCreate,
		ResourceType: "s3",
		ResourceName: "logs",
		Tags:         map[string]string{"environment": "dev"},
	})
	if !res.Success {
		t.Fatalf("Expected create to succeed, got %q", res.Error)
	}
	if res.PayloadString("bucket_name") != "logs" {
		t.Errorf("Expected bucket_name logs, got %v", res.Payload["bucket_name"])
	}

	dup := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "s3", ResourceName: "logs"})
	if dup.Success || !strings.Contains(dup.Error, "AlreadyExists") {
		t.Errorf("Expected AlreadyExists failure, got %+v", dup)
	}

	desc, err := s.Describe(ctx, "s3", "logs")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if desc["status"] != "available" || desc["region"] != "us-east-1" {
		t.Errorf("Unexpected description: %v", desc)
	}
	tags, _ := desc["tags"].(map[string]interface{})
	if tags["environment"] != "dev" {
		t.Errorf("Expected tags to be stored, got %v", desc["tags"])
	}

	del := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionDelete, ResourceType: "s3", ResourceName: "logs"})
	if !del.Success || del.Payload["deleted"] != true {
		t.Fatalf("Expected delete to succeed, got %+v", del)
	}

	_, err = s.Describe(ctx, "s3", "logs")
	if !engine.IsNotFound(err) {
		t.Errorf("Expected not-found after delete, got %v", err)
	}
}

func TestSimulator_TransitionalStates(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{SettleAfter: 2})
	ctx := context.Background()

	res := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "ec2", ResourceName: "web"})
	id := res.PayloadString("instance_id")
	if !strings.HasPrefix(id, "i-") {
		t.Fatalf("Expected an instance id, got %q", id)
	}
	if res.PayloadString("state") != "pending" {
		t.Errorf("Expected pending state, got %v", res.Payload["state"])
	}

	first, err := s.Describe(ctx, "ec2", id)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if first["state"] != "pending" || first["instance_status"] != "initializing" {
		t.Errorf("Expected initializing instance, got %v", first)
	}

	second, err := s.Describe(ctx, "ec2", "web")
	if err != nil {
		t.Fatalf("Describe by name failed: %v", err)
	}
	if second["state"] != "running" || second["system_status"] != "ok" {
		t.Errorf("Expected running instance, got %v", second)
	}
}

func TestSimulator_FailureClearedByStep(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	ctx := context.Background()
	s.InjectFailure(Failure{
		Action:       engine.ActionCreate,
		ResourceType: "ec2",
		Message:      "Instance is not managed by SSM",
		ClearedBy:    "ensure_ssm_prerequisites_for_instance",
	})

	req := engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "ec2", ResourceName: "web"}
	for i := 0; i < 2; i++ {
		if res := mustExecute(t, s, req); res.Success {
			t.Fatalf("Expected attempt %d to fail", i+1)
		}
	}

	out, err := s.RunRemediationStep(ctx, engine.RemediationStep{
		Type:        "ensure_ssm_prerequisites_for_instance",
		Params:      map[string]interface{}{"instance_id": "i-missing"},
		Environment: "prod",
	})
	if err != nil {
		t.Fatalf("RunRemediationStep failed: %v", err)
	}
	if out["profile_name"] != "cloudpilot-ssm-prod" {
		t.Errorf("Expected environment-scoped profile, got %v", out["profile_name"])
	}

	if res := mustExecute(t, s, req); !res.Success {
		t.Errorf("Expected create to succeed after remediation, got %q", res.Error)
	}
	if steps := s.Steps(); len(steps) != 1 {
		t.Errorf("Expected 1 recorded step, got %d", len(steps))
	}
}

func TestSimulator_FailureTimes(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	s.InjectFailure(Failure{ResourceType: "*", Message: "Throttling: Rate exceeded", Times: 1})

	req := engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "sqs", ResourceName: "jobs"}
	if res := mustExecute(t, s, req); res.Success || res.Error != "Throttling: Rate exceeded" {
		t.Errorf("Expected throttling failure, got %+v", res)
	}
	if res := mustExecute(t, s, req); !res.Success {
		t.Errorf("Expected second attempt to succeed, got %q", res.Error)
	}
}

func TestSimulator_RequireCredentials(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{RequireCredentials: true})

	res := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionList, ResourceType: "s3"})
	if res.Success || !strings.Contains(res.Error, "Unable to locate credentials") {
		t.Errorf("Expected credentials failure, got %+v", res)
	}

	if _, err := s.List(context.Background(), "vpc", 0); !engine.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}

	ctx := engine.WithCredentials(context.Background(), &engine.Credentials{
		AccessKey: "AKIAEXAMPLE",
		SecretKey: "secret",
		Region:    "eu-west-1",
	})
	items, err := s.List(ctx, "vpc", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected the default vpc, got %d items", len(items))
	}

	created, err := s.Execute(ctx, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "sns", ResourceName: "alerts"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if created.PayloadString("region") != "eu-west-1" {
		t.Errorf("Expected credential region, got %v", created.Payload["region"])
	}
}

func TestSimulator_Invoke(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	ctx := context.Background()

	out, err := s.Invoke(ctx, engine.OperationCall{
		Service:   "s3",
		Operation: "CreateBucket",
		Payload:   map[string]interface{}{"Bucket": "assets"},
	})
	if err != nil {
		t.Fatalf("CreateBucket failed: %v", err)
	}
	if out["bucket_name"] != "assets" || out["service"] != "s3" {
		t.Errorf("Unexpected CreateBucket output: %v", out)
	}

	tests := []struct {
		name      string
		call      engine.OperationCall
		wantErr   func(error) bool
		wantCount int
	}{
		{
			name:      "list buckets",
			call:      engine.OperationCall{Service: "s3", Operation: "ListBuckets"},
			wantCount: 1,
		},
		{
			name:      "describe without identifier lists",
			call:      engine.OperationCall{Service: "ec2", Operation: "DescribeSubnets"},
			wantCount: 2,
		},
		{
			name:    "unknown operation",
			call:    engine.OperationCall{Service: "s3", Operation: "FrobnicateBucket"},
			wantErr: func(err error) bool { return errors.Is(err, engine.ErrUnsupported) },
		},
		{
			name: "missing resource",
			call: engine.OperationCall{
				Service:   "rds",
				Operation: "DescribeDBInstances",
				Payload:   map[string]interface{}{"DBInstanceIdentifier": "orders"},
			},
			wantErr: engine.IsNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Invoke(ctx, tt.call)
			if tt.wantErr != nil {
				if !tt.wantErr(err) {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Invoke failed: %v", err)
			}
			if out["count"] != tt.wantCount {
				t.Errorf("Expected count %d, got %v", tt.wantCount, out["count"])
			}
		})
	}
}

func TestSimulator_AutoFill(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	ctx := context.Background()

	out, err := s.AutoFill(ctx, engine.AutoFillRequest{
		Action:       engine.ActionCreate,
		ResourceType: "ec2",
		Parameters:   map[string]interface{}{"instance_type": "m5.large"},
		Environment:  "dev",
	})
	if err != nil {
		t.Fatalf("AutoFill failed: %v", err)
	}
	if _, ok := out["instance_type"]; ok {
		t.Error("Expected provided instance_type to be left alone")
	}
	if out["subnet_id"] != "subnet-default-a" || out["ami_id"] == nil {
		t.Errorf("Expected default network and image, got %v", out)
	}

	out, err = s.AutoFill(ctx, engine.AutoFillRequest{
		Action:       engine.ActionCreate,
		ResourceType: "eks",
		Parameters:   map[string]interface{}{"use_custom_networking": true},
		Environment:  "staging",
	})
	if err != nil {
		t.Fatalf("AutoFill failed: %v", err)
	}
	if _, ok := out["subnet_ids"]; ok {
		t.Error("Expected custom networking to skip the default subnets")
	}
	if out["role_arn"] != "arn:aws:iam::000000000000:role/cloudpilot-eks-staging" {
		t.Errorf("Unexpected role_arn: %v", out["role_arn"])
	}
}

func TestSimulator_Deploy(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})
	ctx := context.Background()

	created := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionCreate, ResourceType: "ec2", ResourceName: "web"})
	id := created.PayloadString("instance_id")

	if !s.HasHandler(engine.ActionDeploy, "ec2") || s.HasHandler(engine.ActionDeploy, "s3") {
		t.Error("Expected deploy handlers for compute types only")
	}

	ask := mustExecute(t, s, engine.ExecuteRequest{Action: engine.ActionDeploy, ResourceType: "ec2", ResourceName: "web"})
	if !ask.RequiresInput || len(ask.Questions) != 1 || ask.Questions[0].Variable != "app_targets" {
		t.Fatalf("Expected an app_targets question, got %+v", ask)
	}

	res := mustExecute(t, s, engine.ExecuteRequest{
		Action:       engine.ActionDeploy,
		ResourceType: "ec2",
		Parameters:   map[string]interface{}{"instance_id": id, "app_targets": "nginx", "app_port": 8080},
	})
	if !res.Success {
		t.Fatalf("Expected deploy to succeed, got %q", res.Error)
	}
	want := "http://" + id + ".apps.us-east-1.simulated.internal:8080"
	if res.PayloadString("app_url") != want {
		t.Errorf("Expected app_url %s, got %v", want, res.Payload["app_url"])
	}

	choices, err := s.ListChoices(ctx, "ec2", 10)
	if err != nil {
		t.Fatalf("ListChoices failed: %v", err)
	}
	if len(choices) != 1 || choices[0] != id+" | web" {
		t.Errorf("Unexpected choices: %v", choices)
	}
}

func TestSimulator_DiscoverInventory(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})

	inv, err := s.DiscoverInventory(context.Background(), []string{"subnet", "rds"}, 1)
	if err != nil {
		t.Fatalf("DiscoverInventory failed: %v", err)
	}
	if inv["subnet"].Count != 2 || len(inv["subnet"].SampleIDs) != 1 {
		t.Errorf("Unexpected subnet summary: %+v", inv["subnet"])
	}
	if inv["rds"].Count != 0 || inv["rds"].SampleIDs == nil {
		t.Errorf("Expected empty rds summary, got %+v", inv["rds"])
	}
}

func TestSimulator_UnknownRemediationStep(t *testing.T) {
	s := newTestSimulator(SimulatorOptions{})

	out, err := s.RunRemediationStep(context.Background(), engine.RemediationStep{Type: "reboot_everything"})
	if err != nil {
		t.Fatalf("RunRemediationStep failed: %v", err)
	}
	if out["success"] != false {
		t.Errorf("Expected unknown step to fail, got %v", out)
	}
}
