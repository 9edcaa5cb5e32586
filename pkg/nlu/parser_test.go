package nlu

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

type fakeUpstream struct {
	intent *engine.Intent
	err    error
	calls  int
}

func (f *fakeUpstream) Parse(_ context.Context, _, _ string) (*engine.Intent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.intent.Clone(), nil
}

func TestParseLocal(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		regionHint   string
		wantAction   engine.Action
		wantType     string
		wantName     string
		wantRegion   string
		wantParams   map[string]interface{}
		absentParams []string
	}{
		{
			name:       "bucket with name and region",
			text:       "Create an S3 bucket named my-logs in eu-west-1 with versioning",
			wantAction: engine.ActionCreate,
			wantType:   "s3",
			wantName:   "my-logs",
			wantRegion: "eu-west-1",
			wantParams: map[string]interface{}{"versioning": true},
		},
		{
			name:       "delete function",
			text:       "delete the lambda function called resize-images",
			regionHint: "ap-south-1",
			wantAction: engine.ActionDelete,
			wantType:   "lambda",
			wantName:   "resize-images",
			wantRegion: "ap-south-1",
		},
		{
			name:       "list instances",
			text:       "list all ec2 instances",
			wantAction: engine.ActionList,
			wantType:   "ec2",
			wantRegion: DefaultRegion,
		},
		{
			name:       "serverless web app",
			text:       "build a serverless web app",
			wantAction: engine.ActionCreate,
			wantType:   "lambda",
			wantRegion: DefaultRegion,
			wantParams: map[string]interface{}{"architecture_style": "serverless", "use_api_gateway": true},
		},
		{
			name:         "instance sizing",
			text:         "create an m5.large instance with 100 gb storage on port 8080",
			wantAction:   engine.ActionCreate,
			wantType:     "ec2",
			wantRegion:   DefaultRegion,
			wantParams:   map[string]interface{}{"instance_type": "m5.large", "storage_size": 100, "port": 8080},
			absentParams: []string{"encryption"},
		},
		{
			name:       "postgres database",
			text:       "provision a private postgres database with encryption",
			wantAction: engine.ActionCreate,
			wantType:   "rds",
			wantRegion: DefaultRegion,
			wantParams: map[string]interface{}{"engine": "postgresql", "encryption": true, "public_access": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := ParseLocal(tt.text, tt.regionHint)

			if intent.Action != tt.wantAction {
				t.Errorf("Expected action %s, got %s", tt.wantAction, intent.Action)
			}
			if intent.ResourceType != tt.wantType {
				t.Errorf("Expected resource type %s, got %s", tt.wantType, intent.ResourceType)
			}
			if intent.ResourceName != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, intent.ResourceName)
			}
			if intent.Region != tt.wantRegion {
				t.Errorf("Expected region %s, got %s", tt.wantRegion, intent.Region)
			}
			if intent.Source != SourceLocal || intent.Confidence != LocalConfidence {
				t.Errorf("Unexpected source/confidence: %s %v", intent.Source, intent.Confidence)
			}
			for k, want := range tt.wantParams {
				if got := intent.Parameters[k]; got != want {
					t.Errorf("Expected %s=%v, got %v", k, want, got)
				}
			}
			for _, k := range tt.absentParams {
				if _, ok := intent.Parameters[k]; ok {
					t.Errorf("Expected %s to be absent", k)
				}
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         *engine.Intent
		text       string
		wantAction engine.Action
		wantType   string
		wantName   string
		wantRegion string
	}{
		{
			name:       "unknown action and resource are reparsed",
			in:         &engine.Intent{Action: "provision", ResourceType: "bucket", ResourceName: "assets"},
			text:       "provision an s3 bucket named assets",
			wantAction: engine.ActionCreate,
			wantType:   "s3",
			wantName:   "assets",
			wantRegion: DefaultRegion,
		},
		{
			name:       "region in text wins",
			in:         &engine.Intent{Action: "CREATE", ResourceType: "SQS", Region: "us-west-2"},
			text:       "create an sqs queue named jobs in eu-central-1",
			wantAction: engine.ActionCreate,
			wantType:   "sqs",
			wantName:   "jobs",
			wantRegion: "eu-central-1",
		},
		{
			name:       "placeholder name is extracted",
			in:         &engine.Intent{Action: engine.ActionDelete, ResourceType: "dynamodb", ResourceName: "null", Region: "us-east-2"},
			text:       "delete dynamodb table orders",
			wantAction: engine.ActionDelete,
			wantType:   "dynamodb",
			wantName:   "orders",
			wantRegion: "us-east-2",
		},
		{
			name:       "serverless never maps to ec2",
			in:         &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2"},
			text:       "create a server-less http api",
			wantAction: engine.ActionCreate,
			wantType:   "apigateway",
			wantRegion: DefaultRegion,
		},
		{
			name:       "three tier becomes vpc",
			in:         &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2"},
			text:       "deploy a 3 tier web application",
			wantAction: engine.ActionCreate,
			wantType:   "vpc",
			wantRegion: DefaultRegion,
		},
		{
			name:       "service name is not a resource name",
			in:         &engine.Intent{Action: engine.ActionCreate, ResourceType: "eks", ResourceName: "kubernetes"},
			text:       "create a kubernetes cluster",
			wantAction: engine.ActionCreate,
			wantType:   "eks",
			wantRegion: DefaultRegion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.in, tt.text, "")
			if out.Action != tt.wantAction {
				t.Errorf("Expected action %s, got %s", tt.wantAction, out.Action)
			}
			if out.ResourceType != tt.wantType {
				t.Errorf("Expected resource type %s, got %s", tt.wantType, out.ResourceType)
			}
			if out.ResourceName != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, out.ResourceName)
			}
			if out.Region != tt.wantRegion {
				t.Errorf("Expected region %s, got %s", tt.wantRegion, out.Region)
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := &engine.Intent{
		Action:       "make",
		ResourceType: "s3",
		Parameters:   map[string]interface{}{"versioning": "none"},
	}
	out := Normalize(in, "make a versioned s3 bucket", "")

	if in.Action != "make" || in.Parameters["versioning"] != "none" {
		t.Errorf("Expected input to be unchanged, got %+v", in)
	}
	if out.Parameters["versioning"] != true {
		t.Errorf("Expected placeholder parameter to be replaced, got %v", out.Parameters["versioning"])
	}
}

func TestParser_Upstream(t *testing.T) {
	up := &fakeUpstream{intent: &engine.Intent{
		Action:       engine.ActionCreate,
		ResourceType: "rds",
		ResourceName: "orders",
		Region:       "us-west-1",
		Confidence:   0.95,
		Parameters:   map[string]interface{}{"engine": "mysql"},
	}}
	p := NewParser(up, zerolog.Nop())

	intent, err := p.Parse(context.Background(), "create a mysql database named orders", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if up.calls != 1 {
		t.Errorf("Expected 1 upstream call, got %d", up.calls)
	}
	if intent.Source != SourceRemote || intent.Confidence != 0.95 {
		t.Errorf("Expected upstream intent, got source=%s confidence=%v", intent.Source, intent.Confidence)
	}
	if intent.Region != "us-west-1" || intent.Parameters["engine"] != "mysql" {
		t.Errorf("Unexpected intent: %+v", intent)
	}
}

func TestParser_FallsBackToLocal(t *testing.T) {
	tests := []struct {
		name     string
		upstream engine.IntentParser
	}{
		{"no upstream", nil},
		{"upstream error", &fakeUpstream{err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser(tt.upstream, zerolog.Nop())
			intent, err := p.Parse(context.Background(), "create a bucket named media", "eu-west-2")
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if intent.Source != SourceLocal {
				t.Errorf("Expected local source, got %s", intent.Source)
			}
			if intent.ResourceType != "s3" || intent.ResourceName != "media" || intent.Region != "eu-west-2" {
				t.Errorf("Unexpected intent: %+v", intent)
			}
		})
	}
}
