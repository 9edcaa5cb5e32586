package prereq

import (
	"context"
	"reflect"
	"testing"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

func TestMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		intent *engine.Intent
		text   string
		want   []string
	}{
		{
			name:   "run instances with extras",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2"},
			want:   []string{"ami_id", "instance_type", "os_flavor", "storage_size", "public_access"},
		},
		{
			name: "answered values are skipped",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2", Parameters: map[string]interface{}{
				"instance_type": "t3.micro",
				"public_access": false,
			}},
			want: []string{"ami_id", "os_flavor", "storage_size"},
		},
		{
			name:   "lambda managed fields",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "lambda", ResourceName: "api"},
			want:   []string{"runtime", "memory", "timeout"},
		},
		{
			name:   "nested structure",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "dynamodb", ResourceName: "users"},
			want:   []string{"key_schema", "read_capacity_units", "write_capacity_units"},
		},
		{
			name:   "network fields hidden by default",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "rds", ResourceName: "db1"},
			want:   []string{"engine"},
		},
		{
			name:   "custom networking from text",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "rds", ResourceName: "db1"},
			text:   "put it in my vpc",
			want:   []string{"engine", "vpc_id"},
		},
		{
			name:   "read-only action",
			intent: &engine.Intent{Action: engine.ActionDescribe, ResourceType: "ec2"},
		},
		{
			name:   "unknown operation",
			intent: &engine.Intent{Action: engine.ActionCreate, ResourceType: "mainframe"},
		},
	}

	r := newTestResolver(nil, testSchemas())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := variables(r.MissingFields(context.Background(), tt.intent, tt.text))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMissingFields_QuestionShapes(t *testing.T) {
	r := newTestResolver(nil, testSchemas())

	ec2 := r.MissingFields(context.Background(), &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2"}, "")
	if ec2[0].Prompt != "Please provide AMI ID." {
		t.Errorf("Unexpected AMI prompt %q", ec2[0].Prompt)
	}
	if len(ec2[1].Options) == 0 || ec2[1].Options[0] != "t3.micro" {
		t.Errorf("Expected curated instance types, got %v", ec2[1].Options)
	}

	table := r.MissingFields(context.Background(), &engine.Intent{Action: engine.ActionCreate, ResourceType: "dynamodb", ResourceName: "users"}, "")
	if table[0].Hint != "Comma-separated values (string list)" {
		t.Errorf("Unexpected list hint %q", table[0].Hint)
	}
	if table[1].Prompt != "Please provide ReadCapacityUnits for ProvisionedThroughput." || table[1].Type != engine.QuestionNumber {
		t.Errorf("Unexpected nested question %+v", table[1])
	}

	db := r.MissingFields(context.Background(), &engine.Intent{Action: engine.ActionCreate, ResourceType: "rds", ResourceName: "db1"}, "")
	if !reflect.DeepEqual(db[0].Options, []string{"postgres", "mysql"}) {
		t.Errorf("Expected enum options, got %v", db[0].Options)
	}
}

func TestMissingFields_NoSchemas(t *testing.T) {
	r := newTestResolver(nil, nil)
	if qs := r.MissingFields(context.Background(), &engine.Intent{Action: engine.ActionCreate, ResourceType: "ec2"}, ""); len(qs) != 0 {
		t.Errorf("Expected no questions without schemas, got %v", variables(qs))
	}
}

func TestAutoManagedRole(t *testing.T) {
	tests := []struct {
		operation string
		field     string
		params    map[string]interface{}
		want      bool
	}{
		{"CreateCluster", "roleArn", nil, true},
		{"RunJobFlow", "ServiceRole", nil, true},
		{"DeleteCluster", "roleArn", nil, false},
		{"CreateCluster", "Name", nil, false},
		{"CreateCluster", "roleArn", map[string]interface{}{"auto_manage_roles": "false"}, false},
	}
	for _, tt := range tests {
		if got := autoManagedRole(tt.operation, tt.field, tt.params); got != tt.want {
			t.Errorf("autoManagedRole(%s, %s) = %v, want %v", tt.operation, tt.field, got, tt.want)
		}
	}
}

func TestLegacyQuestions(t *testing.T) {
	tests := []struct {
		name   string
		intent *engine.Intent
		want   []string
	}{
		{"eks", &engine.Intent{Action: engine.ActionCreate, ResourceType: "eks"}, []string{"node_instance_type", "node_count"}},
		{"spark", &engine.Intent{Action: engine.ActionCreate, ResourceType: "spark"}, []string{"release_label", "master_instance_type", "worker_instance_type", "instance_count"}},
		{"plain lambda", &engine.Intent{Action: engine.ActionCreate, ResourceType: "lambda"}, nil},
		{"serverless lambda", &engine.Intent{
			Action:       engine.ActionCreate,
			ResourceType: "lambda",
			Parameters:   map[string]interface{}{"architecture_style": "serverless", "auth_type": "cognito"},
		}, []string{"api_type", "frontend_hosting", "data_store"}},
		{"update is ignored", &engine.Intent{Action: engine.ActionUpdate, ResourceType: "rds"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := variables(legacyQuestions(tt.intent))
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
