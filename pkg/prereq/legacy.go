package prereq

import (
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// legacyQuestions are per-family sizing questions asked on create regardless
// of what the operation schema reports.
func legacyQuestions(intent *engine.Intent) []engine.Question {
	if intent.Action != engine.ActionCreate {
		return nil
	}
	set := &questionSet{params: intent.Parameters}

	switch strings.ToLower(intent.ResourceType) {
	case "rds":
		set.add(engine.Question{Variable: "instance_type", Prompt: "Choose DB instance class.", Options: []string{"db.t3.micro", "db.t3.small", "db.t4g.micro", "db.m6g.large"}})
		set.add(engine.Question{Variable: "storage_size", Prompt: "Choose DB storage size (GB).", Type: engine.QuestionNumber, Hint: "Example: 20"})
	case "eks":
		set.add(engine.Question{Variable: "node_instance_type", Prompt: "Choose worker node instance type.", Options: []string{"t3.medium", "m5.large", "m6i.large"}})
		set.add(engine.Question{Variable: "node_count", Prompt: "How many worker nodes?", Type: engine.QuestionNumber, Hint: "Example: 2"})
	case "emr", "spark":
		set.add(engine.Question{Variable: "release_label", Prompt: "Choose EMR release.", Options: []string{"emr-7.0.0", "emr-7.1.0", "emr-6.15.0"}})
		set.add(engine.Question{Variable: "master_instance_type", Prompt: "Choose master node type.", Options: []string{"m5.xlarge", "m5.2xlarge"}})
		set.add(engine.Question{Variable: "worker_instance_type", Prompt: "Choose core node type.", Options: []string{"m5.xlarge", "m5.2xlarge"}})
		set.add(engine.Question{Variable: "instance_count", Prompt: "How many core nodes?", Type: engine.QuestionNumber, Hint: "Example: 2"})
	case "lambda":
		if !strings.EqualFold(intent.StringParam("architecture_style"), "serverless") {
			break
		}
		set.add(engine.Question{Variable: "api_type", Prompt: "Choose API Gateway type for the serverless app.", Options: []string{"http-api", "rest-api"}})
		set.add(engine.Question{Variable: "frontend_hosting", Prompt: "How should frontend be hosted?", Options: []string{"s3-cloudfront", "none-api-only"}})
		set.add(engine.Question{Variable: "data_store", Prompt: "Choose datastore for this app.", Options: []string{"dynamodb", "none", "rds"}})
		set.add(engine.Question{Variable: "auth_type", Prompt: "Choose authentication model.", Options: []string{"none", "cognito", "iam-authorizer"}})
	}
	return set.questions
}
