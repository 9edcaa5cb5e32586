package prereq

import (
	"regexp"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

const missingParamMarker = "Missing required parameter in input:"

// IAMPermissions are the permissions needed to let the backend manage service roles.
var IAMPermissions = []string{"iam:CreateRole", "iam:AttachRolePolicy", "iam:PassRole"}

const iamPermissionsHint = "Required permissions include iam:CreateRole, iam:AttachRolePolicy, iam:PassRole."

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// QuestionsFromErrors derives clarification questions from failure text.
// It returns nil when nothing in the errors is something the caller can supply.
func (r *Resolver) QuestionsFromErrors(intent *engine.Intent, text string, errs []string) []engine.Question {
	if len(errs) == 0 {
		return nil
	}
	joined := strings.ToLower(strings.Join(errs, " | "))

	var questions []engine.Question
	add := func(q engine.Question) {
		for _, existing := range questions {
			if existing.Variable == q.Variable {
				return
			}
		}
		if q.Type == "" {
			q.Type = engine.QuestionString
		}
		questions = append(questions, q)
	}

	if engine.ContainsAny(joined, "unable to locate credentials", "credentials not provided") {
		add(engine.Question{Variable: "aws_access_key", Prompt: "Please provide your AWS Access Key ID.", Hint: "Starts with AKIA..."})
		add(engine.Question{Variable: "aws_secret_key", Prompt: "Please provide your AWS Secret Access Key.", Type: engine.QuestionPassword})
	}
	if engine.ContainsAny(joined, "you must specify a region", "noregionerror") {
		add(engine.Question{Variable: "aws_region", Prompt: "Which AWS region should I use?", Hint: "Example: us-east-1"})
	}
	if engine.ContainsAny(joined, "invalidkeypair.notfound", "key pair") {
		add(engine.Question{Variable: "key_name", Prompt: "Which EC2 key pair should I attach?", Hint: "Existing key pair name in this region"})
	}
	if strings.Contains(joined, "invalidamiid.notfound") {
		add(engine.Question{Variable: "ami_id", Prompt: "Please provide a valid AMI ID for this region.", Hint: "Example: ami-xxxxxxxxxxxxxxxxx"})
	}

	if strings.Contains(joined, strings.ToLower(missingParamMarker)) {
		for _, e := range errs {
			_, after, found := strings.Cut(e, missingParamMarker)
			if !found {
				continue
			}
			param := strings.Trim(strings.TrimSpace(after), `'" `)
			if param == "" {
				continue
			}
			if engine.IsRoleField(nonAlnum.ReplaceAllString(param, "")) {
				add(engine.Question{
					Variable:            "iam_permissions_ready",
					Prompt:              "I can auto-create required IAM roles, but this run is missing IAM permissions. Please allow IAM role-management permissions and retry.",
					Hint:                iamPermissionsHint,
					RequiredPermissions: IAMPermissions,
				})
				continue
			}
			add(engine.Question{Variable: param, Prompt: "Please provide value for '" + param + "'."})
		}
	}

	if engine.ContainsAny(joined, "accessdenied", "not authorized") && engine.ContainsAny(joined, "iam", "role") {
		add(engine.Question{
			Variable:            "iam_permissions_ready",
			Prompt:              "I could not auto-create required IAM roles due account permissions. Please grant IAM role-management permissions and retry.",
			Hint:                iamPermissionsHint,
			RequiredPermissions: IAMPermissions,
		})
	}
	if engine.ContainsAny(joined, "freetierrestrictionerror", "free plan") {
		add(engine.Question{
			Variable: "instance_type",
			Prompt:   "Your account plan blocked the selected DB instance class. Choose a smaller/allowed class.",
			Hint:     "Try: db.t4g.micro or db.t3.micro",
		})
	}
	if strings.Contains(joined, "masterusername") && strings.Contains(joined, "reserved word") {
		add(engine.Question{Variable: "master_username", Prompt: "The DB master username is reserved. Provide a different username.", Hint: "Example: dbadmin"})
	}
	if engine.ContainsAny(joined, "no module named", "unsupported import", "cannot load") {
		add(engine.Question{
			Variable: "execution_mode",
			Prompt:   "Dynamic code used unsupported libraries. Continue with static execution?",
			Hint:     "Type: static",
			Options:  []string{"static"},
		})
	}

	if len(questions) == 0 && intent != nil && intent.Action == engine.ActionCreate &&
		strings.EqualFold(intent.ResourceType, "ec2") && wantsCustomNetworkingFlag(intent) {
		add(engine.Question{Variable: "subnet_id", Prompt: "Provide the subnet ID to use for this EC2 instance.", Hint: "subnet-xxxxxxxx"})
	}
	return questions
}

func wantsCustomNetworkingFlag(intent *engine.Intent) bool {
	v := intent.Param("use_custom_networking")
	if v == nil {
		v = intent.Param("custom_networking")
	}
	return engine.ToBool(v, false)
}
