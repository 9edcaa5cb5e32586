package remediation

import (
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// Step types understood by provisioning backends.
const (
	StepEnsureSSMPrerequisites     = "ensure_ssm_prerequisites_for_instance"
	StepEnsureManagedProfile       = "ensure_managed_instance_profile"
	StepAttachInstanceProfile      = "attach_instance_profile"
	StepWaitForSSMRegistration     = "wait_for_ssm_registration"
	StepEnsureServiceLinkedRole    = "ensure_service_linked_role"
	StepEnsureEKSClusterRole       = "ensure_eks_cluster_role"
	StepEnsureServiceRole          = "ensure_service_role"
	StepEnsureIAMPolicyAttached    = "ensure_iam_policy_attached"
	StepEnsureSecurityGroupIngress = "ensure_security_group_ingress"
	StepEnsureBucketPublicAccess   = "ensure_bucket_public_access_compliance"
	StepEnsureEndpointNetwork      = "ensure_endpoint_network_association"
)

// stepSpec describes the parameters of a step type.
type stepSpec struct {
	required []string
	defaults map[string]interface{}

	// environment steps fall back to the request environment.
	environment bool
}

var stepSpecs = map[string]stepSpec{
	StepEnsureSSMPrerequisites: {
		required:    []string{"instance_id"},
		defaults:    map[string]interface{}{"role_model": "shared", "wait_seconds": 300},
		environment: true,
	},
	StepEnsureManagedProfile: {
		defaults:    map[string]interface{}{"role_model": "shared"},
		environment: true,
	},
	StepAttachInstanceProfile: {
		required: []string{"instance_id", "profile_name"},
	},
	StepWaitForSSMRegistration: {
		required: []string{"instance_id"},
		defaults: map[string]interface{}{"timeout_seconds": 300},
	},
	StepEnsureServiceLinkedRole: {
		required: []string{"service_name"},
	},
	StepEnsureEKSClusterRole: {
		environment: true,
	},
	StepEnsureServiceRole: {
		required:    []string{"service_slug", "service_principal"},
		environment: true,
	},
	StepEnsureIAMPolicyAttached: {
		required: []string{"role_name", "policy_arn"},
	},
	StepEnsureSecurityGroupIngress: {
		required: []string{"group_id", "port"},
		defaults: map[string]interface{}{"protocol": "tcp", "cidr": "0.0.0.0/0"},
	},
	StepEnsureBucketPublicAccess: {
		required: []string{"bucket_name"},
		defaults: map[string]interface{}{"allow_public": false},
	},
	StepEnsureEndpointNetwork: {
		required: []string{"service_name", "resource_id"},
	},
}

// KnownStep reports whether t is a supported step type.
func KnownStep(t string) bool {
	_, ok := stepSpecs[t]
	return ok
}

// prepareStep fills defaults and reports the first missing required
// parameter, if any.
func prepareStep(action engine.PlanAction, environment string) (engine.RemediationStep, string) {
	spec := stepSpecs[action.Type]
	params := make(map[string]interface{}, len(action.Params)+len(spec.defaults)+1)
	for k, v := range action.Params {
		params[k] = v
	}
	for k, v := range spec.defaults {
		if engine.IsEmptyValue(params[k]) {
			params[k] = v
		}
	}

	env := strings.TrimSpace(environment)
	if env == "" {
		env = "dev"
	}
	if spec.environment && engine.StringValue(params["environment"]) == "" {
		params["environment"] = env
	}

	for _, key := range spec.required {
		if engine.IsEmptyValue(params[key]) || hasPlaceholder(params[key]) {
			return engine.RemediationStep{}, key
		}
	}
	return engine.RemediationStep{Type: action.Type, Params: params, Environment: env}, ""
}

func hasPlaceholder(v interface{}) bool {
	s, ok := v.(string)
	return ok && placeholderPattern.MatchString(s)
}
