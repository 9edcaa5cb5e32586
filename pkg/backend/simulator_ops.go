package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// profile is the lifecycle of a simulated resource type.
type profile struct {
	idPrefix string
	pending  string
	ready    string
}

var profiles = map[string]profile{
	"ec2":            {idPrefix: "i-", pending: "pending", ready: "running"},
	"rds":            {pending: "creating", ready: "available"},
	"eks":            {pending: "CREATING", ready: "ACTIVE"},
	"ecs":            {pending: "PROVISIONING", ready: "ACTIVE"},
	"lambda":         {pending: "Pending", ready: "Active"},
	"dynamodb":       {pending: "CREATING", ready: "ACTIVE"},
	"s3":             {ready: "available"},
	"sqs":            {ready: "available"},
	"sns":            {ready: "available"},
	"vpc":            {idPrefix: "vpc-", pending: "pending", ready: "available"},
	"subnet":         {idPrefix: "subnet-", pending: "pending", ready: "available"},
	"security_group": {idPrefix: "sg-", ready: "available"},
	"elb":            {pending: "provisioning", ready: "active"},
	"cloudfront":     {idPrefix: "E", pending: "InProgress", ready: "Deployed"},
	"apigateway":     {ready: "available"},
	"elasticache":    {pending: "creating", ready: "available"},
}

func simulatedTypes() []string {
	out := make([]string, 0, len(profiles))
	for rt := range profiles {
		out = append(out, rt)
	}
	sort.Strings(out)
	return out
}

func profileFor(rt string) profile {
	if p, ok := profiles[rt]; ok {
		return p
	}
	return profile{ready: "available"}
}

// decorate adds the attributes a real provider would return on create.
func decorate(r *Resource) {
	switch r.Type {
	case "rds":
		r.Attributes["endpoint"] = fmt.Sprintf("%s.%s.%s.rds.simulated.internal", r.ID, shortHex(8), r.Region)
	case "elb":
		r.Attributes["dns_name"] = fmt.Sprintf("%s-%s.%s.elb.simulated.internal", r.ID, shortHex(8), r.Region)
	case "cloudfront":
		r.Attributes["domain_name"] = "d" + shortHex(12) + ".cloudfront.simulated.internal"
	case "apigateway":
		r.Attributes["api_id"] = shortHex(10)
	case "eks":
		if engine.StringValue(r.Attributes["version"]) == "" {
			r.Attributes["version"] = "1.30"
		}
		r.Attributes["endpoint"] = fmt.Sprintf("https://%s.eks.simulated.internal", shortHex(16))
	case "sqs":
		r.Attributes["queue_url"] = fmt.Sprintf("https://sqs.%s.simulated.internal/000000000000/%s", r.Region, r.ID)
	}
}

// Operation verbs mapped to actions, matched in order.
var operationVerbs = []struct {
	prefix string
	action engine.Action
}{
	{"ScheduleKeyDeletion", engine.ActionDelete},
	{"Authorize", engine.ActionUpdate},
	{"Associate", engine.ActionUpdate},
	{"Terminate", engine.ActionDelete},
	{"Describe", engine.ActionDescribe},
	{"Create", engine.ActionCreate},
	{"Delete", engine.ActionDelete},
	{"Remove", engine.ActionDelete},
	{"Update", engine.ActionUpdate},
	{"Modify", engine.ActionUpdate},
	{"Attach", engine.ActionUpdate},
	{"Enable", engine.ActionUpdate},
	{"Start", engine.ActionUpdate},
	{"List", engine.ActionList},
	{"Run", engine.ActionCreate},
	{"Put", engine.ActionUpdate},
	{"Tag", engine.ActionUpdate},
	{"Get", engine.ActionDescribe},
}

// Operation nouns mapped to resource types.
var operationNouns = map[string]string{
	"Bucket":        "s3",
	"Buckets":       "s3",
	"Instances":     "ec2",
	"Instance":      "ec2",
	"DBInstance":    "rds",
	"DBInstances":   "rds",
	"Function":      "lambda",
	"Functions":     "lambda",
	"Table":         "dynamodb",
	"Tables":        "dynamodb",
	"Queue":         "sqs",
	"Queues":        "sqs",
	"Topic":         "sns",
	"Topics":        "sns",
	"Vpc":           "vpc",
	"Vpcs":          "vpc",
	"Subnet":        "subnet",
	"Subnets":       "subnet",
	"SecurityGroup": "security_group",
	"LoadBalancer":  "elb",
	"Distribution":  "cloudfront",
	"RestApi":       "apigateway",
	"CacheCluster":  "elasticache",
}

// Payload keys that carry the identifier in raw operation calls.
var operationIdentifierKeys = []string{
	"Bucket", "InstanceId", "InstanceIds", "DBInstanceIdentifier", "FunctionName", "TableName",
	"QueueName", "QueueUrl", "TopicArn", "VpcId", "SubnetId", "GroupId", "GroupName",
	"LoadBalancerArn", "restApiId", "CacheClusterId", "clusterName", "ClusterName", "name", "Name", "Id",
}

// resolveOperation maps a raw operation to an action and resource type.
func resolveOperation(service, operation string) (engine.Action, string, bool) {
	for _, verb := range operationVerbs {
		if !strings.HasPrefix(operation, verb.prefix) {
			continue
		}
		noun := strings.TrimPrefix(operation, verb.prefix)
		service = strings.ToLower(strings.TrimSpace(service))
		if rt, ok := operationNouns[noun]; ok {
			return verb.action, rt, true
		}
		for n, rt := range operationNouns {
			if strings.HasPrefix(noun, n) {
				return verb.action, rt, true
			}
		}
		return verb.action, service, true
	}
	return "", "", false
}

func operationIdentifier(payload map[string]interface{}) string {
	for _, key := range operationIdentifierKeys {
		v, ok := payload[key]
		if !ok {
			continue
		}
		if list := engine.StringList(v); len(list) > 0 {
			return list[0]
		}
	}
	return ""
}

// Invoke implements engine.Backend. The raw operation is mapped onto the
// simulated CRUD actions.
func (s *Simulator) Invoke(ctx context.Context, call engine.OperationCall) (map[string]interface{}, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	action, rt, ok := resolveOperation(call.Service, call.Operation)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", call.Service, call.Operation, engine.ErrUnsupported)
	}

	id := operationIdentifier(call.Payload)
	if action == engine.ActionDescribe && id == "" {
		action = engine.ActionList
	}
	params := make(map[string]interface{}, len(call.Payload)+1)
	for k, v := range call.Payload {
		params[engine.SnakeCase(k)] = v
	}
	if id != "" {
		if keys := engine.IdentifierKeys(rt); len(keys) > 0 {
			params[keys[0]] = id
		}
	}

	res, err := s.apply(ctx, engine.ExecuteRequest{
		Action:       action,
		ResourceType: rt,
		ResourceName: id,
		Parameters:   params,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		if strings.Contains(res.Error, "ResourceNotFound") {
			return nil, notFound(rt, id)
		}
		return nil, errors.New(res.Error)
	}
	out := engine.CloneMap(res.Payload)
	out["service"] = call.Service
	return out, nil
}

// AutoFill implements engine.Backend. It fills the default network, a
// service role and a recent image for types that need them.
func (s *Simulator) AutoFill(ctx context.Context, req engine.AutoFillRequest) (map[string]interface{}, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}
	rt := strings.ToLower(strings.TrimSpace(req.ResourceType))
	env := firstNonEmpty(req.Environment, "dev")
	out := make(map[string]interface{})

	missing := func(key string) bool {
		return engine.IsEmptyValue(req.Parameters[key])
	}
	set := func(key string, value interface{}) {
		if missing(key) {
			out[key] = value
		}
	}
	network := !engine.WantsCustomNetworking(req.Parameters)

	switch rt {
	case "ec2":
		set("ami_id", "ami-0sim0000000000001")
		set("instance_type", "t3.micro")
		if network {
			set("subnet_id", "subnet-default-a")
			set("security_group_ids", []interface{}{"sg-default"})
		}
	case "rds":
		set("instance_type", "db.t3.micro")
		set("engine", "postgres")
		set("allocated_storage", 20)
		if network {
			set("vpc_security_group_ids", []interface{}{"sg-default"})
		}
	case "lambda":
		set("role_arn", fmt.Sprintf("arn:aws:iam::000000000000:role/cloudpilot-lambda-%s", env))
		set("runtime", "python3.12")
		set("handler", "index.handler")
	case "eks":
		set("role_arn", fmt.Sprintf("arn:aws:iam::000000000000:role/cloudpilot-eks-%s", env))
		if network {
			set("subnet_ids", []interface{}{"subnet-default-a", "subnet-default-b"})
		}
	case "ecs":
		if network {
			set("subnet_ids", []interface{}{"subnet-default-a", "subnet-default-b"})
			set("security_group_ids", []interface{}{"sg-default"})
		}
	case "elb":
		if network {
			set("subnet_ids", []interface{}{"subnet-default-a", "subnet-default-b"})
		}
	case "subnet", "security_group":
		if network {
			set("vpc_id", "vpc-default")
		}
	}
	return out, nil
}

// RunRemediationStep implements engine.Backend. A successful step clears
// the injected failures it is registered to clear.
func (s *Simulator) RunRemediationStep(ctx context.Context, step engine.RemediationStep) (map[string]interface{}, error) {
	if err := s.checkCredentials(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps = append(s.steps, step)
	out := map[string]interface{}{"success": true, "step": step.Type}

	switch step.Type {
	case "ensure_ssm_prerequisites_for_instance", "wait_for_ssm_registration":
		id := engine.StringValue(step.Params["instance_id"])
		if r := s.get("ec2", id); r != nil {
			r.Attributes["ssm_managed"] = true
			out["instance_id"] = r.ID
		}
		out["profile_name"] = "cloudpilot-ssm-" + firstNonEmpty(step.Environment, "dev")
	case "ensure_managed_instance_profile":
		out["profile_name"] = "cloudpilot-ssm-" + firstNonEmpty(step.Environment, "dev")
	case "attach_instance_profile":
		id := engine.StringValue(step.Params["instance_id"])
		r := s.get("ec2", id)
		if r == nil {
			return map[string]interface{}{"success": false, "error": notFound("ec2", id).Error()}, nil
		}
		r.Attributes["iam_instance_profile"] = engine.StringValue(step.Params["profile_name"])
	case "ensure_service_linked_role":
		out["role_name"] = "AWSServiceRoleFor" + strings.ToUpper(engine.StringValue(step.Params["service_name"]))
	case "ensure_eks_cluster_role", "ensure_service_role":
		slug := firstNonEmpty(engine.StringValue(step.Params["service_slug"]), "eks")
		out["role_arn"] = fmt.Sprintf("arn:aws:iam::000000000000:role/cloudpilot-%s-%s", slug, firstNonEmpty(step.Environment, "dev"))
	case "ensure_security_group_ingress":
		id := engine.StringValue(step.Params["group_id"])
		r := s.get("security_group", id)
		if r == nil {
			return map[string]interface{}{"success": false, "error": notFound("security_group", id).Error()}, nil
		}
		rules, _ := r.Attributes["ingress"].([]interface{})
		r.Attributes["ingress"] = append(rules, map[string]interface{}{
			"port":     step.Params["port"],
			"protocol": step.Params["protocol"],
			"cidr":     step.Params["cidr"],
		})
	case "ensure_bucket_public_access_compliance":
		id := engine.StringValue(step.Params["bucket_name"])
		if r := s.get("s3", id); r != nil {
			r.Attributes["public_access_allowed"] = engine.ToBool(step.Params["allow_public"], false)
		}
	case "ensure_iam_policy_attached", "ensure_endpoint_network_association":
	default:
		return map[string]interface{}{"success": false, "error": fmt.Sprintf("Unsupported remediation action '%s'.", step.Type)}, nil
	}

	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.ClearedBy != "" && f.ClearedBy == step.Type {
			continue
		}
		kept = append(kept, f)
	}
	s.failures = kept

	s.logger.Info().Str("step", step.Type).Msg("Simulated remediation step applied")
	return out, nil
}
