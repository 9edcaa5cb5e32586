package outcome

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// validateGeneric describes or lists the resource according to the action.
func validateGeneric(ctx context.Context, v *Validator, c *check) {
	id := c.validation.Identifier
	rt := c.resourceType

	switch c.action {
	case engine.ActionCreate, engine.ActionUpdate:
		if id != "" {
			described, err := v.describe(ctx, rt, id)
			if err == nil {
				v.addDescribeCheck(c, id, described)
				return
			}
			if !errors.Is(err, engine.ErrUnsupported) {
				c.add("resource_describe", "describe", engine.CheckFail, id, err.Error())
				return
			}
		}
		listed, err := v.list(ctx, rt)
		switch {
		case errors.Is(err, engine.ErrUnsupported):
		case err != nil:
			c.add("resource_exists", "list", engine.CheckFail, firstNonEmpty(id, rt), err.Error())
		case id != "":
			status := engine.CheckFail
			if containsIdentifier(listed, id) {
				status = engine.CheckPass
			}
			c.add("resource_exists", "list", status, id, "")
		default:
			c.add("resource_exists", "list", engine.CheckPass, rt, fmt.Sprintf("List returned %d items.", len(listed)))
		}

	case engine.ActionDelete:
		if id == "" {
			c.add("resource_deleted", "describe", engine.CheckSkipped, rt, "Resource identifier unavailable for delete verification.")
			return
		}
		described, err := v.describe(ctx, rt, id)
		switch {
		case err == nil:
			status := strings.ToLower(v.tables.extractStatus(rt, described))
			if strings.Contains(status, "delet") {
				c.add("resource_deleted", "describe", engine.CheckPending, id, "status="+status)
			} else {
				c.add("resource_deleted", "describe", engine.CheckFail, id, "Resource still exists.")
			}
			return
		case isNotFound(err):
			c.add("resource_deleted", "describe", engine.CheckPass, id, err.Error())
			return
		case !errors.Is(err, engine.ErrUnsupported):
			c.add("resource_deleted", "describe", engine.CheckFail, id, err.Error())
			return
		}
		listed, err := v.list(ctx, rt)
		if err != nil {
			return
		}
		if containsIdentifier(listed, id) {
			c.add("resource_deleted", "list", engine.CheckFail, id, "Resource still listed.")
		} else {
			c.add("resource_deleted", "list", engine.CheckPass, id, "")
		}

	case engine.ActionList:
		if n, ok := c.result.Payload["count"]; ok {
			c.add("list_response", "response", engine.CheckPass, rt, fmt.Sprintf("Returned %s items.", engine.StringValue(n)))
		} else {
			c.add("list_response", "response", engine.CheckPass, rt, "")
		}

	case engine.ActionDescribe:
		if c.result.Success {
			c.add("describe_response", "response", engine.CheckPass, firstNonEmpty(id, rt), "")
		} else {
			c.add("describe_response", "response", engine.CheckFail, firstNonEmpty(id, rt), c.result.Error)
		}
	}
}

func validateS3(ctx context.Context, v *Validator, c *check) {
	validateGeneric(ctx, v, c)
	if c.creating() && websiteRequested(c) {
		c.setDeploy(true, "Static website configuration applied.")
	}
}

// validateEC2 checks instance state and status checks.
func validateEC2(ctx context.Context, v *Validator, c *check) {
	instanceID := c.result.PayloadString("instance_id")
	if !c.creating() || instanceID == "" {
		validateGeneric(ctx, v, c)
		return
	}

	described, err := v.describe(ctx, "ec2", instanceID)
	if errors.Is(err, engine.ErrUnsupported) {
		validateGeneric(ctx, v, c)
		return
	}
	if err != nil {
		c.add("ec2_status", "status", engine.CheckFail, instanceID, err.Error())
		return
	}

	state := engine.StringValue(described["state"])
	instanceStatus := engine.StringValue(described["instance_status"])
	systemStatus := engine.StringValue(described["system_status"])

	if state != "" && v.tables.classifyStatus("ec2", state) == engine.CheckFail {
		c.add("ec2_status", "status", engine.CheckFail, instanceID, "state="+state)
		return
	}

	ready := strings.EqualFold(state, "running") && statusOK(instanceStatus) && statusOK(systemStatus)
	if b, ok := described["ready"].(bool); ok {
		ready = b
	}
	if ready {
		c.add("ec2_status", "status", engine.CheckPass, instanceID, "Instance and system status checks are ok.")
		c.validation.PhaseHints.HealthDetail = "Instance status checks passed."
		return
	}
	c.add("ec2_status", "status", engine.CheckPending, instanceID,
		fmt.Sprintf("state=%s, instance=%s, system=%s", state, instanceStatus, systemStatus))
	c.validation.PhaseHints.HealthDetail = "Instance is still initializing."
}

func statusOK(s string) bool {
	return s == "" || strings.EqualFold(s, "ok")
}

// validateEKS checks the cluster status and its node groups, and derives the
// deploy and health hints from them.
func validateEKS(ctx context.Context, v *Validator, c *check) {
	name := c.result.PayloadString("cluster_name")
	if name == "" {
		name = strings.TrimSpace(c.intent.ResourceName)
	}
	if name == "" {
		validateGeneric(ctx, v, c)
		return
	}

	described, err := v.describe(ctx, "eks", name)
	if errors.Is(err, engine.ErrUnsupported) {
		validateGeneric(ctx, v, c)
		return
	}
	if err != nil {
		c.add("eks_describe", "describe", engine.CheckFail, name, err.Error())
		return
	}

	status := engine.StringValue(described["status"])
	state := engine.CheckPass
	switch {
	case status == "" || strings.Contains(strings.ToLower(status), "active"):
	case v.tables.classifyStatus("eks", status) == engine.CheckFail:
		state = engine.CheckFail
	default:
		state = engine.CheckPending
	}
	c.add("eks_describe", "describe", state, name, "status="+status)

	c.setPayloadDefault("cluster_name", name)
	c.result.Payload["cluster_details"] = map[string]interface{}{
		"cluster_name": firstNonEmpty(engine.StringValue(described["cluster_name"]), name),
		"version":      engine.StringValue(described["version"]),
		"status":       status,
		"endpoint":     engine.StringValue(described["endpoint"]),
	}

	nodegroups := engine.StringList(described["nodegroups"])
	c.result.Payload["nodegroups"] = nodegroups
	ngState := engine.CheckPending
	if len(nodegroups) > 0 {
		ngState = engine.CheckPass
	}
	c.add("eks_nodegroups", "describe", ngState, name, fmt.Sprintf("count=%d", len(nodegroups)))

	appEndpoint := ""
	for _, k := range []string{"public_url", "website_url", "app_url", "ingress_url"} {
		if s := c.result.PayloadString(k); s != "" {
			appEndpoint = s
			break
		}
	}

	switch {
	case appEndpoint != "":
		c.setDeploy(true, "Application workload is deployed and endpoint is available.")
	case state == engine.CheckPending:
		c.setDeploy(false, "Waiting for EKS cluster to become active before app deployment.")
	case len(nodegroups) > 0:
		c.setDeploy(false, "Cluster and node groups are ready. App deployment is pending.")
	default:
		c.setDeploy(false, "Cluster is active but node groups are not ready yet.")
	}

	switch {
	case state == engine.CheckPending:
		c.validation.PhaseHints.HealthDetail = "EKS cluster is still becoming active."
	case len(nodegroups) == 0:
		c.validation.PhaseHints.HealthDetail = "EKS cluster active; waiting for node group readiness."
	case appEndpoint == "":
		c.validation.PhaseHints.HealthDetail = "EKS infrastructure is ready. Workload deployment is still pending."
	}
}

// validateAPIGateway derives the invoke URL of a created API.
func validateAPIGateway(ctx context.Context, v *Validator, c *check) {
	validateGeneric(ctx, v, c)
	apiID := c.result.PayloadString("api_id")
	if apiID == "" || !c.creating() {
		return
	}
	invoke := fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com", apiID, v.region(c))
	stage := strings.Trim(firstNonEmpty(c.intent.StringParam("stage_name"), c.intent.StringParam("stage")), "/")
	if stage != "" {
		invoke += "/" + stage
	}
	c.setPayloadDefault("invoke_url", invoke)
	c.setDeploy(true, "API endpoint provisioned.")
}

func validateELB(ctx context.Context, v *Validator, c *check) {
	validateGeneric(ctx, v, c)
	if dns := c.result.PayloadString("dns_name"); dns != "" && c.creating() {
		c.setPayloadDefault("url", "http://"+dns)
		c.setDeploy(true, "Load balancer endpoint is available.")
	}
}

func validateCloudFront(ctx context.Context, v *Validator, c *check) {
	validateGeneric(ctx, v, c)
	if domain := c.result.PayloadString("domain_name"); domain != "" && c.creating() {
		c.setPayloadDefault("url", "https://"+domain)
		c.setDeploy(true, "CloudFront endpoint is available.")
	}
}

func validateWellArchitected(ctx context.Context, v *Validator, c *check) {
	validateGeneric(ctx, v, c)
	if c.creating() {
		c.setDeploy(true, "Well-Architected workload changes applied.")
	}
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
