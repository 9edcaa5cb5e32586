package engine

import (
	"strings"
)

var parameterAliases = map[string]string{
	"instancetype":                    "instance_type",
	"keyname":                         "key_name",
	"imageid":                         "ami_id",
	"vpcid":                           "vpc_id",
	"subnetid":                        "subnet_id",
	"subnetids":                       "subnet_ids",
	"userdata":                        "user_data",
	"publiclyaccessible":              "public_access",
	"publicip":                        "public_access",
	"vpcsecuritygroupids":             "vpc_security_group_ids",
	"securitygroupids":                "security_group_ids",
	"dbinstanceclass":                 "instance_type",
	"allocatedstorage":                "storage_size",
	"masterusername":                  "master_username",
	"masteruserpassword":              "master_password",
	"engineversion":                   "engine_version",
	"releaselabel":                    "release_label",
	"masterinstancetype":              "master_instance_type",
	"slaveinstancetype":               "worker_instance_type",
	"workerinstancetype":              "worker_instance_type",
	"instancecount":                   "instance_count",
	"rolearn":                         "role_arn",
	"iaminstanceprofile":              "iam_instance_profile",
	"cidrblock":                       "cidr_block",
	"dbname":                          "db_name",
	"dbinstanceidentifier":            "db_instance_id",
	"clusteridentifier":               "cluster_id",
	"clustername":                     "cluster_name",
	"functionname":                    "function_name",
	"memorysize":                      "memory",
	"existingresourceid":              "existing_resource_id",
	"existingoperation":               "existing_operation",
	"resourceselection":               "resource_strategy",
	"resourcestrategy":                "resource_strategy",
	"custominstruction":               "custom_instruction",
	"websiteconfiguration":            "website_configuration",
	"websiteenabled":                  "website_enabled",
	"indexdocument":                   "index_document",
	"errordocument":                   "error_document",
	"indexcontent":                    "index_content",
	"createindexfile":                 "create_index_file",
	"clientrequesttoken":              "client_request_token",
	"accountids":                      "account_ids",
	"dbusername":                      "db_username",
	"dbuser":                          "db_username",
	"dbpassword":                      "db_password",
	"bastioninstanceid":               "bastion_instance_id",
	"secretarn":                       "secret_arn",
	"sqlstatements":                   "sql_statements",
	"ensurenetworkpath":               "ensure_network_path",
	"storagesize":                     "storage_size",
	"volumesize":                      "storage_size",
	"os":                              "os_flavor",
	"osflavor":                        "os_flavor",
	"servicetargets":                  "service_targets",
	"apptargets":                      "app_targets",
	"installtargets":                  "install_targets",
	"appport":                         "app_port",
	"customcommands":                  "custom_commands",
	"executionmode":                   "execution_mode",
	"usecustomnetworking":             "use_custom_networking",
	"isreviewownerupdateacknowledged": "is_review_owner_update_acknowledged",
}

var droppedParameters = map[string]bool{
	"tagspecifications":       true,
	"monitoringconfiguration": true,
	"blockdevicemappings":     true,
	"networkinterfaces":       true,
	"groups":                  true,
	"tags":                    true,
}

var listLikeParameters = map[string]bool{
	"subnet_ids":             true,
	"security_group_ids":     true,
	"vpc_security_group_ids": true,
	"app_targets":            true,
	"install_targets":        true,
	"account_ids":            true,
	"service_targets":        true,
	"profile_arns":           true,
	"applications":           true,
}

var placeholderValues = map[string]bool{
	"":               true,
	"null":           true,
	"none":           true,
	"default":        true,
	"n/a":            true,
	"na":             true,
	"auto-generated": true,
}

// IsPlaceholder reports whether a string is a placeholder standing in for "no value".
func IsPlaceholder(s string) bool {
	return placeholderValues[strings.ToLower(strings.TrimSpace(s))]
}

// SanitizeParameters normalizes parameter keys and values before execution:
// aliases are resolved, tag/interface blobs dropped, placeholders removed,
// boolean strings converted and comma lists split for list-like keys.
func SanitizeParameters(params map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for key, value := range params {
		normalized := alnumKey(key)
		if droppedParameters[normalized] {
			continue
		}
		if alias, ok := parameterAliases[normalized]; ok {
			key = alias
		}
		if value == nil {
			continue
		}

		switch v := value.(type) {
		case string:
			cleaned := strings.Trim(strings.TrimSpace(v), `'"`)
			if IsPlaceholder(cleaned) {
				continue
			}
			lower := strings.ToLower(cleaned)
			if lower == "true" || lower == "false" {
				out[key] = lower == "true"
				continue
			}
			if listLikeParameters[key] && strings.Contains(cleaned, ",") {
				out[key] = StringList(cleaned)
				continue
			}
			if key == "user_data" {
				cleaned = normalizeUserData(cleaned)
				if cleaned == "" {
					continue
				}
			}
			out[key] = cleaned
		case []interface{}:
			items := make([]interface{}, 0, len(v))
			for _, item := range v {
				if item == nil {
					continue
				}
				if s, ok := item.(string); ok {
					s = strings.Trim(strings.TrimSpace(s), `'"`)
					if IsPlaceholder(s) {
						continue
					}
					item = s
				}
				items = append(items, item)
			}
			if len(items) > 0 {
				out[key] = items
			}
		case []string:
			items := make([]interface{}, 0, len(v))
			for _, s := range v {
				s = strings.Trim(strings.TrimSpace(s), `'"`)
				if !IsPlaceholder(s) {
					items = append(items, s)
				}
			}
			if len(items) > 0 {
				out[key] = items
			}
		default:
			out[key] = value
		}
	}
	return out
}

func alnumKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeUserData(script string) string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	script = strings.ReplaceAll(script, "\r", "\n")
	lines := strings.Split(script, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if IsPlaceholder(line) {
			continue
		}
		kept = append(kept, line)
	}
	script = strings.TrimSpace(strings.Join(kept, "\n"))
	if script != "" && !strings.HasPrefix(script, "#!/bin/bash") {
		script = "#!/bin/bash\n" + script
	}
	return script
}
