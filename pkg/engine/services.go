package engine

import (
	"regexp"
	"sort"
	"strings"
)

// ServiceKeywords maps a resource family onto the phrases that name it.
type ServiceKeywords struct {
	ResourceType string
	Tokens       []string
}

// ServiceCatalog is the keyword table used to infer resource families from
// free text. Order breaks score ties.
var ServiceCatalog = []ServiceKeywords{
	{"s3", []string{"s3", "bucket", "storage bucket", "object storage", "s3 bucket"}},
	{"lambda", []string{"lambda", "function", "serverless", "serverless function", "lambda function"}},
	{"ec2", []string{"ec2", "instance", "virtual machine", "vm", "server", "compute"}},
	{"rds", []string{"rds", "database", "mysql", "postgres", "postgresql", "mariadb", "aurora", "db instance", "sql server", "oracle db"}},
	{"vpc", []string{"vpc", "virtual private cloud", "network", "virtual network", "subnet", "subnets"}},
	{"iam", []string{"iam", "role", "policy", "permissions", "iam role", "iam user", "iam policy"}},
	{"elb", []string{"load balancer", "elb", "alb", "nlb", "application load balancer", "network load balancer"}},
	{"cloudwatch", []string{"alarm", "cloudwatch", "monitoring", "alert", "metric", "log group", "cloudwatch alarm"}},
	{"dynamodb", []string{"dynamodb", "dynamo", "nosql", "dynamo table", "dynamodb table"}},
	{"sns", []string{"sns", "notification", "topic", "sns topic", "push notification"}},
	{"sqs", []string{"sqs", "queue", "message queue", "sqs queue"}},
	{"ecs", []string{"ecs", "container", "fargate", "ecs cluster", "ecs service", "container service"}},
	{"eks", []string{"eks", "kubernetes", "k8s", "eks cluster", "kubernates", "kubernets", "kubernete"}},
	{"route53", []string{"route53", "dns", "domain", "hosted zone", "dns record"}},
	{"cloudfront", []string{"cloudfront", "cdn", "distribution", "content delivery"}},
	{"elasticache", []string{"elasticache", "redis cluster", "memcached", "cache cluster"}},
	{"kinesis", []string{"kinesis", "stream", "data stream", "kinesis stream"}},
	{"secretsmanager", []string{"secret", "secrets manager", "secretsmanager"}},
	{"ssm", []string{"ssm", "parameter store", "systems manager", "parameter"}},
	{"ecr", []string{"ecr", "container registry", "docker registry"}},
	{"stepfunctions", []string{"step function", "step functions", "state machine", "workflow"}},
	{"apigateway", []string{"api gateway", "apigateway", "rest api", "http api"}},
	{"codepipeline", []string{"codepipeline", "pipeline", "ci/cd", "cicd"}},
	{"codebuild", []string{"codebuild", "build project"}},
	{"glue", []string{"glue", "etl", "data catalog", "crawler"}},
	{"athena", []string{"athena", "query", "sql query"}},
	{"redshift", []string{"redshift", "data warehouse", "warehouse"}},
	{"emr", []string{"emr", "spark", "hadoop", "big data cluster"}},
	{"sagemaker", []string{"sagemaker", "ml", "machine learning", "notebook", "training job"}},
	{"security_group", []string{"security group", "firewall", "sg", "inbound rule", "outbound rule"}},
	{"ebs", []string{"ebs", "volume", "block storage", "ebs volume"}},
	{"efs", []string{"efs", "file system", "elastic file system"}},
	{"acm", []string{"acm", "certificate", "ssl", "tls", "ssl certificate"}},
	{"kms", []string{"kms", "key", "encryption key", "kms key"}},
	{"waf", []string{"waf", "web application firewall", "firewall rule"}},
	{"wellarchitected", []string{"well architected", "well-architected", "wellarchitected", "workload review"}},
}

var wordPatterns = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp)
	for _, svc := range ServiceCatalog {
		for _, tok := range svc.Tokens {
			if !strings.Contains(tok, " ") {
				out[tok] = regexp.MustCompile(`\b` + regexp.QuoteMeta(tok) + `\b`)
			}
		}
	}
	return out
}()

// KnownResourceType reports whether rt is in the service catalog.
func KnownResourceType(rt string) bool {
	rt = strings.ToLower(strings.TrimSpace(rt))
	for _, svc := range ServiceCatalog {
		if svc.ResourceType == rt {
			return true
		}
	}
	return false
}

// IsServerlessPhrase reports whether the text asks for a serverless design.
func IsServerlessPhrase(text string) bool {
	lowered := strings.ToLower(text)
	return ContainsAny(lowered, "serverless", "server less", "server-less")
}

// InferServices ranks the resource families the text mentions, strongest
// first. Multi-word phrases score 3, whole words score 2, and a handful of
// high-intent phrases add boosts. At most five families with a score of at
// least 3 are returned.
func InferServices(text string) []string {
	lowered := strings.ToLower(text)
	if strings.TrimSpace(lowered) == "" {
		return nil
	}

	scores := make(map[string]int)
	order := make(map[string]int)
	for i, svc := range ServiceCatalog {
		order[svc.ResourceType] = i
		score := 0
		for _, tok := range svc.Tokens {
			if strings.Contains(tok, " ") {
				if strings.Contains(lowered, tok) {
					score += 3
				}
			} else if wordPatterns[tok].MatchString(lowered) {
				score += 2
			}
		}
		if score > 0 {
			scores[svc.ResourceType] = score
		}
	}

	if strings.Contains(lowered, "fargate") {
		scores["ecs"] += 9
	}
	if ContainsAny(lowered, "api gateway", "http api", "rest api") {
		scores["apigateway"] += 9
	}
	if ContainsAny(lowered, "glue", "etl", "crawler") {
		scores["glue"] += 9
	}
	if ContainsAny(lowered, "waf", "firewall") {
		scores["waf"] += 9
		scores["security_group"] += 5
	}
	if ContainsAny(lowered, "kubernetes", "k8s", "eks") {
		scores["eks"] += 9
	}
	if IsServerlessPhrase(lowered) {
		scores["lambda"] += 8
		scores["apigateway"] += 5
	}
	if ContainsAny(lowered, "3 tier", "three tier") {
		scores["vpc"] += 8
		scores["elb"] += 7
		scores["rds"] += 7
	}

	ranked := make([]string, 0, len(scores))
	for rt, score := range scores {
		if score >= 3 {
			ranked = append(ranked, rt)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return order[a] < order[b]
	})
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	return ranked
}

var sqlTablePattern = regexp.MustCompile(`\b(create|alter|drop|insert|update|delete)\s+table\b`)

// InferService returns the single best resource family for the text, or "".
func InferService(text string) string {
	if ranked := InferServices(text); len(ranked) > 0 {
		return ranked[0]
	}
	lowered := strings.ToLower(text)
	switch {
	case strings.TrimSpace(lowered) == "":
		return ""
	case sqlTablePattern.MatchString(lowered) || strings.Contains(lowered, "sql"):
		return "rds"
	case strings.Contains(lowered, "dynamodb") || strings.Contains(lowered, "nosql"):
		return "dynamodb"
	case ContainsAny(lowered, "kubernetes", "eks"):
		return "eks"
	case ContainsAny(lowered, "bucket", "s3"):
		return "s3"
	case strings.Contains(lowered, "lambda") || IsServerlessPhrase(lowered):
		return "lambda"
	case ContainsAny(lowered, "api gateway", "http api", "rest api"):
		return "apigateway"
	case ContainsAny(lowered, "vpc", "subnet", "route table"):
		return "vpc"
	case ContainsAny(lowered, "security group", "ingress", "egress"):
		return "security_group"
	case strings.Contains(lowered, "cluster") && strings.Contains(lowered, "ecs"):
		return "ecs"
	case ContainsAny(lowered, "rds", "postgres", "mysql", "database"):
		return "rds"
	case ContainsAny(lowered, "ec2", "instance", "server"):
		return "ec2"
	}
	return ""
}

// AlignmentReason describes why text was matched to a resource family.
func AlignmentReason(text, inferred string) string {
	lowered := strings.ToLower(text)
	switch inferred {
	case "rds":
		if ContainsAny(lowered, "sql", "table") {
			return "SQL/table keywords detected"
		}
	case "s3":
		return "bucket/object storage keywords detected"
	case "lambda":
		return "serverless/function keywords detected"
	case "ecs":
		return "Fargate/ECS container keywords detected"
	case "apigateway":
		return "API Gateway keywords detected"
	case "glue":
		return "ETL/Glue keywords detected"
	case "waf":
		return "firewall/WAF keywords detected"
	case "eks":
		return "Kubernetes/EKS keywords detected"
	case "vpc":
		return "networking/VPC keywords detected"
	}
	return strings.ToUpper(inferred) + " keywords detected"
}

var complexKeywords = []string{
	"3 tier", "three tier", "multi tier", "eks", "k8s", "kubernetes", "kubernates", "kubernets", "kubernete",
	"spark", "private cluster", "microservices", "alb", "rds", "serverless", "server less", "server-less",
	"fargate", "ecs", "api gateway", "glue", "etl", "waf", "firewall", "athena", "data pipeline",
}

// IsComplexRequest reports whether the text names a multi-service architecture.
func IsComplexRequest(text string) bool {
	return ContainsAny(strings.ToLower(text), complexKeywords...)
}
