package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		openIngressPolicy(),
		unencryptedBucketPolicy(),
		wildcardIAMPolicy(),
	}
}

// openIngressPolicy flags security groups that allow inbound traffic from
// anywhere.
func openIngressPolicy() Policy {
	return Policy{
		Name:        "open-ingress",
		Description: "Flags security group ingress rules open to 0.0.0.0/0 or ::/0",
		Severity:    SeverityMedium,
		Enabled:     true,
		Tags:        []string{"network", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackmend.policies.ingress

import rego.v1

deny contains violation if {
	input.resource
	resource := input.resource
	resource.type == "AWS::EC2::SecurityGroup"

	some rule in resource.properties.SecurityGroupIngress
	rule.CidrIp == "0.0.0.0/0"

	violation := {
		"message": sprintf("Security group %s allows ingress from 0.0.0.0/0", [resource.id]),
		"severity": "medium",
		"resource": resource.id,
		"remediation": "Restrict CidrIp to a private or known address range",
	}
}

deny contains violation if {
	input.resource
	resource := input.resource
	resource.type == "AWS::EC2::SecurityGroup"

	some rule in resource.properties.SecurityGroupIngress
	rule.CidrIpv6 == "::/0"

	violation := {
		"message": sprintf("Security group %s allows ingress from ::/0", [resource.id]),
		"severity": "medium",
		"resource": resource.id,
		"remediation": "Restrict CidrIpv6 to a known address range",
	}
}
`,
	}
}

// unencryptedBucketPolicy flags S3 buckets without server-side encryption.
func unencryptedBucketPolicy() Policy {
	return Policy{
		Name:        "unencrypted-bucket",
		Description: "Flags S3 buckets without server-side encryption configured",
		Severity:    SeverityHigh,
		Enabled:     true,
		Tags:        []string{"storage", "encryption"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackmend.policies.encryption

import rego.v1

deny contains violation if {
	input.resource
	resource := input.resource
	resource.type == "AWS::S3::Bucket"

	not resource.properties.BucketEncryption

	violation := {
		"message": sprintf("Bucket %s has no server-side encryption configured", [resource.id]),
		"severity": "high",
		"resource": resource.id,
		"remediation": "Add a BucketEncryption block with SSE enabled",
	}
}
`,
	}
}

// wildcardIAMPolicy flags IAM policy statements granting every action.
func wildcardIAMPolicy() Policy {
	return Policy{
		Name:        "wildcard-iam-action",
		Description: "Flags IAM policies that allow the wildcard action",
		Severity:    SeverityHigh,
		Enabled:     true,
		Tags:        []string{"iam", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackmend.policies.iam

import rego.v1

iam_types := {"AWS::IAM::Policy", "AWS::IAM::ManagedPolicy", "AWS::IAM::Role"}

statements contains stmt if {
	some stmt in input.resource.properties.PolicyDocument.Statement
}

statements contains stmt if {
	some doc in input.resource.properties.Policies
	some stmt in doc.PolicyDocument.Statement
}

deny contains violation if {
	input.resource
	resource := input.resource
	iam_types[resource.type]

	some stmt in statements
	stmt.Effect == "Allow"
	wildcard_action(stmt.Action)

	violation := {
		"message": sprintf("IAM resource %s allows the wildcard action '*'", [resource.id]),
		"severity": "high",
		"resource": resource.id,
		"remediation": "Scope the Action list to the operations the workload needs",
	}
}

wildcard_action(action) if action == "*"

wildcard_action(action) if {
	is_array(action)
	some a in action
	a == "*"
}
`,
	}
}
