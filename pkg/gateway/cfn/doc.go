// Package cfn adapts AWS CloudFormation to the deploy.Gateway boundary.
// Submissions map to CreateStack or UpdateStack depending on whether the
// stack already exists, status polling maps to DescribeStacks, and
// failure diagnosis reads the stack event stream for resource-level
// *_FAILED events.
package cfn
