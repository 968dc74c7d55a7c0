package cfn

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog"

	"github.com/stackmend/stackmend/pkg/deploy"
	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/template"
)

// Gateway drives CloudFormation as the remote provisioning backend.
type Gateway struct {
	client Client
	logger zerolog.Logger

	// capabilities are passed on every submission. Templates that add
	// IAM roles need CAPABILITY_NAMED_IAM.
	capabilities []cfntypes.Capability
}

var _ deploy.Gateway = (*Gateway)(nil)

// New creates a gateway from an AWS config.
func New(cfg aws.Config, logger zerolog.Logger) *Gateway {
	return NewWithClient(cloudformation.NewFromConfig(cfg), logger)
}

// NewWithClient creates a gateway with a custom CloudFormation client.
func NewWithClient(client Client, logger zerolog.Logger) *Gateway {
	return &Gateway{
		client: client,
		logger: logger.With().Str("component", "gateway.cfn").Logger(),
		capabilities: []cfntypes.Capability{
			cfntypes.CapabilityCapabilityIam,
			cfntypes.CapabilityCapabilityNamedIam,
		},
	}
}

// Submit sends the template to CloudFormation. A stack that does not
// exist yet is created; an existing stack is updated. An update with
// nothing to change is not an error: the current stack id is returned
// and the subsequent poll observes the existing terminal state.
func (g *Gateway) Submit(ctx context.Context, target string, tpl *template.Template) (string, error) {
	body, err := tpl.JSON()
	if err != nil {
		return "", engine.NewPermanentError("failed to serialize template", err).
			WithCode(engine.ErrCodeValidation).
			WithOperation("submit")
	}

	exists, err := g.Exists(ctx, target)
	if err != nil {
		return "", err
	}

	if exists {
		return g.update(ctx, target, string(body))
	}
	return g.create(ctx, target, string(body))
}

func (g *Gateway) create(ctx context.Context, target, body string) (string, error) {
	out, err := g.client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(target),
		TemplateBody: aws.String(body),
		Capabilities: g.capabilities,
		// Rollback disabled so failed resources stay visible in the
		// event stream for diagnosis.
		DisableRollback: aws.Bool(true),
	})
	if err != nil {
		return "", classify("create_stack", err)
	}

	g.logger.Info().Str("target", target).Str("stack_id", aws.ToString(out.StackId)).Msg("stack creation submitted")
	return aws.ToString(out.StackId), nil
}

func (g *Gateway) update(ctx context.Context, target, body string) (string, error) {
	out, err := g.client.UpdateStack(ctx, &cloudformation.UpdateStackInput{
		StackName:    aws.String(target),
		TemplateBody: aws.String(body),
		Capabilities: g.capabilities,
	})
	if err != nil {
		if isNoUpdates(err) {
			g.logger.Info().Str("target", target).Msg("no changes to deploy")
			return g.stackID(ctx, target)
		}
		return "", classify("update_stack", err)
	}

	g.logger.Info().Str("target", target).Str("stack_id", aws.ToString(out.StackId)).Msg("stack update submitted")
	return aws.ToString(out.StackId), nil
}

// PollStatus reports the current stack state.
func (g *Gateway) PollStatus(ctx context.Context, target string) (*deploy.StackObservation, error) {
	stack, err := g.describe(ctx, target)
	if err != nil {
		if isStackNotFound(err) {
			return &deploy.StackObservation{State: engine.StackStatusNotExists}, nil
		}
		return nil, classify("describe_stacks", err)
	}

	return &deploy.StackObservation{
		State:        engine.StackStatus(stack.StackStatus),
		StatusReason: aws.ToString(stack.StackStatusReason),
	}, nil
}

// ListFailureEvents returns up to limit resource-level failure events,
// newest first, as CloudFormation reports them. The stack's own
// aggregate failure event is excluded; it only restates the resource
// failures.
func (g *Gateway) ListFailureEvents(ctx context.Context, target string, limit int) ([]deploy.FailureEvent, error) {
	out, err := g.client.DescribeStackEvents(ctx, &cloudformation.DescribeStackEventsInput{
		StackName: aws.String(target),
	})
	if err != nil {
		return nil, classify("describe_stack_events", err)
	}

	events := []deploy.FailureEvent{}
	for _, ev := range out.StackEvents {
		if len(events) >= limit {
			break
		}
		status := string(ev.ResourceStatus)
		if !strings.HasSuffix(status, "_FAILED") {
			continue
		}
		if aws.ToString(ev.ResourceType) == "AWS::CloudFormation::Stack" {
			continue
		}
		events = append(events, deploy.FailureEvent{
			ResourceID:   aws.ToString(ev.LogicalResourceId),
			ResourceType: aws.ToString(ev.ResourceType),
			Status:       status,
			StatusReason: aws.ToString(ev.ResourceStatusReason),
			Timestamp:    aws.ToTime(ev.Timestamp),
		})
	}

	return events, nil
}

// Exists reports whether the target stack exists.
func (g *Gateway) Exists(ctx context.Context, target string) (bool, error) {
	stack, err := g.describe(ctx, target)
	if err != nil {
		if isStackNotFound(err) {
			return false, nil
		}
		return false, classify("describe_stacks", err)
	}

	// A deleted stack still shows up in DescribeStacks by stack id, but
	// by name it is gone. REVIEW_IN_PROGRESS stacks have no resources
	// and cannot be updated.
	if stack.StackStatus == cfntypes.StackStatusReviewInProgress {
		return false, nil
	}
	return true, nil
}

func (g *Gateway) describe(ctx context.Context, target string) (*cfntypes.Stack, error) {
	out, err := g.client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(target),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Stacks) == 0 {
		return nil, errStackNotFound
	}
	return &out.Stacks[0], nil
}

func (g *Gateway) stackID(ctx context.Context, target string) (string, error) {
	stack, err := g.describe(ctx, target)
	if err != nil {
		return "", classify("describe_stacks", err)
	}
	return aws.ToString(stack.StackId), nil
}
