package cfn

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/stackmend/stackmend/pkg/engine"
)

var errStackNotFound = errors.New("stack not found")

// classify maps an AWS SDK error onto the engine error taxonomy so the
// orchestrator can tell a rejected submission from a transport fault.
func classify(operation string, err error) *engine.EngineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransientError("cloudformation call timed out", err).
			WithCode(engine.ErrCodeTimeout).
			WithOperation(operation)
	}
	if errors.Is(err, context.Canceled) {
		return engine.NewTransientError("cloudformation call cancelled", err).
			WithCode(engine.ErrCodeTimeout).
			WithOperation(operation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AlreadyExistsException":
			return engine.NewConflictError("stack already exists", err).
				WithCode(engine.ErrCodeAlreadyExists).
				WithOperation(operation)
		case "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return engine.NewThrottledError("cloudformation throttled the request", err).
				WithCode(engine.ErrCodeRateLimited).
				WithOperation(operation)
		case "ValidationError", "InsufficientCapabilitiesException":
			return engine.NewPermanentError("cloudformation rejected the template", err).
				WithCode(engine.ErrCodeValidation).
				WithOperation(operation)
		case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
			return engine.NewPermanentError("access denied by cloudformation", err).
				WithCode(engine.ErrCodePermissionDenied).
				WithOperation(operation)
		}
	}

	return engine.NewTransientError("cloudformation call failed", err).
		WithCode(engine.ErrCodeGatewayFailed).
		WithOperation(operation)
}

// isStackNotFound detects the DescribeStacks failure mode for a stack
// name that does not exist. CloudFormation reports it as a
// ValidationError, not a typed not-found error.
func isStackNotFound(err error) bool {
	if errors.Is(err, errStackNotFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "does not exist")
	}
	return false
}

// isNoUpdates detects the UpdateStack failure mode for a template that
// matches the deployed stack exactly.
func isNoUpdates(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationError" &&
			strings.Contains(apiErr.ErrorMessage(), "No updates are to be performed")
	}
	return false
}
