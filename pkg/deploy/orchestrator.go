package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackmend/stackmend/pkg/analyzer"
	"github.com/stackmend/stackmend/pkg/engine"
	"github.com/stackmend/stackmend/pkg/fixer"
	"github.com/stackmend/stackmend/pkg/telemetry"
	"github.com/stackmend/stackmend/pkg/template"
)

// failureEventLimit caps how many failure events one attempt correlates.
const failureEventLimit = 10

// Orchestrator owns the analyze-fix-submit-poll-retry loop for one
// target. It holds no mutable state between runs and may be shared, but
// one target must never be deployed concurrently with itself.
type Orchestrator struct {
	logger   zerolog.Logger
	gateway  Gateway
	analyzer *analyzer.Analyzer
	fixer    *fixer.Fixer
	opts     Options

	audit   AuditStore
	metrics *telemetry.Metrics
}

// NewOrchestrator creates an orchestrator. Unset numeric options are
// filled with defaults.
func NewOrchestrator(logger zerolog.Logger, gw Gateway, a *analyzer.Analyzer, f *fixer.Fixer, opts Options) *Orchestrator {
	opts.normalize()
	return &Orchestrator{
		logger:   logger.With().Str("component", "orchestrator").Str("target", opts.Target).Logger(),
		gateway:  gw,
		analyzer: a,
		fixer:    f,
		opts:     opts,
	}
}

// SetAuditStore attaches a persistence sink for the run trail.
func (o *Orchestrator) SetAuditStore(s AuditStore) { o.audit = s }

// SetMetrics attaches a metrics recorder.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) { o.metrics = m }

// Run drives the template to convergence or exhaustion. It returns an
// error only for conditions no retry can address (malformed references,
// analysis failure); every operational outcome, including total failure,
// is reported in the Result. The ctx cancels the run at loop boundaries
// and poll ticks; an in-flight remote operation is left untouched.
func (o *Orchestrator) Run(ctx context.Context, tpl *template.Template) (*Result, error) {
	result := &Result{
		RunID:     uuid.NewString(),
		Target:    o.opts.Target,
		State:     engine.RunStateAnalyzing,
		StartedAt: time.Now().UTC(),
	}
	ctx = telemetry.WithRunContext(ctx, result.RunID, o.opts.Target)

	current := tpl.Clone()
	var carried []fixer.Fix // failure-derived fixes awaiting their attempt
	lastError := ""

	for iteration := 1; iteration <= o.opts.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			o.recordCancelled(ctx, result, iteration, current, carried)
			return result, nil
		}

		o.logger.Info().Int("iteration", iteration).Msg("Starting iteration")

		attemptCtx, endAttempt := telemetry.StartAttemptContext(ctx, result.RunID, iteration)

		// Analysis always runs against the current template; a stale
		// result is never reused across iterations.
		result.State = engine.RunStateAnalyzing
		analyzeCtx, endAnalyze := telemetry.StartPhaseSpan(attemptCtx, "run.analyze")
		analysis, err := o.analyzer.Analyze(analyzeCtx, current)
		endAnalyze(err)
		if err != nil {
			endAttempt(err)
			return nil, err
		}
		o.recordIssues(ctx, result.RunID, analysis)

		attemptFixes := carried
		carried = nil
		if analysis.HasIssues() {
			result.State = engine.RunStateFixing
			fixCtx, endFix := telemetry.StartPhaseSpan(attemptCtx, "run.fix")
			fixed, err := o.fixer.Fix(fixCtx, current, analysis.Issues, fixer.Options{
				AutoApply: o.opts.AutoApplyFixes,
				MaxFixes:  o.opts.MaxFixesPerPass,
			})
			endFix(err)
			if err != nil {
				endAttempt(err)
				return nil, err
			}
			current = fixed.FixedTemplate
			attemptFixes = append(attemptFixes, fixed.Applied...)
		}

		attempt := Attempt{
			Number:       iteration,
			Template:     current.Clone(),
			FixesApplied: attemptFixes,
			StartedAt:    time.Now().UTC(),
		}
		result.FixesApplied = append(result.FixesApplied, attemptFixes...)
		for i := range attemptFixes {
			o.recordFix(ctx, result.RunID, &attemptFixes[i])
		}

		result.State = engine.RunStateSubmitting
		submitCtx, cancel := context.WithTimeout(attemptCtx, o.opts.SubmitTimeout)
		var operationID string
		err = telemetry.RecordGatewayOperation(submitCtx, "submit", o.opts.Target, func(c context.Context) error {
			var submitErr error
			operationID, submitErr = o.gateway.Submit(c, o.opts.Target, current)
			return submitErr
		})
		cancel()

		var observation *StackObservation
		switch {
		case err != nil && ctx.Err() != nil:
			attempt.Status = engine.AttemptStatusCancelled
			attempt.ErrorMessage = "run cancelled during submission"
			endAttempt(err)
			o.finishAttempt(ctx, result, &attempt)
			result.State = engine.RunStateCancelled
			result.ErrorMessage = attempt.ErrorMessage
			o.finishRun(ctx, result, current)
			return result, nil

		case err != nil:
			// The backend refused the submission before any remote state
			// changed. Correlate the rejection message itself.
			o.recordError(err)
			attempt.Status = engine.AttemptStatusRejected
			attempt.ErrorMessage = err.Error()
			lastError = err.Error()
			observation = nil

		default:
			attempt.OperationID = operationID
			result.State = engine.RunStatePolling

			pollStart := time.Now()
			var status engine.AttemptStatus
			pollCtx, endPoll := telemetry.StartPhaseSpan(attemptCtx, "run.poll")
			observation, status = o.pollUntilTerminal(pollCtx, o.opts.Target, result.RunID)
			endPoll(nil)
			o.observePoll(time.Since(pollStart))

			attempt.Status = status
			if observation != nil {
				attempt.StackState = observation.State
				if observation.StatusReason != "" {
					attempt.ErrorMessage = observation.StatusReason
					lastError = observation.StatusReason
				}
			}
		}

		switch {
		case attempt.Status == engine.AttemptStatusTimeout:
			endAttempt(context.DeadlineExceeded)
		case attempt.ErrorMessage != "":
			endAttempt(errors.New(attempt.ErrorMessage))
		default:
			endAttempt(nil)
		}

		switch attempt.Status {
		case engine.AttemptStatusSucceeded:
			o.finishAttempt(ctx, result, &attempt)
			result.Success = true
			result.State = engine.RunStateSucceeded
			o.finishRun(ctx, result, current)
			return result, nil

		case engine.AttemptStatusCancelled:
			o.finishAttempt(ctx, result, &attempt)
			result.State = engine.RunStateCancelled
			result.ErrorMessage = "run cancelled"
			o.finishRun(ctx, result, current)
			return result, nil

		case engine.AttemptStatusTimeout:
			// The remote operation may still be running; retrying into it
			// would race. The caller decides what happens next.
			attempt.ErrorMessage = fmt.Sprintf("no terminal stack state within %s", o.opts.PerAttemptTimeout)
			o.finishAttempt(ctx, result, &attempt)
			result.State = engine.RunStateFailedTerminal
			result.ErrorMessage = attempt.ErrorMessage
			o.finishRun(ctx, result, current)
			return result, nil
		}

		// FAILED or REJECTED: correlate failures to targeted fixes.
		events := o.collectFailureEvents(ctx, &attempt)
		o.finishAttempt(ctx, result, &attempt)
		o.persistEvents(ctx, result.RunID, attempt.Number, events)
		if len(events) > 0 && events[0].StatusReason != "" {
			lastError = events[0].StatusReason
		}

		if iteration == o.opts.MaxIterations {
			break
		}

		next := current
		for _, event := range events {
			fixed, err := o.fixer.FixForFailure(ctx, next, event.StatusReason, event.ResourceID)
			if err != nil {
				return nil, err
			}
			if len(fixed.Applied) > 0 {
				next = fixed.FixedTemplate
				carried = append(carried, fixed.Applied...)
			}
		}

		if len(carried) == 0 {
			// No targeted fix was derived. Retrying the same template
			// would burn remote quota without changing the outcome.
			noFix := engine.NewPermanentError(
				fmt.Sprintf("attempt %d failed with no automatic remediation: %s", attempt.Number, lastError), nil).
				WithCode(engine.ErrCodeNoFixAvailable)
			o.recordError(noFix)
			result.State = engine.RunStateFailedTerminal
			result.ErrorMessage = noFix.Message
			o.finishRun(ctx, result, current)
			return result, nil
		}

		current = next
		result.State = engine.RunStateFailedRetryable
		o.logger.Info().
			Int("iteration", iteration).
			Int("targeted_fixes", len(carried)).
			Msg("Attempt failed, retrying with targeted fixes")
	}

	result.State = engine.RunStateFailedTerminal
	result.ErrorMessage = fmt.Sprintf(
		"exhausted %d iterations without convergence, last error: %s",
		o.opts.MaxIterations, lastError)
	o.finishRun(ctx, result, current)
	return result, nil
}

// pollUntilTerminal polls the gateway until the stack reaches a terminal
// state, the per-attempt timeout expires, or the ctx is cancelled. The
// attempt budget bounds the gateway calls themselves, not just the
// waits between them.
func (o *Orchestrator) pollUntilTerminal(ctx context.Context, target, runID string) (*StackObservation, engine.AttemptStatus) {
	pollCtx, cancel := context.WithTimeout(ctx, o.opts.PerAttemptTimeout)
	defer cancel()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	tel := telemetry.FromTelemetryContext(ctx)
	var last *StackObservation
	for {
		observation, err := o.gateway.PollStatus(pollCtx, target)
		switch {
		case err != nil && ctx.Err() != nil:
			return last, engine.AttemptStatusCancelled
		case err != nil && pollCtx.Err() != nil:
			return last, engine.AttemptStatusTimeout
		case err != nil:
			// Transient poll failures do not fail the attempt.
			o.logger.Warn().Err(err).Msg("Status poll failed")
		default:
			if tel != nil && (last == nil || last.State != observation.State) {
				previous := ""
				if last != nil {
					previous = string(last.State)
				}
				_ = tel.Events.PublishStackStateChange(runID, target, previous, string(observation.State))
			}
			last = observation
			if observation.State.IsTerminal() {
				if observation.State.IsSuccess() {
					return last, engine.AttemptStatusSucceeded
				}
				return last, engine.AttemptStatusFailed
			}
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return last, engine.AttemptStatusCancelled
			}
			return last, engine.AttemptStatusTimeout
		case <-ticker.C:
		}
	}
}

// collectFailureEvents fetches failure events for a failed attempt. A
// rejected submission has no remote events; its rejection message is the
// only signal.
func (o *Orchestrator) collectFailureEvents(ctx context.Context, attempt *Attempt) []FailureEvent {
	if attempt.Status == engine.AttemptStatusRejected {
		return []FailureEvent{{
			ResourceID:   analyzer.TemplateScope,
			StatusReason: attempt.ErrorMessage,
			Timestamp:    time.Now().UTC(),
		}}
	}

	events, err := o.gateway.ListFailureEvents(ctx, o.opts.Target, failureEventLimit)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to fetch failure events")
		if attempt.ErrorMessage != "" {
			return []FailureEvent{{
				ResourceID:   analyzer.TemplateScope,
				StatusReason: attempt.ErrorMessage,
				Timestamp:    time.Now().UTC(),
			}}
		}
		return nil
	}
	return events
}

// recordCancelled appends the mandatory attempt record when a run is
// cancelled before a submission happens.
func (o *Orchestrator) recordCancelled(ctx context.Context, result *Result, iteration int, current *template.Template, fixes []fixer.Fix) {
	attempt := Attempt{
		Number:       iteration,
		Template:     current.Clone(),
		Status:       engine.AttemptStatusCancelled,
		ErrorMessage: "run cancelled",
		FixesApplied: fixes,
		StartedAt:    time.Now().UTC(),
	}
	o.finishAttempt(ctx, result, &attempt)
	result.State = engine.RunStateCancelled
	result.ErrorMessage = "run cancelled"
	o.finishRun(ctx, result, current)
}

func (o *Orchestrator) finishAttempt(ctx context.Context, result *Result, attempt *Attempt) {
	attempt.CompletedAt = time.Now().UTC()
	result.Attempts = append(result.Attempts, *attempt)

	if o.metrics != nil {
		o.metrics.RecordAttempt(string(attempt.Status))
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishAttemptCompleted(
			result.RunID, attempt.Number, string(attempt.Status), string(attempt.StackState))
	}

	o.logger.Info().
		Int("attempt", attempt.Number).
		Str("status", string(attempt.Status)).
		Str("stack_state", string(attempt.StackState)).
		Msg("Attempt complete")

	if o.audit != nil {
		if err := o.audit.SaveAttempt(ctx, result.RunID, attempt); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist attempt")
		}
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, result *Result, current *template.Template) {
	result.FinalTemplate = current
	result.CompletedAt = time.Now().UTC()

	if o.metrics != nil {
		o.metrics.RecordRun(result.Success)
	}

	o.logger.Info().
		Str("run", result.RunID).
		Bool("success", result.Success).
		Str("state", string(result.State)).
		Int("attempts", len(result.Attempts)).
		Int("fixes", len(result.FixesApplied)).
		Msg("Run complete")

	if o.audit != nil {
		if err := o.audit.SaveRun(ctx, result); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to persist run")
		}
	}

	var runErr error
	if !result.Success && result.ErrorMessage != "" {
		runErr = errors.New(result.ErrorMessage)
	}
	telemetry.EndRunContext(ctx, result.RunID, result.Success, len(result.Attempts), runErr)
}

func (o *Orchestrator) persistEvents(ctx context.Context, runID string, attemptNumber int, events []FailureEvent) {
	if o.audit == nil || len(events) == 0 {
		return
	}
	if err := o.audit.SaveFailureEvents(ctx, runID, attemptNumber, events); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to persist failure events")
	}
}

func (o *Orchestrator) recordIssues(ctx context.Context, runID string, analysis *analyzer.Result) {
	tel := telemetry.FromTelemetryContext(ctx)
	for _, issue := range analysis.Issues {
		if o.metrics != nil {
			o.metrics.RecordIssue(string(issue.Kind), string(issue.Severity))
		}
		if tel != nil {
			_ = tel.Events.PublishIssueDetected(
				runID, issue.ResourceID, string(issue.Kind), string(issue.Severity), issue.Description)
		}
	}
}

func (o *Orchestrator) recordFix(ctx context.Context, runID string, fix *fixer.Fix) {
	if o.metrics != nil {
		o.metrics.RecordFix(string(fix.Kind), string(fix.Confidence))
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		_ = tel.Events.PublishFixApplied(runID, fix.ResourceID, string(fix.Kind), fix.Description)
	}
}

func (o *Orchestrator) observePoll(d time.Duration) {
	if o.metrics != nil {
		o.metrics.ObservePollDuration(d)
	}
}

// recordError files a classified engine error under its class and code.
func (o *Orchestrator) recordError(err error) {
	if o.metrics == nil {
		return
	}
	var e *engine.EngineError
	if errors.As(err, &e) {
		o.metrics.RecordError(string(e.Class), e.Code)
	}
}
