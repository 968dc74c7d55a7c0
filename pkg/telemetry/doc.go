// Package telemetry provides the observability stack for StackMend:
// structured logging on zerolog, Prometheus metrics for runs, attempts,
// fixes and issues, OpenTelemetry tracing for the remediation pipeline,
// and an in-process event publisher for pipeline events.
//
// Components can be used individually or bundled through Telemetry,
// which travels via the context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	ctx = tel.WithContext(ctx)
package telemetry
