// Package telemetry provides logging, tracing and metrics for netconverge.
//
// Structured logging uses zerolog, traces use OpenTelemetry (stdout or OTLP
// exporters) and metrics use a private Prometheus registry. Because most
// invocations are one-shot, metrics can be written to a node_exporter
// textfile on Shutdown instead of being served over HTTP.
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.Component("reconcile")
//	logger.ForResource("interface", "Ethernet1").Info("Reconciling")
package telemetry
