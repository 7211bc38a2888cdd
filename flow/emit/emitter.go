package emit

// Emitter receives and processes observability events from workflow execution.
//
// Emitters enable pluggable observability backends:
//   - Logging: stdout, files, syslog
//   - Distributed tracing: OpenTelemetry, Jaeger, Zipkin
//   - In-memory capture for tests and dashboards
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down workflow execution
//   - Thread-safe: May be called concurrently from multiple instances
//   - Resilient: Handle failures gracefully (don't crash the workflow)
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block workflow execution. If the backend
	// is unavailable or slow, events should be buffered, dropped with
	// internal error logging, or sent asynchronously.
	//
	// Emit should not panic.
	Emit(event Event)
}
