package telemetry

// Exporter names accepted in Config.Exporter.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// Config holds OpenTelemetry configuration.
type Config struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool

	// ServiceName is the name of the service reported to the trace backend.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Exporter selects where spans go: "otlp" (gRPC to Endpoint) or
	// "stdout" (pretty-printed JSON, for local debugging).
	Exporter string

	// Endpoint is the OTLP endpoint (e.g., "localhost:4317").
	Endpoint string

	// Insecure disables TLS on the OTLP connection.
	Insecure bool

	// SampleRate is the trace sampling rate (0.0 to 1.0).
	SampleRate float64
}

// DefaultConfig returns tracing disabled with OTLP defaults filled in.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "guestfsd",
		ServiceVersion: "dev",
		Exporter:       ExporterOTLP,
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
