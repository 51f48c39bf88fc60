package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
	"github.com/marmos91/guestfsrpc/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// minMessageSize fits one full file chunk and its framing.
const minMessageSize = guestfs.MaxChunkSize + 64

// Validate checks cfg against its struct tags and the rules tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if size := cfg.Server.MaxMessageSize; size > bytesize.ByteSize(guestfs.MessageMax) {
		return fmt.Errorf("server.max_message_size: %s exceeds the protocol maximum of %d bytes",
			size, guestfs.MessageMax)
	} else if size < minMessageSize {
		return fmt.Errorf("server.max_message_size: %s cannot carry a full file chunk (need at least %d bytes)",
			size, minMessageSize)
	}

	for name := range cfg.Devices {
		if !strings.HasPrefix(name, "/dev/") {
			return fmt.Errorf("devices: %q is not a device name (must start with /dev/)", name)
		}
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Exporter == telemetry.ExporterOTLP && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry.endpoint: required when telemetry is enabled with the otlp exporter")
	}
	if cfg.Telemetry.Profiling.Enabled {
		if cfg.Telemetry.Profiling.Endpoint == "" {
			return errors.New("telemetry.profiling.endpoint: required when profiling is enabled")
		}
		if _, err := telemetry.ParseProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling.profile_types: %w", err)
		}
	}
	return nil
}

// formatValidationErrors turns validator errors into one line per field,
// naming the field path and the failed tag.
func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
