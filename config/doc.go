// Package config provides configuration loading for natspad.
//
// Loader builds a Config from compiled-in defaults, then merges each file
// layer in order (JSON or YAML, chosen by extension), then applies
// environment overrides with the NATSPAD_ prefix, and finally validates the
// result when validation is enabled.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("natspad.yaml")
//	loader.AddLayer("natspad.local.json") // Overrides natspad.yaml
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Only the keys present in a layer override earlier values, so a layer can be
// as small as:
//
//	session:
//	  request_timeout: 5s
//
// # Durations
//
// Duration fields accept Go duration strings ("250ms", "15s") or integer
// nanoseconds.
//
// # Environment Overrides
//
//	NATSPAD_NATS_NAME, NATSPAD_NATS_USERNAME, NATSPAD_NATS_PASSWORD,
//	NATSPAD_NATS_TOKEN, NATSPAD_SESSION_SERVER,
//	NATSPAD_SESSION_REQUEST_TIMEOUT, NATSPAD_OUTPUT_DIRECTORY,
//	NATSPAD_LOG_LEVEL, NATSPAD_LOG_FORMAT, NATSPAD_METRICS_ENABLED,
//	NATSPAD_METRICS_PORT
//
// # Security
//
// Files are size-limited, must be regular files, and JSON input is checked for
// excessive nesting before it is decoded.
package config
