// Package afconfig holds the environment-variable-driven configuration
// shared by the host and container autoForward agents.
package afconfig

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config contains the configuration for an autoForward agent. The env struct
// tag contains the environment variable name and the default value if
// missing, or empty (if not ?=).
type Config struct {
	// HostAddr is the address the host agent listens on for the transport
	// connection from the container agent.
	HostAddr string `env:"AUTOFORWARD_HOST_ADDR=127.0.0.1:28258"`

	// ContainerConnect is the address the container agent dials to reach the
	// host agent.
	ContainerConnect string `env:"AUTOFORWARD_CONTAINER_CONNECT=host.docker.internal:28258"`

	// ScanInterval is the period between port-enumeration ticks.
	ScanInterval time.Duration `env:"AUTOFORWARD_SCAN_INTERVAL=5s"`

	// ScanJitter is the maximum random jitter added to each scan tick.
	ScanJitter time.Duration `env:"AUTOFORWARD_SCAN_JITTER=250ms"`

	// ForwardTimeout bounds the container-side forwarder's connect/read/write
	// to the local service.
	ForwardTimeout time.Duration `env:"AUTOFORWARD_FORWARD_TIMEOUT=10s"`

	// DebugAddr, if set, serves Prometheus metrics on a loopback HTTP
	// listener.
	DebugAddr string `env:"AUTOFORWARD_DEBUG_ADDR"`

	// LogLevel is the minimum log level (e.g., trace, debug, info, warn,
	// error, fatal).
	LogLevel zerolog.Level `env:"AUTOFORWARD_LOG_LEVEL=debug"`

	// LogStdoutPretty controls whether stdout logs use zerolog's
	// human-readable console writer instead of JSON.
	LogStdoutPretty bool `env:"AUTOFORWARD_LOG_STDOUT_PRETTY=true"`

	// LogFile is an additional JSON log destination, if provided.
	LogFile string `env:"AUTOFORWARD_LOG_FILE"`
}

// UnmarshalEnv populates c from es, a list of "KEY=VALUE" strings (as
// returned by os.Environ or parsed from an env file). Fields without a
// corresponding variable in es are set to their tag default.
func (c *Config) UnmarshalEnv(es []string) error {
	em := map[string]string{}
	for _, e := range es {
		if strings.HasPrefix(e, "AUTOFORWARD_") {
			if k, v, ok := strings.Cut(e, "="); ok {
				em[k] = v
			}
		}
	}

	cv := reflect.ValueOf(c).Elem()
	for _, ctf := range reflect.VisibleFields(cv.Type()) {
		env, ok := ctf.Tag.Lookup("env")
		if !ok {
			continue
		}

		var unsettable bool
		key, val, _ := strings.Cut(env, "=")
		if strings.HasSuffix(key, "?") {
			key = strings.TrimSuffix(key, "?")
			unsettable = true
		}
		if v, exists := em[key]; exists {
			if unsettable || v != "" {
				val = v
			}
			delete(em, key)
		}

		switch cvf := cv.FieldByName(ctf.Name); cvf.Interface().(type) {
		case string:
			cvf.SetString(val)
		case bool:
			if val == "" {
				cvf.SetBool(false)
			} else if v, err := strconv.ParseBool(val); err == nil {
				cvf.SetBool(v)
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case zerolog.Level:
			if v, err := zerolog.ParseLevel(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		case time.Duration:
			if v, err := time.ParseDuration(val); err == nil {
				cvf.Set(reflect.ValueOf(v))
			} else {
				return fmt.Errorf("env %s (%T): parse %q: %w", key, cvf.Interface(), val, err)
			}
		default:
			return fmt.Errorf("unhandled type %T (%s)", cvf.Interface(), env)
		}
	}
	for key, val := range em {
		if val != "" {
			return fmt.Errorf("unknown environment variable %q", key)
		}
	}
	return nil
}
