package afconfig

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestUnmarshalEnvDefaults(t *testing.T) {
	var c Config
	if err := c.UnmarshalEnv(nil); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.HostAddr != "127.0.0.1:28258" {
		t.Errorf("HostAddr = %q, want %q", c.HostAddr, "127.0.0.1:28258")
	}
	if c.ScanInterval != 5*time.Second {
		t.Errorf("ScanInterval = %v, want 5s", c.ScanInterval)
	}
	if c.LogLevel != zerolog.DebugLevel {
		t.Errorf("LogLevel = %v, want debug", c.LogLevel)
	}
	if !c.LogStdoutPretty {
		t.Error("LogStdoutPretty should default true")
	}
}

func TestUnmarshalEnvOverrides(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{
		"AUTOFORWARD_HOST_ADDR=:9000",
		"AUTOFORWARD_SCAN_INTERVAL=1s",
		"AUTOFORWARD_LOG_LEVEL=warn",
		"AUTOFORWARD_LOG_STDOUT_PRETTY=false",
	})
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.HostAddr != ":9000" {
		t.Errorf("HostAddr = %q, want :9000", c.HostAddr)
	}
	if c.ScanInterval != time.Second {
		t.Errorf("ScanInterval = %v, want 1s", c.ScanInterval)
	}
	if c.LogLevel != zerolog.WarnLevel {
		t.Errorf("LogLevel = %v, want warn", c.LogLevel)
	}
	if c.LogStdoutPretty {
		t.Error("LogStdoutPretty should be false")
	}
}

func TestUnmarshalEnvUnknownVariable(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{"AUTOFORWARD_NOT_A_REAL_KEY=1"})
	if err == nil {
		t.Fatal("expected an error for an unknown AUTOFORWARD_ variable")
	}
}

func TestUnmarshalEnvBadDuration(t *testing.T) {
	var c Config
	err := c.UnmarshalEnv([]string{"AUTOFORWARD_SCAN_INTERVAL=notaduration"})
	if err == nil {
		t.Fatal("expected an error for an invalid duration")
	}
}
