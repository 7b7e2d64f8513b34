// Package config is the Frame Orchestrator's global configuration surface
// (spec.md §6.4): a single immutable Config value built at startup and
// passed into every component's constructor, following the teacher's
// Config/Defaults() pattern (engine/config.go) rather than hot-reloadable
// machinery — hot reload is explicitly not required (spec.md §9).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables named in spec.md §6.4.
type Config struct {
	Bus          BusConfig          `yaml:"bus"`
	Router       RouterConfig       `yaml:"router"`
	Health       HealthConfig       `yaml:"health"`
	Circuit      CircuitConfig      `yaml:"circuit"`
	Backpressure BackpressureConfig `yaml:"backpressure"`
	Priority     PriorityConfig     `yaml:"priority"`
	HTTP         HTTPConfig         `yaml:"http"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Log          LogConfig          `yaml:"log"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
}

type BusConfig struct {
	URL           string `yaml:"url"`
	IngressStream string `yaml:"ingress_stream"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerID    string `yaml:"consumer_id"`
}

type RouterConfig struct {
	Strategy              string `yaml:"strategy"` // affinity | least_loaded | round_robin | priority
	HighPriorityThreshold int    `yaml:"high_priority_threshold"`
}

type HealthConfig struct {
	CheckIntervalS int `yaml:"check_interval_s"`
	ProbeTimeoutS  int `yaml:"probe_timeout_s"`
}

type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	RecoveryTimeoutS int `yaml:"recovery_timeout_s"`
}

type BackpressureConfig struct {
	CheckIntervalS int     `yaml:"check_interval_s"`
	Low            float64 `yaml:"thresholds_low"`
	High           float64 `yaml:"thresholds_high"`
	Critical       float64 `yaml:"thresholds_critical"`
}

type PriorityConfig struct {
	StarvationThreshold int `yaml:"starvation_threshold"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type TelemetryConfig struct {
	Endpoint       string `yaml:"endpoint"`
	ServiceName    string `yaml:"service_name"`
	MetricsBackend string `yaml:"metrics_backend"` // prom | otel | noop
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ShutdownConfig struct {
	GraceS int `yaml:"grace_s"`
}

// Defaults returns the spec.md-documented default values (§4.1-§4.8).
func Defaults() Config {
	return Config{
		Bus: BusConfig{
			URL:           "redis://localhost:6379/0",
			IngressStream: "frames:metadata",
			ConsumerGroup: "frame-buffer",
			ConsumerID:    defaultConsumerID(),
		},
		Router: RouterConfig{
			Strategy:              "least_loaded",
			HighPriorityThreshold: 5,
		},
		Health: HealthConfig{
			CheckIntervalS: 10,
			ProbeTimeoutS:  5,
		},
		Circuit: CircuitConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			RecoveryTimeoutS: 60,
		},
		Backpressure: BackpressureConfig{
			CheckIntervalS: 5,
			Low:            0.6,
			High:           0.8,
			Critical:       0.95,
		},
		Priority: PriorityConfig{
			StarvationThreshold: 100,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "frameorchestrator",
			MetricsBackend: "prom",
			TracingEnabled: false,
		},
		Log:      LogConfig{Level: "info"},
		Shutdown: ShutdownConfig{GraceS: 30},
	}
}

func defaultConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "frameorchestrator-0"
	}
	return host
}

// Duration helpers (spec.md expresses every interval as "_s" seconds).
func (c HealthConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalS) * time.Second
}
func (c HealthConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutS) * time.Second
}
func (c CircuitConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutS) * time.Second
}
func (c BackpressureConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalS) * time.Second
}
func (c ShutdownConfig) Grace() time.Duration { return time.Duration(c.GraceS) * time.Second }

// LoadEnv overlays environment variables on top of cfg, following spec.md
// §6.4's naming rule: a dotted option name ("bus.url") maps to its upper-
// cased, dot-to-underscore form ("BUS_URL"). Unset variables leave the
// existing value untouched.
func LoadEnv(cfg Config) Config {
	str := func(dotted string, dst *string) {
		if v, ok := os.LookupEnv(envName(dotted)); ok && v != "" {
			*dst = v
		}
	}
	intv := func(dotted string, dst *int) {
		if v, ok := os.LookupEnv(envName(dotted)); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatv := func(dotted string, dst *float64) {
		if v, ok := os.LookupEnv(envName(dotted)); ok && v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	boolv := func(dotted string, dst *bool) {
		if v, ok := os.LookupEnv(envName(dotted)); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("bus.url", &cfg.Bus.URL)
	str("bus.ingress_stream", &cfg.Bus.IngressStream)
	str("bus.consumer_group", &cfg.Bus.ConsumerGroup)
	str("bus.consumer_id", &cfg.Bus.ConsumerID)
	str("router.strategy", &cfg.Router.Strategy)
	intv("router.high_priority_threshold", &cfg.Router.HighPriorityThreshold)
	intv("health.check_interval_s", &cfg.Health.CheckIntervalS)
	intv("health.probe_timeout_s", &cfg.Health.ProbeTimeoutS)
	intv("circuit.failure_threshold", &cfg.Circuit.FailureThreshold)
	intv("circuit.success_threshold", &cfg.Circuit.SuccessThreshold)
	intv("circuit.recovery_timeout_s", &cfg.Circuit.RecoveryTimeoutS)
	intv("backpressure.check_interval_s", &cfg.Backpressure.CheckIntervalS)
	floatv("backpressure.thresholds.low", &cfg.Backpressure.Low)
	floatv("backpressure.thresholds.high", &cfg.Backpressure.High)
	floatv("backpressure.thresholds.critical", &cfg.Backpressure.Critical)
	intv("priority.starvation_threshold", &cfg.Priority.StarvationThreshold)
	str("http.listen_addr", &cfg.HTTP.ListenAddr)
	str("telemetry.endpoint", &cfg.Telemetry.Endpoint)
	str("telemetry.service_name", &cfg.Telemetry.ServiceName)
	str("telemetry.metrics_backend", &cfg.Telemetry.MetricsBackend)
	boolv("telemetry.tracing_enabled", &cfg.Telemetry.TracingEnabled)
	str("log.level", &cfg.Log.Level)
	intv("shutdown.grace_s", &cfg.Shutdown.GraceS)

	return cfg
}

func envName(dotted string) string {
	return strings.ToUpper(strings.ReplaceAll(dotted, ".", "_"))
}

// LoadYAMLOverlay merges an optional YAML file's fields on top of cfg. A
// missing path is not an error — the YAML overlay is optional per spec.md
// §6.4; only a present-but-unparseable file is surfaced.
func LoadYAMLOverlay(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config overlay %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields spec.md treats as configuration errors
// (process exit code 1, spec.md §6.3).
func (c Config) Validate() error {
	switch c.Router.Strategy {
	case "affinity", "least_loaded", "round_robin", "priority":
	default:
		return fmt.Errorf("router.strategy: unknown strategy %q", c.Router.Strategy)
	}
	if c.Bus.IngressStream == "" {
		return fmt.Errorf("bus.ingress_stream: must not be empty")
	}
	if c.Bus.ConsumerGroup == "" {
		return fmt.Errorf("bus.consumer_group: must not be empty")
	}
	if c.Backpressure.Low <= 0 || c.Backpressure.High <= c.Backpressure.Low || c.Backpressure.Critical <= c.Backpressure.High {
		return fmt.Errorf("backpressure.thresholds: must satisfy 0 < low < high < critical")
	}
	return nil
}
