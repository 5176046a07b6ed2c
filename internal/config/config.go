// Package config loads service configuration from an optional TOML file
// overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"packagemanager/internal/apperrors"
)

// Duration is a time.Duration that decodes from TOML strings such as "300ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig holds the HTTP surface and process settings.
type ServerConfig struct {
	Port              string   `toml:"port" validate:"required"`
	MetricsPort       string   `toml:"metrics_port" validate:"required"`
	APIKeyFile        string   `toml:"api_key_file"`
	APIKey            string   `toml:"-"`
	ShutdownDrainWait Duration `toml:"shutdown_drain_wait"` // 0 to skip
	LockFile          string   `toml:"lock_file"`
}

// ManagerConfig holds reconciliation settings.
type ManagerConfig struct {
	ID                       string   `toml:"id" validate:"required"`
	EvaluateInterval         Duration `toml:"evaluate_interval"`
	FulfilledRecheckInterval Duration `toml:"fulfilled_recheck_interval"`
	ContainerCronInterval    Duration `toml:"container_cron_interval"`
	Concurrency              int      `toml:"concurrency" validate:"gt=0"`
	// Bounds every single worker call made by the loop.
	CallTimeout             Duration `toml:"call_timeout"`
	DelayRemoval            Duration `toml:"delay_removal"`
	DelayRemovalPackageInfo Duration `toml:"delay_removal_package_info"`
	UseTemporaryFilePath    bool     `toml:"use_temporary_file_path"`
}

// StatusConfig selects the upstream status sink.
type StatusConfig struct {
	Sink           string   `toml:"sink" validate:"oneof=none http kafka"`
	URL            string   `toml:"url" validate:"required_if=Sink http"`
	SigningKeyFile string   `toml:"signing_key_file"`
	SigningKey     string   `toml:"-"`
	KafkaBrokers   []string `toml:"kafka_brokers" validate:"required_if=Sink kafka"`
	KafkaTopic     string   `toml:"kafka_topic" validate:"required_if=Sink kafka"`
	KafkaClientID  string   `toml:"kafka_client_id"`
}

// WorkforceConfig holds the capacity matcher and Docker host settings.
type WorkforceConfig struct {
	Pool        map[string]int    `toml:"pool"`
	Docker      bool              `toml:"docker"`
	Images      map[string]string `toml:"images"`
	Network     string            `toml:"network"`
	SpinUpRate  float64           `toml:"spin_up_rate" validate:"gte=0"`
	SpinUpBurst int               `toml:"spin_up_burst" validate:"gte=0"`
	// Consecutive spin-up failures before a host is skipped for HostCooldown.
	HostFailures int      `toml:"host_failures" validate:"gte=0"`
	HostCooldown Duration `toml:"host_cooldown"`
}

// DesiredStateConfig points at an optional file-based desired-state source.
type DesiredStateConfig struct {
	File  string `toml:"file"`
	Watch bool   `toml:"watch"`
}

// ServiceConfig holds configuration for the package manager service.
type ServiceConfig struct {
	Server       ServerConfig       `toml:"server"`
	Manager      ManagerConfig      `toml:"manager"`
	Status       StatusConfig       `toml:"status"`
	Workforce    WorkforceConfig    `toml:"workforce"`
	DesiredState DesiredStateConfig `toml:"desired_state"`
}

// Default returns the built-in configuration.
func Default() *ServiceConfig {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "local"
	}
	return &ServiceConfig{
		Server: ServerConfig{
			Port:              "8080",
			MetricsPort:       "9090",
			ShutdownDrainWait: Duration{5 * time.Second},
			LockFile:          os.TempDir() + "/package-manager.lock",
		},
		Manager: ManagerConfig{
			ID:                       "package-manager-" + hostname,
			EvaluateInterval:         Duration{time.Second},
			FulfilledRecheckInterval: Duration{10 * time.Second},
			ContainerCronInterval:    Duration{time.Hour},
			Concurrency:              10,
			CallTimeout:              Duration{30 * time.Second},
		},
		Status: StatusConfig{
			Sink:          "none",
			KafkaTopic:    "package-manager-status",
			KafkaClientID: "package-manager",
		},
		Workforce: WorkforceConfig{
			Pool:        map[string]int{"worker": 3},
			Images:      map[string]string{},
			SpinUpRate:  1,
			SpinUpBurst: 3,
		},
	}
}

// Load builds the configuration: defaults, then the TOML file at path (if
// non-empty), then environment overrides. The result is validated.
func Load(path string) (*ServiceConfig, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Server.APIKey = GetSecretFile(cfg.Server.APIKeyFile)
	cfg.Status.SigningKey = GetSecretFile(cfg.Status.SigningKeyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServiceConfig loads configuration using CONFIG_FILE when set.
func LoadServiceConfig() (*ServiceConfig, error) {
	return Load(GetEnv("CONFIG_FILE", ""))
}

func applyEnv(cfg *ServiceConfig) {
	cfg.Server.Port = GetEnv("PORT", cfg.Server.Port)
	cfg.Server.MetricsPort = GetEnv("METRICS_PORT", cfg.Server.MetricsPort)
	cfg.Server.APIKeyFile = GetEnv("API_KEY_FILE", cfg.Server.APIKeyFile)
	cfg.Server.ShutdownDrainWait.Duration = GetDurationEnv("SHUTDOWN_DRAIN_WAIT", cfg.Server.ShutdownDrainWait.Duration)
	cfg.Server.LockFile = GetEnv("LOCK_FILE", cfg.Server.LockFile)

	cfg.Manager.ID = GetEnv("MANAGER_ID", cfg.Manager.ID)
	cfg.Manager.EvaluateInterval.Duration = GetDurationEnv("EVALUATE_INTERVAL", cfg.Manager.EvaluateInterval.Duration)
	cfg.Manager.FulfilledRecheckInterval.Duration = GetDurationEnv("FULFILLED_RECHECK_INTERVAL", cfg.Manager.FulfilledRecheckInterval.Duration)
	cfg.Manager.ContainerCronInterval.Duration = GetDurationEnv("CONTAINER_CRON_INTERVAL", cfg.Manager.ContainerCronInterval.Duration)
	cfg.Manager.Concurrency = GetIntEnv("EVALUATE_CONCURRENCY", cfg.Manager.Concurrency)
	cfg.Manager.CallTimeout.Duration = GetDurationEnv("WORKER_CALL_TIMEOUT", cfg.Manager.CallTimeout.Duration)
	cfg.Manager.DelayRemoval.Duration = GetDurationEnv("DELAY_REMOVAL", cfg.Manager.DelayRemoval.Duration)
	cfg.Manager.DelayRemovalPackageInfo.Duration = GetDurationEnv("DELAY_REMOVAL_PACKAGE_INFO", cfg.Manager.DelayRemovalPackageInfo.Duration)
	cfg.Manager.UseTemporaryFilePath = GetBoolEnv("USE_TEMPORARY_FILE_PATH", cfg.Manager.UseTemporaryFilePath)

	cfg.Status.Sink = GetEnv("STATUS_SINK", cfg.Status.Sink)
	cfg.Status.URL = GetEnv("STATUS_URL", cfg.Status.URL)
	cfg.Status.SigningKeyFile = GetEnv("STATUS_SIGNING_KEY_FILE", cfg.Status.SigningKeyFile)
	cfg.Status.KafkaBrokers = GetListEnv("KAFKA_BROKERS", cfg.Status.KafkaBrokers)
	cfg.Status.KafkaTopic = GetEnv("KAFKA_TOPIC", cfg.Status.KafkaTopic)
	cfg.Status.KafkaClientID = GetEnv("KAFKA_CLIENT_ID", cfg.Status.KafkaClientID)

	if pool := GetMapEnv("WORKFORCE_POOL", nil); pool != nil {
		cfg.Workforce.Pool = make(map[string]int, len(pool))
		for appType, size := range pool {
			if n, err := strconv.Atoi(size); err == nil {
				cfg.Workforce.Pool[appType] = n
			}
		}
	}
	cfg.Workforce.Docker = GetBoolEnv("WORKFORCE_DOCKER", cfg.Workforce.Docker)
	cfg.Workforce.Images = GetMapEnv("WORKFORCE_IMAGES", cfg.Workforce.Images)
	cfg.Workforce.Network = GetEnv("WORKFORCE_NETWORK", cfg.Workforce.Network)
	cfg.Workforce.SpinUpRate = GetFloatEnv("WORKFORCE_SPIN_UP_RATE", cfg.Workforce.SpinUpRate)
	cfg.Workforce.SpinUpBurst = GetIntEnv("WORKFORCE_SPIN_UP_BURST", cfg.Workforce.SpinUpBurst)
	cfg.Workforce.HostFailures = GetIntEnv("WORKFORCE_HOST_FAILURES", cfg.Workforce.HostFailures)
	cfg.Workforce.HostCooldown.Duration = GetDurationEnv("WORKFORCE_HOST_COOLDOWN", cfg.Workforce.HostCooldown.Duration)

	cfg.DesiredState.File = GetEnv("DESIRED_STATE_FILE", cfg.DesiredState.File)
	cfg.DesiredState.Watch = GetBoolEnv("DESIRED_STATE_WATCH", cfg.DesiredState.Watch)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for consistency.
func (c *ServiceConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.Validation("config", err.Error())
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperrors.Validation(verrs[0].Namespace(), "invalid config: "+strings.Join(msgs, "; "))
}
