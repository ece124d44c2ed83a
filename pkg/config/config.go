// Package config loads the scheduler's knob table (spec.md §6) from a YAML
// file plus SCHED_-prefixed environment overrides, using the same
// viper/yaml combination the rest of the codebase relies on for structured
// data.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunable knobs spec.md §6 names.
type Config struct {
	MaxTasksPerJob           int           `mapstructure:"max_tasks_per_job" yaml:"max_tasks_per_job"`
	RequireContactEmail      bool          `mapstructure:"require_contact_email" yaml:"require_contact_email"`
	SlowQueryLogThreshold    time.Duration `mapstructure:"slow_query_log_threshold" yaml:"slow_query_log_threshold"`
	PreemptionCandidacyDelay time.Duration `mapstructure:"preemption_candidacy_delay" yaml:"preemption_candidacy_delay"`
	CronStartInitialBackoff  time.Duration `mapstructure:"cron_start_initial_backoff" yaml:"cron_start_initial_backoff"`
	CronStartMaxBackoff      time.Duration `mapstructure:"cron_start_max_backoff" yaml:"cron_start_max_backoff"`
	ExecutorCPUReservation   float64       `mapstructure:"executor_cpu_reservation" yaml:"executor_cpu_reservation"`
	ExecutorRAMReservationMB int64         `mapstructure:"executor_ram_reservation_mb" yaml:"executor_ram_reservation_mb"`
}

// EnvPrefix is the prefix SCHED_ environment overrides use, e.g.
// SCHED_REQUIRE_CONTACT_EMAIL=false.
const EnvPrefix = "SCHED"

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_tasks_per_job", 1000)
	v.SetDefault("require_contact_email", true)
	v.SetDefault("slow_query_log_threshold", 25*time.Millisecond)
	v.SetDefault("preemption_candidacy_delay", 10*time.Minute)
	v.SetDefault("cron_start_initial_backoff", time.Second)
	v.SetDefault("cron_start_max_backoff", time.Minute)
	v.SetDefault("executor_cpu_reservation", 0.25)
	v.SetDefault("executor_ram_reservation_mb", int64(128))
}

// Load reads configPath (if non-empty and present) merged over defaults,
// then applies SCHED_-prefixed environment overrides. A missing configPath
// is not an error: defaults plus env vars are a complete configuration on
// their own.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
