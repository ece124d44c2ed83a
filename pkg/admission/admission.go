// Package admission validates TaskConfig/JobConfiguration at the boundary
// before they ever reach storage: struct-tag shape checks plus the
// cross-field rules spec.md §4.9 lists (service/cron exclusivity, cron
// expression parseability, dedicated-constraint shape and role ownership,
// contact email policy, shardCount vs maxTasksPerJob), and injects the
// default constraints every job gets.
package admission

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/aurora-core/pkg/filter"
	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/go-playground/validator/v10"
)

// jobIdentifierPattern is the shape required of job roles, environments,
// and names (spec.md §6).
var jobIdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9._-]{0,254}$`)

// Config is the subset of the knob table admission consults.
type Config struct {
	RequireContactEmail bool
	MaxTasksPerJob      int
}

// Validator validates TaskConfigs and JobConfigurations.
type Validator struct {
	v         *validator.Validate
	cronSched ports.CronScheduler
	cfg       Config
}

// New constructs a Validator. cronSched is consulted to reject
// unparseable cron expressions.
func New(cronSched ports.CronScheduler, cfg Config) *Validator {
	v := validator.New()
	_ = v.RegisterValidation("jobidentifier", validateJobIdentifier)
	return &Validator{v: v, cronSched: cronSched, cfg: cfg}
}

func validateJobIdentifier(fl validator.FieldLevel) bool {
	return jobIdentifierPattern.MatchString(fl.Field().String())
}

// ValidateTaskConfig runs struct-tag validation plus the contact-email
// policy. It does not inject default constraints; call
// ValidateJobConfiguration for that.
func (v *Validator) ValidateTaskConfig(cfg *types.TaskConfig) error {
	if err := v.v.Struct(cfg); err != nil {
		return err
	}
	if v.cfg.RequireContactEmail {
		if cfg.ContactEmail == "" {
			return fmt.Errorf("admission: contactEmail is required")
		}
		if err := v.v.Var(cfg.ContactEmail, "email"); err != nil {
			return fmt.Errorf("admission: contactEmail %q is not a valid email address", cfg.ContactEmail)
		}
	}
	return nil
}

// ValidateJobConfiguration validates job and, on success, appends the
// default constraints (spec.md §4.4) that weren't already named explicitly.
func (v *Validator) ValidateJobConfiguration(job *types.JobConfiguration) error {
	if err := v.v.Struct(job); err != nil {
		return err
	}
	if err := v.ValidateTaskConfig(&job.TaskConfig); err != nil {
		return err
	}

	if job.TaskConfig.IsService && job.CronSchedule != "" {
		return fmt.Errorf("admission: isService and cronSchedule are mutually exclusive")
	}
	if job.CronSchedule != "" && !v.cronSched.IsValidSchedule(job.CronSchedule) {
		return fmt.Errorf("admission: invalid cron schedule %q", job.CronSchedule)
	}
	if v.cfg.MaxTasksPerJob > 0 && job.ShardCount > v.cfg.MaxTasksPerJob {
		return fmt.Errorf("admission: shardCount %d exceeds maxTasksPerJob %d", job.ShardCount, v.cfg.MaxTasksPerJob)
	}

	for _, c := range job.TaskConfig.Constraints {
		if c.Name == types.DedicatedAttribute {
			if err := validateDedicatedShape(c, job.Key.Role); err != nil {
				return err
			}
		}
	}

	job.TaskConfig.Constraints = append(job.TaskConfig.Constraints, filter.DefaultConstraints(job.TaskConfig)...)
	return nil
}

func validateDedicatedShape(c types.Constraint, ownerRole string) error {
	if c.Variant != types.ConstraintValue || len(c.Values) != 1 {
		return fmt.Errorf("admission: dedicated constraint must be a VALUE constraint naming exactly one role/name pair")
	}
	val := c.Values[0]
	if !dedicatedValuePattern.MatchString(val) {
		return fmt.Errorf("admission: dedicated value %q must be role/name", val)
	}
	if role := strings.SplitN(val, "/", 2)[0]; role != ownerRole {
		return fmt.Errorf("admission: dedicated value %q must be owned by role %q", val, ownerRole)
	}
	return nil
}

var dedicatedValuePattern = regexp.MustCompile(`^[^/]+/[^/]+$`)
