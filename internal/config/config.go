package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"fieldline/internal/domain"
)

// Duration is a time.Duration that unmarshals from YAML strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// WebhookConfig configures one outbound notification endpoint.
type WebhookConfig struct {
	URL     string   `yaml:"url" json:"url"`
	Secret  string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events  []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Config models fieldline.yml.
type Config struct {
	Company struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name,omitempty" json:"name,omitempty"`
	} `yaml:"company" json:"company"`
	SLA struct {
		Windows       map[string]Duration `yaml:"windows" json:"windows"`
		PenaltyAmount float64             `yaml:"penalty_amount" json:"penalty_amount"`
		GracePeriod   Duration            `yaml:"grace_period" json:"grace_period"`
	} `yaml:"sla" json:"sla"`
	Assignment struct {
		TechnicianCapacity int `yaml:"technician_capacity" json:"technician_capacity"`
		DailyCap           int `yaml:"daily_cap" json:"daily_cap"`
		StaffDailyCap      int `yaml:"staff_daily_cap" json:"staff_daily_cap"`
	} `yaml:"assignment" json:"assignment"`
	Workload struct {
		CacheTTL Duration `yaml:"cache_ttl" json:"cache_ttl"`
		Timezone string   `yaml:"timezone" json:"timezone"`
	} `yaml:"workload" json:"workload"`
	Monitor struct {
		BreachInterval  Duration `yaml:"breach_interval" json:"breach_interval"`
		PenaltyInterval Duration `yaml:"penalty_interval" json:"penalty_interval"`
		ReportInterval  Duration `yaml:"report_interval" json:"report_interval"`
	} `yaml:"monitor" json:"monitor"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// Window returns the SLA window for a priority. Unknown priorities get
// the medium window.
func (c *Config) Window(priority string) time.Duration {
	if w, ok := c.SLA.Windows[priority]; ok {
		return w.Std()
	}
	return c.SLA.Windows[domain.PriorityMedium].Std()
}

// Location resolves the configured workload timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Workload.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.ID == "" {
		return fmt.Errorf("config.company.id is required")
	}
	if len(c.SLA.Windows) == 0 {
		return fmt.Errorf("config.sla.windows is required")
	}
	for _, p := range []string{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent} {
		w, ok := c.SLA.Windows[p]
		if !ok {
			return fmt.Errorf("config.sla.windows missing priority %s", p)
		}
		if w.Std() <= 0 {
			return fmt.Errorf("config.sla.windows.%s must be positive", p)
		}
	}
	for p := range c.SLA.Windows {
		if !domain.ValidPriority(p) {
			return fmt.Errorf("config.sla.windows has unknown priority %s", p)
		}
	}
	if c.SLA.PenaltyAmount <= 0 {
		return fmt.Errorf("config.sla.penalty_amount must be positive")
	}
	if c.SLA.GracePeriod.Std() < 0 {
		return fmt.Errorf("config.sla.grace_period must not be negative")
	}
	if c.Assignment.TechnicianCapacity <= 0 {
		return fmt.Errorf("config.assignment.technician_capacity must be positive")
	}
	if c.Assignment.DailyCap <= 0 {
		return fmt.Errorf("config.assignment.daily_cap must be positive")
	}
	if c.Assignment.StaffDailyCap < c.Assignment.DailyCap {
		return fmt.Errorf("config.assignment.staff_daily_cap must be >= daily_cap")
	}
	if c.Workload.CacheTTL.Std() <= 0 {
		return fmt.Errorf("config.workload.cache_ttl must be positive")
	}
	if c.Workload.Timezone != "" {
		if _, err := time.LoadLocation(c.Workload.Timezone); err != nil {
			return fmt.Errorf("config.workload.timezone: %w", err)
		}
	}
	for _, iv := range []struct {
		name string
		d    Duration
	}{
		{"breach_interval", c.Monitor.BreachInterval},
		{"penalty_interval", c.Monitor.PenaltyInterval},
		{"report_interval", c.Monitor.ReportInterval},
	} {
		if iv.d.Std() <= 0 {
			return fmt.Errorf("config.monitor.%s must be positive", iv.name)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldline.yml")
}

// Load reads and validates config from workspace, falling back to
// defaults when no file exists.
func Load(workspace, companyID string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(companyID), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if companyID != "" {
		cfg.Company.ID = companyID
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config for a company.
func Default(companyID string) *Config {
	if companyID == "" {
		companyID = "default"
	}
	var cfg Config
	cfg.Company.ID = companyID
	cfg.SLA.Windows = map[string]Duration{
		domain.PriorityUrgent: Duration(2 * time.Hour),
		domain.PriorityHigh:   Duration(8 * time.Hour),
		domain.PriorityMedium: Duration(24 * time.Hour),
		domain.PriorityLow:    Duration(72 * time.Hour),
	}
	cfg.SLA.PenaltyAmount = 500
	cfg.SLA.GracePeriod = Duration(5 * time.Minute)
	cfg.Assignment.TechnicianCapacity = 10
	cfg.Assignment.DailyCap = 15
	cfg.Assignment.StaffDailyCap = 25
	cfg.Workload.CacheTTL = Duration(5 * time.Minute)
	cfg.Workload.Timezone = "UTC"
	cfg.Monitor.BreachInterval = Duration(5 * time.Minute)
	cfg.Monitor.PenaltyInterval = Duration(10 * time.Minute)
	cfg.Monitor.ReportInterval = Duration(24 * time.Hour)
	return &cfg
}
