package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldline/internal/domain"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default("co-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "co-1", cfg.Company.ID)
	assert.Equal(t, 10, cfg.Assignment.TechnicianCapacity)
	assert.Equal(t, 500.0, cfg.SLA.PenaltyAmount)
}

func TestWindowOrdering(t *testing.T) {
	cfg := Default("co-1")
	urgent := cfg.Window(domain.PriorityUrgent)
	high := cfg.Window(domain.PriorityHigh)
	medium := cfg.Window(domain.PriorityMedium)
	low := cfg.Window(domain.PriorityLow)

	assert.Less(t, urgent, high)
	assert.Less(t, high, medium)
	assert.Less(t, medium, low)

	assert.Equal(t, 2*time.Hour, urgent)
	assert.Equal(t, 8*time.Hour, high)
	assert.Equal(t, 24*time.Hour, medium)
	assert.Equal(t, 72*time.Hour, low)
}

func TestWindowUnknownPriorityFallsBackToMedium(t *testing.T) {
	cfg := Default("co-1")
	assert.Equal(t, cfg.Window(domain.PriorityMedium), cfg.Window("mystery"))
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
company:
  id: co-acme
  name: Acme Services
sla:
  windows:
    urgent: 1h
    high: 4h
    medium: 12h
    low: 48h
  penalty_amount: 750
  grace_period: 10m
assignment:
  technician_capacity: 8
  daily_cap: 12
  staff_daily_cap: 20
workload:
  cache_ttl: 3m
  timezone: Asia/Karachi
monitor:
  breach_interval: 2m
  penalty_interval: 5m
  report_interval: 12h
webhooks:
  - url: https://hooks.example.com/dispatch
    events: ["complaint.*"]
`)
	cfg, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, "co-acme", cfg.Company.ID)
	assert.Equal(t, time.Hour, cfg.Window(domain.PriorityUrgent))
	assert.Equal(t, 750.0, cfg.SLA.PenaltyAmount)
	assert.Equal(t, 8, cfg.Assignment.TechnicianCapacity)
	assert.Equal(t, 3*time.Minute, cfg.Workload.CacheTTL.Std())
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, "https://hooks.example.com/dispatch", cfg.Webhooks[0].URL)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing company", func(c *Config) { c.Company.ID = "" }},
		{"missing window", func(c *Config) { delete(c.SLA.Windows, domain.PriorityUrgent) }},
		{"zero window", func(c *Config) { c.SLA.Windows[domain.PriorityLow] = 0 }},
		{"unknown priority", func(c *Config) { c.SLA.Windows["critical"] = Duration(time.Hour) }},
		{"zero penalty", func(c *Config) { c.SLA.PenaltyAmount = 0 }},
		{"zero capacity", func(c *Config) { c.Assignment.TechnicianCapacity = 0 }},
		{"staff cap below daily cap", func(c *Config) { c.Assignment.StaffDailyCap = 1 }},
		{"zero cache ttl", func(c *Config) { c.Workload.CacheTTL = 0 }},
		{"bad timezone", func(c *Config) { c.Workload.Timezone = "Mars/Olympus" }},
		{"zero sweep interval", func(c *Config) { c.Monitor.BreachInterval = 0 }},
		{"webhook without url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("co-1")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "co-xyz")
	require.NoError(t, err)
	assert.Equal(t, "co-xyz", cfg.Company.ID)
	assert.Equal(t, 24*time.Hour, cfg.Window(domain.PriorityMedium))
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte(`
company:
  id: co-file
sla:
  windows: {urgent: 2h, high: 8h, medium: 24h, low: 72h}
  penalty_amount: 500
  grace_period: 5m
assignment: {technician_capacity: 10, daily_cap: 15, staff_daily_cap: 25}
workload: {cache_ttl: 5m, timezone: UTC}
monitor: {breach_interval: 5m, penalty_interval: 10m, report_interval: 24h}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fieldline.yml"), data, 0o644))

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "co-file", cfg.Company.ID)

	// A company override wins over the file value.
	cfg, err = Load(dir, "co-override")
	require.NoError(t, err)
	assert.Equal(t, "co-override", cfg.Company.ID)
}

func TestDurationRoundTrip(t *testing.T) {
	d := Duration(90 * time.Minute)
	out, err := d.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "1h30m0s", out)
}
