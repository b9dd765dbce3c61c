// Package config loads and validates the orchestrator's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the top-level orchestrator configuration.
type Config struct {
	General      General             `toml:"general"`
	Providers    map[string]Provider `toml:"providers"`
	Tiers        Tiers               `toml:"tiers"`
	Periodic     Periodic            `toml:"periodic"`
	Verification Verification        `toml:"verification"`
	Health       Health              `toml:"health"`
	API          API                 `toml:"api"`
}

// General holds process-wide settings: paths, concurrency caps, logging.
type General struct {
	ProjectsPath       string      `toml:"projects_path"`
	StateDB            string      `toml:"state_db"`
	LogLevel           string      `toml:"log_level"`
	Dev                bool        `toml:"dev"`
	AgentLoopMaxIter   int         `toml:"agent_loop_max_iterations"`
	KoboldLoopMaxIter  int         `toml:"kobold_loop_max_iterations"`
	ProviderTimeout    Duration    `toml:"provider_timeout"`
	OllamaTimeout      Duration    `toml:"ollama_provider_timeout"`
	AskUserTimeout     Duration    `toml:"ask_user_timeout"`
	StuckKoboldTimeout Duration    `toml:"stuck_kobold_timeout"`
	DebounceInterval   Duration    `toml:"debounce_interval"`
	PlanningContextMax int         `toml:"planning_context_lru_size"`
	InsightHistoryCap  int         `toml:"insight_history_cap"`
	RetryPolicy        RetryPolicy `toml:"retry_policy"`
}

// RetryPolicy configures the provider gateway's retry/backoff behavior.
type RetryPolicy struct {
	MaxRetries    int      `toml:"max_retries"`
	InitialDelay  Duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxDelay      Duration `toml:"max_delay"`
}

// Provider is one configured LLM backend.
type Provider struct {
	Kind     string `toml:"kind"` // "anthropic", "openai", "google", "openai-compatible"
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	IsOllama bool   `toml:"is_ollama"`
}

// Tiers maps a purpose tier to an ordered list of provider names to try.
type Tiers struct {
	Fast     []string `toml:"fast"`
	Balanced []string `toml:"balanced"`
	Premium  []string `toml:"premium"`
}

// Periodic configures the five periodic worker services.
type Periodic struct {
	WyrmInterval               Duration `toml:"wyrm_interval"`
	WyvernInterval             Duration `toml:"wyvern_interval"`
	DrakeExecutionInterval     Duration `toml:"drake_execution_interval"`
	DrakeMonitoringInterval    Duration `toml:"drake_monitoring_interval"`
	VerificationInterval       Duration `toml:"verification_interval"`
	WyrmConcurrency            int      `toml:"wyrm_concurrency"`
	WyvernConcurrency          int      `toml:"wyvern_concurrency"`
	DrakeExecutionConcurrency  int      `toml:"drake_execution_concurrency"`
	DrakeWorkersPerProject     int      `toml:"drake_workers_per_project"`
	DrakeMonitoringConcurrency int      `toml:"drake_monitoring_concurrency"`
	VerificationConcurrency    int      `toml:"verification_concurrency"`
	StaggerSeconds             []int    `toml:"stagger_seconds"`
}

// Verification holds global defaults for the per-project override (§6.6).
type Verification struct {
	Enabled                 bool   `toml:"enabled"`
	TimeoutSeconds          int    `toml:"timeout_seconds"`
	AutoCreateFixTasks      bool   `toml:"auto_create_fix_tasks"`
	RequireAllChecksPassing bool   `toml:"require_all_checks_passing"`
	SkipForImportedProjects bool   `toml:"skip_for_imported_projects"`
	UseContainer            bool   `toml:"use_container"`
	ContainerImage          string `toml:"container_image"`
}

// Health configures the process health-check loop.
type Health struct {
	CheckInterval Duration `toml:"check_interval"`
}

// API configures the HTTP surface.
type API struct {
	Bind     string   `toml:"bind"`
	Security Security `toml:"security"`
}

// Security configures bearer-token auth for write endpoints.
type Security struct {
	Enabled          bool     `toml:"enabled"`
	AllowedTokens    []string `toml:"allowed_tokens"`
	RequireLocalOnly bool     `toml:"require_local_only"`
	AuditLog         string   `toml:"audit_log"`
}

// Clone returns a deep copy of cfg so callers can safely mutate the result.
func (cfg *Config) Clone() *Config {
	if cfg == nil {
		return nil
	}

	cloned := *cfg
	cloned.Providers = cloneProviderMap(cfg.Providers)
	cloned.Tiers = Tiers{
		Fast:     cloneStringSlice(cfg.Tiers.Fast),
		Balanced: cloneStringSlice(cfg.Tiers.Balanced),
		Premium:  cloneStringSlice(cfg.Tiers.Premium),
	}
	cloned.Periodic.StaggerSeconds = cloneIntSlice(cfg.Periodic.StaggerSeconds)
	cloned.API.Security.AllowedTokens = cloneStringSlice(cfg.API.Security.AllowedTokens)
	return &cloned
}

func cloneProviderMap(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStringSlice(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneIntSlice(in []int) []int {
	if in == nil {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	return out
}

// Load reads and validates an orchestrator TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg, md)
	normalizePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config, md toml.MetaData) {
	if cfg.General.AgentLoopMaxIter == 0 {
		cfg.General.AgentLoopMaxIter = 10
	}
	if cfg.General.KoboldLoopMaxIter == 0 {
		cfg.General.KoboldLoopMaxIter = 30
	}
	if cfg.General.ProviderTimeout.Duration == 0 {
		cfg.General.ProviderTimeout = Duration{120 * time.Second}
	}
	if cfg.General.OllamaTimeout.Duration == 0 {
		cfg.General.OllamaTimeout = Duration{5 * time.Minute}
	}
	if cfg.General.AskUserTimeout.Duration == 0 {
		cfg.General.AskUserTimeout = Duration{5 * time.Minute}
	}
	if cfg.General.StuckKoboldTimeout.Duration == 0 {
		cfg.General.StuckKoboldTimeout = Duration{30 * time.Minute}
	}
	if cfg.General.DebounceInterval.Duration == 0 {
		cfg.General.DebounceInterval = Duration{2 * time.Second}
	}
	if cfg.General.PlanningContextMax == 0 {
		cfg.General.PlanningContextMax = 50
	}
	if cfg.General.InsightHistoryCap == 0 {
		cfg.General.InsightHistoryCap = 100
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	rp := &cfg.General.RetryPolicy
	if rp.MaxRetries == 0 {
		rp.MaxRetries = 3
	}
	if rp.InitialDelay.Duration == 0 {
		rp.InitialDelay = Duration{1 * time.Second}
	}
	if rp.BackoffFactor == 0 {
		rp.BackoffFactor = 2.0
	}
	if rp.MaxDelay.Duration == 0 {
		rp.MaxDelay = Duration{30 * time.Second}
	}

	p := &cfg.Periodic
	if p.WyrmInterval.Duration == 0 {
		p.WyrmInterval = Duration{60 * time.Second}
	}
	if p.WyvernInterval.Duration == 0 {
		p.WyvernInterval = Duration{60 * time.Second}
	}
	if p.DrakeExecutionInterval.Duration == 0 {
		p.DrakeExecutionInterval = Duration{30 * time.Second}
	}
	if p.DrakeMonitoringInterval.Duration == 0 {
		p.DrakeMonitoringInterval = Duration{60 * time.Second}
	}
	if p.VerificationInterval.Duration == 0 {
		p.VerificationInterval = Duration{30 * time.Second}
	}
	if p.WyrmConcurrency == 0 {
		p.WyrmConcurrency = 5
	}
	if p.WyvernConcurrency == 0 {
		p.WyvernConcurrency = 5
	}
	if p.DrakeExecutionConcurrency == 0 {
		p.DrakeExecutionConcurrency = 5
	}
	if p.DrakeWorkersPerProject == 0 {
		p.DrakeWorkersPerProject = 4
	}
	if p.DrakeMonitoringConcurrency == 0 {
		p.DrakeMonitoringConcurrency = 5
	}
	if p.VerificationConcurrency == 0 {
		p.VerificationConcurrency = 3
	}

	v := &cfg.Verification
	if !md.IsDefined("verification", "enabled") {
		v.Enabled = true
	}
	if v.TimeoutSeconds == 0 {
		v.TimeoutSeconds = 600
	}
	if !md.IsDefined("verification", "auto_create_fix_tasks") {
		v.AutoCreateFixTasks = true
	}
	if !md.IsDefined("verification", "require_all_checks_passing") {
		v.RequireAllChecksPassing = true
	}
	if !md.IsDefined("verification", "skip_for_imported_projects") {
		v.SkipForImportedProjects = true
	}

	if cfg.Health.CheckInterval.Duration == 0 {
		cfg.Health.CheckInterval = Duration{60 * time.Second}
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1:8787"
	}
}

func normalizePaths(cfg *Config) {
	if cfg.General.ProjectsPath != "" {
		cfg.General.ProjectsPath = filepath.Clean(cfg.General.ProjectsPath)
	}
	if cfg.General.StateDB != "" {
		cfg.General.StateDB = filepath.Clean(cfg.General.StateDB)
	}
}

func validate(cfg *Config) error {
	if cfg.General.ProjectsPath == "" {
		return fmt.Errorf("general.projects_path is required")
	}
	if cfg.General.StateDB == "" {
		return fmt.Errorf("general.state_db is required")
	}
	for name, p := range cfg.Providers {
		if strings.TrimSpace(p.Kind) == "" {
			return fmt.Errorf("providers.%s: kind is required", name)
		}
	}
	return nil
}

// ExpandHome expands a leading "~" into the user's home directory, the
// way the teacher's config package resolves paths like audit-log
// locations that users write relative to their home.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsPlaceholder reports whether a config value looks like an unresolved
// templating placeholder (e.g. "${ANTHROPIC_API_KEY}") rather than a real
// credential.
func IsPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.HasPrefix(v, "${")
}
