package config

import "time"

// Config is the top-level orchestrator configuration, decoded from YAML or
// JSON5 by Load. Field names are the config-file keys.
type Config struct {
	Provider    ProviderConfig    `yaml:"provider"`
	Browser     BrowserConfig     `yaml:"browser"`
	URLPolicy   URLPolicyConfig   `yaml:"url_policy"`
	Tools       ToolsConfig       `yaml:"tools"`
	Planner     PlannerConfig     `yaml:"planner"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	WebAgent    WebAgentConfig    `yaml:"web_agent"`
	Log         LogConfig         `yaml:"log"`
}

// WebAgentConfig controls the perceive-decide-act loop's iteration budget.
type WebAgentConfig struct {
	MaxSteps int `yaml:"max_steps"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	Name    string `yaml:"name"` // "anthropic" | "openai"
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// BrowserConfig controls the browser controller's driver selection and
// launch options.
type BrowserConfig struct {
	Driver     string        `yaml:"driver"` // "playwright" | "chromedp"
	Headless   bool          `yaml:"headless"`
	Executable string        `yaml:"executable,omitempty"`
	Timeout    time.Duration `yaml:"timeout"`
}

// URLPolicyConfig seeds the UrlStatusManager's tables at startup.
type URLPolicyConfig struct {
	Allowed []string `yaml:"allowed"`
	Rejected []string `yaml:"rejected"`
	Blocked []string `yaml:"blocked"`
}

// ToolsConfig carries per-tool approval overrides layered atop the built-in
// DefaultTools table.
type ToolsConfig struct {
	ApprovalOverrides map[string]string `yaml:"approval_overrides"`
}

// PlannerConfig controls plan-generation retry budgets.
type PlannerConfig struct {
	MaxJSONRetries int  `yaml:"max_json_retries"`
	SentinelSteps  bool `yaml:"sentinel_steps"`
}

// OrchestratorConfig controls the top-level state machine's budgets.
type OrchestratorConfig struct {
	MaxTurns         int  `yaml:"max_turns"`
	MaxReplans       int  `yaml:"max_replans"`
	AllowForReplans  bool `yaml:"allow_for_replans"`
}

// LogConfig controls structured logging verbosity and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
}

// Default returns a Config populated with the runtime's conservative
// defaults, used when a config file omits a section entirely.
func Default() Config {
	return Config{
		Provider: ProviderConfig{Name: "anthropic", Model: "claude-sonnet-4-5"},
		Browser:  BrowserConfig{Driver: "playwright", Headless: true, Timeout: 30 * time.Second},
		Planner:  PlannerConfig{MaxJSONRetries: 3, SentinelSteps: true},
		Orchestrator: OrchestratorConfig{
			MaxTurns:        30,
			MaxReplans:      3,
			AllowForReplans: true,
		},
		WebAgent: WebAgentConfig{MaxSteps: 10},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (resolving $include directives and env-var expansion) and
// decodes it into a Config, with defaults filling any omitted section.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = def.Provider.Name
		if cfg.Provider.Model == "" {
			cfg.Provider.Model = def.Provider.Model
		}
	}
	if cfg.Browser.Driver == "" {
		cfg.Browser.Driver = def.Browser.Driver
	}
	if cfg.Browser.Timeout == 0 {
		cfg.Browser.Timeout = def.Browser.Timeout
	}
	if cfg.Planner.MaxJSONRetries == 0 {
		cfg.Planner.MaxJSONRetries = def.Planner.MaxJSONRetries
	}
	if cfg.Orchestrator.MaxTurns == 0 {
		cfg.Orchestrator.MaxTurns = def.Orchestrator.MaxTurns
	}
	if cfg.Orchestrator.MaxReplans == 0 {
		cfg.Orchestrator.MaxReplans = def.Orchestrator.MaxReplans
	}
	if cfg.WebAgent.MaxSteps == 0 {
		cfg.WebAgent.MaxSteps = def.WebAgent.MaxSteps
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
}
