package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const envPrefix = "FARUM_"

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

// GatePolicy decides what a classification gate does when its capability
// fails or returns output that cannot be interpreted.
type GatePolicy string

const (
	// FailOpen treats the failed gate as cleared.
	FailOpen GatePolicy = "fail_open"
	// FailClosed ends the turn with the safety fallback reply.
	FailClosed GatePolicy = "fail_closed"
)

// Config is built once at startup and shared read-only by every component.
type Config struct {
	Mode Mode `koanf:"mode"`

	Server    ServerConfig    `koanf:"server"`
	LLM       LLMConfig       `koanf:"llm"`
	Storage   StorageConfig   `koanf:"storage"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Safety    SafetyConfig    `koanf:"safety"`
	Log       LogConfig       `koanf:"log"`

	PromptsFile string `koanf:"prompts_file"`

	// Prompts is loaded from PromptsFile or the embedded catalog.
	Prompts *Prompts `koanf:"-"`
}

type ServerConfig struct {
	Port         string        `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type LLMConfig struct {
	Provider      string        `koanf:"provider"` // vertex, openai, ollama, mock
	Model         string        `koanf:"model"`
	Project       string        `koanf:"project"`
	Location      string        `koanf:"location"`
	APIKey        string        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	Temperature   float64       `koanf:"temperature"`
	CallTimeout   time.Duration `koanf:"call_timeout"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	Burst         int           `koanf:"burst"`
}

type StorageConfig struct {
	Backend    string `koanf:"backend"` // memory, firestore, badger
	GCPProject string `koanf:"gcp_project"`
	BadgerPath string `koanf:"badger_path"`
}

type KnowledgeConfig struct {
	Provider       string `koanf:"provider"` // none, chromem, weaviate
	URL            string `koanf:"url"`
	Class          string `koanf:"class"`
	Collection     string `koanf:"collection"`
	SeedFile       string `koanf:"seed_file"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// RetrievalConfig holds the score thresholds. A result under its threshold
// is treated as if nothing was retrieved.
type RetrievalConfig struct {
	MinScore       float64 `koanf:"min_score"`
	CrisisMinScore float64 `koanf:"crisis_min_score"`
	TopK           int     `koanf:"top_k"`
}

type PipelineConfig struct {
	HistoryWindow       int        `koanf:"history_window"`
	MaxMessageChars     int        `koanf:"max_message_chars"`
	MaxTechniques       int        `koanf:"max_techniques"`
	CrisisGatePolicy    GatePolicy `koanf:"crisis_gate_policy"`
	RelevanceGatePolicy GatePolicy `koanf:"relevance_gate_policy"`
	Techniques          []string   `koanf:"techniques"`
	CrisisFlags         []string   `koanf:"crisis_flags"`
	CBTTechniques       []string   `koanf:"cbt_techniques"`

	// EnabledTechniques is Techniques resolved against the taxonomy.
	EnabledTechniques []domain.Technique `koanf:"-"`
}

type SafetyConfig struct {
	FallbackReply string `koanf:"fallback_reply"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// Load reads the embedded defaults, then the optional YAML file at path,
// then FARUM_* environment variables, and validates the result.
//
// Env keys use a double underscore between section and field:
// FARUM_LLM__CALL_TIMEOUT -> llm.call_timeout, FARUM_MODE -> mode.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the embedded defaults without reading files or env.
func Default() *Config {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	if err := cfg.finalize(); err != nil {
		panic(fmt.Sprintf("embedded defaults: %v", err))
	}
	return &cfg
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) finalize() error {
	if c.LLM.Provider == "" {
		if c.Mode == ModeGCP {
			c.LLM.Provider = "vertex"
		} else {
			c.LLM.Provider = "mock"
		}
	}
	if c.Storage.GCPProject == "" {
		c.Storage.GCPProject = c.LLM.Project
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	c.Pipeline.EnabledTechniques = c.Pipeline.EnabledTechniques[:0]
	for _, name := range c.Pipeline.Techniques {
		t, _ := domain.ParseTechnique(name)
		c.Pipeline.EnabledTechniques = append(c.Pipeline.EnabledTechniques, t)
	}

	prompts, err := LoadPrompts(c.PromptsFile)
	if err != nil {
		return err
	}
	c.Prompts = prompts
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		return fmt.Errorf("mode %q must be local or gcp", c.Mode)
	}
	if c.Mode == ModeGCP && c.LLM.Project == "" {
		return fmt.Errorf("llm.project must be set in gcp mode")
	}

	switch c.LLM.Provider {
	case "vertex", "openai", "ollama", "mock":
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.LLM.CallTimeout <= 0 {
		return fmt.Errorf("llm.call_timeout must be positive")
	}
	if c.LLM.RatePerSecond < 0 || c.LLM.Burst < 0 {
		return fmt.Errorf("llm.rate_per_second and llm.burst must not be negative")
	}

	switch c.Storage.Backend {
	case "memory", "badger":
	case "firestore":
		if c.Storage.GCPProject == "" {
			return fmt.Errorf("storage.gcp_project is required for firestore")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	switch c.Knowledge.Provider {
	case "none", "chromem":
	case "weaviate":
		if c.Knowledge.URL == "" {
			return fmt.Errorf("knowledge.url is required for weaviate")
		}
	default:
		return fmt.Errorf("knowledge.provider %q is not supported", c.Knowledge.Provider)
	}

	for name, v := range map[string]float64{
		"retrieval.min_score":        c.Retrieval.MinScore,
		"retrieval.crisis_min_score": c.Retrieval.CrisisMinScore,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1")
	}

	p := c.Pipeline
	if p.HistoryWindow < 1 {
		return fmt.Errorf("pipeline.history_window must be at least 1")
	}
	if p.MaxMessageChars < 1 {
		return fmt.Errorf("pipeline.max_message_chars must be at least 1")
	}
	if p.MaxTechniques < 1 || p.MaxTechniques > 3 {
		return fmt.Errorf("pipeline.max_techniques must be within 1..3")
	}
	for name, pol := range map[string]GatePolicy{
		"pipeline.crisis_gate_policy":    p.CrisisGatePolicy,
		"pipeline.relevance_gate_policy": p.RelevanceGatePolicy,
	} {
		if pol != FailOpen && pol != FailClosed {
			return fmt.Errorf("%s %q must be fail_open or fail_closed", name, pol)
		}
	}
	if len(p.Techniques) == 0 {
		return fmt.Errorf("pipeline.techniques must not be empty")
	}
	seen := map[domain.Technique]bool{}
	for _, name := range p.Techniques {
		t, ok := domain.ParseTechnique(name)
		if !ok {
			return fmt.Errorf("pipeline.techniques: %q is not in the technique taxonomy", name)
		}
		if seen[t] {
			return fmt.Errorf("pipeline.techniques: %q listed twice", name)
		}
		seen[t] = true
	}
	if len(p.CrisisFlags) == 0 {
		return fmt.Errorf("pipeline.crisis_flags must not be empty")
	}
	if strings.TrimSpace(c.Safety.FallbackReply) == "" {
		return fmt.Errorf("safety.fallback_reply must not be empty")
	}
	return nil
}
