package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/factoura/config.yaml",
}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Security SecurityConfig `koanf:"security"`
	Analysis AnalysisConfig `koanf:"analysis"`
	LLM      LLMConfig      `koanf:"llm"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Logging  LoggingConfig  `koanf:"logging"`
	API      APIConfig      `koanf:"api"`
}

type ServerConfig struct {
	Port         string        `koanf:"port"`
	Environment  string        `koanf:"environment"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	CORSOrigins  []string      `koanf:"cors_origins"`
}

// Development reports whether stack traces and error details may be exposed.
func (s ServerConfig) Development() bool {
	return strings.EqualFold(s.Environment, "development")
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string `koanf:"driver"`
	Host            string `koanf:"host"`
	Port            string `koanf:"port"`
	Name            string `koanf:"name"`
	User            string `koanf:"user"`
	Password        string `koanf:"password"`
	SSLMode         string `koanf:"sslmode"`
	ConnectAttempts int    `koanf:"connect_attempts"`
}

// DSN builds the lib/pq connection URL.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type SecurityConfig struct {
	JWTSecret              string        `koanf:"jwt_secret"`
	TokenTTL               time.Duration `koanf:"token_ttl"`
	BcryptCost             int           `koanf:"bcrypt_cost"`
	RequireWalletSignature bool          `koanf:"require_wallet_signature"`
}

type AnalysisConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	MaxTags int           `koanf:"max_tags"`
}

// LLMConfig points at an Ollama-compatible server. The two model fields pin
// the tags behind the "phi3" and "gemma3" aliases.
type LLMConfig struct {
	URL         string        `koanf:"url"`
	Timeout     time.Duration `koanf:"timeout"`
	Phi3Model   string        `koanf:"phi3_model"`
	Gemma3Model string        `koanf:"gemma3_model"`
}

type LedgerConfig struct {
	// Mode is "simulated" or "chain".
	Mode            string        `koanf:"mode"`
	RPCURL          string        `koanf:"rpc_url"`
	PrivateKey      string        `koanf:"private_key"`
	ContractAddress string        `koanf:"contract_address"`
	SimulatedDelay  time.Duration `koanf:"simulated_delay"`
	ExplorerBase    string        `koanf:"explorer_base"`
}

type PipelineConfig struct {
	Workers           int           `koanf:"workers"`
	VerificationDelay time.Duration `koanf:"verification_delay"`
	Stream            string        `koanf:"stream"`
	Group             string        `koanf:"group"`
	Consumer          string        `koanf:"consumer"`
	StuckAfter        time.Duration `koanf:"stuck_after"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type APIConfig struct {
	EventsTimeout      time.Duration `koanf:"events_timeout"`
	EventsPollInterval time.Duration `koanf:"events_poll_interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Environment:  "production",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // event streams outlive any fixed write deadline
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            "5432",
			Name:            "factoura",
			User:            "factoura",
			Password:        "",
			SSLMode:         "disable",
			ConnectAttempts: 10,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
		},
		Security: SecurityConfig{
			TokenTTL:   time.Hour,
			BcryptCost: 12,
		},
		Analysis: AnalysisConfig{
			URL:     "http://localhost:5002",
			Timeout: 30 * time.Second,
			MaxTags: 10,
		},
		LLM: LLMConfig{
			URL:         "http://localhost:11434/api",
			Timeout:     2 * time.Minute,
			Phi3Model:   "phi3:3.8b",
			Gemma3Model: "gemma3:1b",
		},
		Ledger: LedgerConfig{
			Mode:           "simulated",
			SimulatedDelay: 2 * time.Second,
			ExplorerBase:   "https://amoy.polygonscan.com/tx/",
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			VerificationDelay: 5 * time.Second,
			Stream:            "factoura:pipeline",
			Group:             "pipeline",
			StuckAfter:        10 * time.Minute,
			ReconcileInterval: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		API: APIConfig{
			EventsTimeout:      2 * time.Minute,
			EventsPollInterval: 3 * time.Second,
		},
	}
}

// Load layers struct defaults, an optional yaml file and environment variables,
// in increasing priority, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// listPaths are slice fields that arrive from the environment as comma-separated strings.
var listPaths = []string{"server.cors_origins"}

func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"port":         "server.port",
	"environment":  "server.environment",
	"cors_origins": "server.cors_origins",

	"db_driver":           "database.driver",
	"db_host":             "database.host",
	"db_port":             "database.port",
	"db_name":             "database.name",
	"db_user":             "database.user",
	"db_pass":             "database.password",
	"db_sslmode":          "database.sslmode",
	"db_connect_attempts": "database.connect_attempts",

	"redis_enabled":  "redis.enabled",
	"redis_addr":     "redis.addr",
	"redis_password": "redis.password",
	"redis_db":       "redis.db",

	"jwt_secret":               "security.jwt_secret",
	"token_ttl":                "security.token_ttl",
	"bcrypt_cost":              "security.bcrypt_cost",
	"require_wallet_signature": "security.require_wallet_signature",

	"content_analysis_service_url": "analysis.url",
	"analysis_timeout":             "analysis.timeout",
	"analysis_max_tags":            "analysis.max_tags",

	"ollama_api_url":      "llm.url",
	"llm_timeout":         "llm.timeout",
	"ollama_phi3_model":   "llm.phi3_model",
	"ollama_gemma3_model": "llm.gemma3_model",

	"ledger_mode":            "ledger.mode",
	"polygon_rpc_url":        "ledger.rpc_url",
	"private_key":            "ledger.private_key",
	"contract_address":       "ledger.contract_address",
	"ledger_simulated_delay": "ledger.simulated_delay",
	"ledger_explorer_base":   "ledger.explorer_base",

	"pipeline_workers":            "pipeline.workers",
	"verification_delay":          "pipeline.verification_delay",
	"pipeline_stream":             "pipeline.stream",
	"pipeline_group":              "pipeline.group",
	"pipeline_consumer":           "pipeline.consumer",
	"pipeline_stuck_after":        "pipeline.stuck_after",
	"pipeline_reconcile_interval": "pipeline.reconcile_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"events_timeout":       "api.events_timeout",
	"events_poll_interval": "api.events_poll_interval",
}

// envTransformFunc maps known environment variables to koanf paths; anything
// else is ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
