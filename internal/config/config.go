package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrNoScribeFolder is returned when the configured scribe folder does not exist.
var ErrNoScribeFolder = errors.New("scribe folder not found")

// Config represents the application configuration
type Config struct {
	Scribe struct {
		Folder                     string `koanf:"folder"`
		Logging                    bool   `koanf:"logging"`
		AcknowledgePriceUnreliable bool   `koanf:"acknowledge_price_unreliable"`
	} `koanf:"scribe"`

	History struct {
		Capacity int `koanf:"capacity"`
	} `koanf:"history"`

	LSP struct {
		Command         string        `koanf:"command"`
		Args            []string      `koanf:"args"`
		DiagnosticsWait time.Duration `koanf:"diagnostics_wait"`
		HoverRate       float64       `koanf:"hover_rate"`
	} `koanf:"lsp"`

	Server struct {
		Port int `koanf:"port"`
	} `koanf:"server"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"scribe.folder":                       "$HOME/scribe",
		"scribe.logging":                      true,
		"scribe.acknowledge_price_unreliable": false,
		"history.capacity":                    50,
		"lsp.command":                         "lake",
		"lsp.args":                            []string{"serve"},
		"lsp.diagnostics_wait":                "3s",
		"lsp.hover_rate":                      50.0,
		"server.port":                         8787,
		"log.level":                           "info",
	}
}

// LoadConfig loads the configuration from a file
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(defaults(), "."), nil)

	// Load from TOML file. An explicit path must exist; the default name
	// falls back to the home directory.
	switch _, err := os.Stat(configPath); {
	case configPath != "" && err == nil:
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	case configPath != "" && configPath != DefaultConfigFile:
		return nil, fmt.Errorf("error loading config: %w", err)
	default:
		path := os.ExpandEnv("$HOME/.scribe.toml")
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
		}
	}

	// Environment variables with prefix SCRIBE_, e.g. SCRIBE_LSP_HOVER_RATE -> lsp.hover_rate
	k.Load(env.Provider("SCRIBE_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "SCRIBE_"))
		return strings.Replace(key, "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	config.Scribe.Folder = ExpandPath(config.Scribe.Folder)

	return &config, nil
}

// DefaultConfigFile is the file name used by the CLI when -c is not given.
const DefaultConfigFile = "scribe.toml"

// ExpandPath expands environment variables and a leading "~".
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# Lean Scribe Configuration

[scribe]
# Folder holding prompt templates, models.json, .env and logs/
folder = "~/scribe"
logging = true
acknowledge_price_unreliable = false

[history]
capacity = 50

[lsp]
command = "lake"
args = ["serve"]
diagnostics_wait = "3s"
hover_rate = 50.0

[server]
port = 8787

[log]
level = "info"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Scribe.Folder == "" {
		return fmt.Errorf("scribe folder is required")
	}
	info, err := os.Stat(config.Scribe.Folder)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNoScribeFolder, config.Scribe.Folder)
	}

	if config.History.Capacity <= 0 {
		return fmt.Errorf("history capacity must be positive, got %d", config.History.Capacity)
	}

	if config.LSP.Command == "" {
		return fmt.Errorf("lsp command is required")
	}
	if config.LSP.HoverRate <= 0 {
		return fmt.Errorf("lsp hover_rate must be positive")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", config.Server.Port)
	}

	return nil
}
