package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Source types understood by the CLI.
const (
	SourceFRBCAT    = "frbcat"
	SourceRepeaters = "repeaters"
	SourceTNS       = "tns"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

type Config struct {
	Schedule string         `yaml:"schedule"`
	Output   OutputConfig   `yaml:"output"`
	Email    EmailConfig    `yaml:"email"`
	Sources  []SourceConfig `yaml:"sources"`
}

type OutputConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
}

type EmailConfig struct {
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	ResendAPIKey string `yaml:"resend_api_key"`
}

// Enabled reports whether enough is configured to send the digest.
func (e EmailConfig) Enabled() bool {
	return e.To != "" && e.ResendAPIKey != ""
}

type SourceConfig struct {
	Type string `yaml:"type"`
	URL  string `yaml:"url,omitempty"`
	// Catalogue fields
	Format         string `yaml:"format,omitempty"`
	OneEntryPerFRB *bool  `yaml:"one_entry_per_frb,omitempty"`
	// Catalogue and TNS filters
	OneOffs      *bool `yaml:"oneoffs,omitempty"`
	Repeaters    *bool `yaml:"repeaters,omitempty"`
	RepeatBursts *bool `yaml:"repeat_bursts,omitempty"`
	// TNS fields
	TNSID             string  `yaml:"tns_id,omitempty"`
	TNSName           string  `yaml:"tns_name,omitempty"`
	PageSize          int     `yaml:"page_size,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// Bool returns *p, or def when the field was left out of the file.
func Bool(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := strings.TrimSuffix(strings.TrimPrefix(string(match), "${"), "}")

		// Support ${VAR:-default} syntax
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		if hasDefault {
			return []byte(defaultVal)
		}
		return match
	})
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "."
	}
	if len(cfg.Output.Formats) == 0 {
		cfg.Output.Formats = []string{FormatCSV}
	}

	return &cfg, nil
}

// Validate reports every problem with the config at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid schedule %q: %w", c.Schedule, err))
		}
	}
	for _, f := range c.Output.Formats {
		if f != FormatCSV && f != FormatParquet {
			errs = append(errs, fmt.Errorf("unknown output format %q", f))
		}
	}
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("no sources configured"))
	}

	for i, s := range c.Sources {
		switch s.Type {
		case SourceFRBCAT:
			if s.Format != "" && !slices.Contains([]string{"csv", "json"}, s.Format) {
				errs = append(errs, fmt.Errorf("source %d: unknown catalogue format %q", i, s.Format))
			}
		case SourceRepeaters:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("source %d: repeaters needs a url", i))
			}
		case SourceTNS:
			if s.PageSize < 0 || s.RequestsPerSecond < 0 {
				errs = append(errs, fmt.Errorf("source %d: page_size and requests_per_second must not be negative", i))
			}
		default:
			errs = append(errs, fmt.Errorf("source %d: unknown type %q", i, s.Type))
		}
	}

	return errors.Join(errs...)
}
