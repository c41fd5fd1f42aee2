package config

import (
	"fmt"
	"log"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/emersion/go-smtp"
	"github.com/migadu/filter-contentstrings/consts"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "syslog", or file path. stdout carries the filter protocol.
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// LimitsConfig bounds the memory held for in-flight transactions.
// Zero values mean unlimited.
type LimitsConfig struct {
	MaxMessageSize string `toml:"max_message_size"` // Per-transaction buffer cap (e.g. "10MB")
	MaxSessions    int    `toml:"max_sessions"`     // Maximum number of concurrently buffered sessions
}

// GetMaxMessageSize parses the per-transaction buffer cap in bytes.
func (l *LimitsConfig) GetMaxMessageSize() (int64, error) {
	if l.MaxMessageSize == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(l.MaxMessageSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_message_size %q: %w", l.MaxMessageSize, err)
	}
	return int64(size), nil
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// RejectConfig describes the reply sent back to the MTA for a blacklisted message.
type RejectConfig struct {
	Code         int    `toml:"code"`
	EnhancedCode string `toml:"enhanced_code"` // Optional, e.g. "5.7.1"
	Message      string `toml:"message"`
}

// SMTPError builds the reject reply described by the configuration.
func (r *RejectConfig) SMTPError() (*smtp.SMTPError, error) {
	code := r.Code
	if code == 0 {
		code = consts.DefaultRejectCode
	}
	if code < 400 || code > 599 {
		return nil, fmt.Errorf("reject code %d is not a 4xx or 5xx reply", code)
	}

	message := r.Message
	if message == "" {
		message = consts.DefaultRejectMessage
	}

	enhanced := smtp.NoEnhancedCode
	if r.EnhancedCode != "" {
		parts := strings.Split(r.EnhancedCode, ".")
		if len(parts) != 3 {
			return nil, fmt.Errorf("enhanced code %q must have the form class.subject.detail", r.EnhancedCode)
		}
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("enhanced code %q: invalid component %q", r.EnhancedCode, p)
			}
			enhanced[i] = n
		}
		if enhanced[0] != code/100 {
			return nil, fmt.Errorf("enhanced code %q does not match reply class %dxx", r.EnhancedCode, code/100)
		}
	}

	return &smtp.SMTPError{
		Code:         code,
		EnhancedCode: enhanced,
		Message:      message,
	}, nil
}

// BlacklistEntry names a pattern file, equivalent to a "<kind> <file>" pair on the command line.
type BlacklistEntry struct {
	Kind string `toml:"kind"` // "literal" or "regex"
	File string `toml:"file"`
}

// Config holds all configuration for the filter.
type Config struct {
	Logging   LoggingConfig    `toml:"logging"`
	Limits    LimitsConfig     `toml:"limits"`
	Metrics   MetricsConfig    `toml:"metrics"`
	Reject    RejectConfig     `toml:"reject"`
	Blacklist []BlacklistEntry `toml:"blacklist"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
			Path:    "/metrics",
		},
		Reject: RejectConfig{
			Code:    consts.DefaultRejectCode,
			Message: consts.DefaultRejectMessage,
		},
	}
}

// Validate checks the configuration for values the filter cannot run with.
func (c *Config) Validate() error {
	switch c.Logging.Output {
	case "stdout":
		return fmt.Errorf("logging.output: stdout is reserved for the filter protocol")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if _, err := c.Limits.GetMaxMessageSize(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if c.Limits.MaxSessions < 0 {
		return fmt.Errorf("limits.max_sessions: must not be negative, got %d", c.Limits.MaxSessions)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr: required when metrics are enabled")
	}

	if _, err := c.Reject.SMTPError(); err != nil {
		return fmt.Errorf("reject: %w", err)
	}

	for i, entry := range c.Blacklist {
		if entry.Kind != "literal" && entry.Kind != "regex" {
			return fmt.Errorf("blacklist entry #%d: unknown kind %q, expected \"literal\"/\"regex\"", i+1, entry.Kind)
		}
		if entry.File == "" {
			return fmt.Errorf("blacklist entry #%d: file is required", i+1)
		}
	}

	return nil
}

// LoadConfigFromFile loads configuration from a TOML file and trims whitespace from all string fields
// This function is lenient with:
//   - Duplicate keys: logs warning and uses first occurrence
//   - Unknown keys: logs warning and ignores them
//
// All other syntax errors are returned with a hint attached.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "has already been defined") {
			return enhanceConfigError(err)
		}

		log.Printf("WARNING: Configuration file '%s' contains duplicate keys: %v", configPath, err)
		log.Printf("WARNING: Only the first occurrence of each key will be used.")

		cleanedContent, parseErr := removeDuplicateKeysFromTOML(string(content))
		if parseErr != nil {
			return enhanceConfigError(err)
		}

		metadata, err = toml.Decode(cleanedContent, cfg)
		if err != nil {
			return enhanceConfigError(err)
		}
	}

	if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
		log.Printf("WARNING: Configuration file '%s' contains unknown keys that will be ignored:", configPath)
		for _, key := range undecoded {
			log.Printf("WARNING:   - %s", key)
		}
	}

	trimStringFields(reflect.ValueOf(cfg).Elem())
	return nil
}

// removeDuplicateKeysFromTOML comments out every repeated key, keeping the first occurrence.
// Each [[array.table]] header starts a new element, so its keys are tracked afresh.
func removeDuplicateKeysFromTOML(content string) (string, error) {
	lines := strings.Split(content, "\n")
	seenKeys := make(map[string]int) // key path -> line index
	var result []string
	var currentSection string

	for lineNum, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			result = append(result, line)
			continue
		}

		if strings.HasPrefix(trimmed, "[[") && strings.HasSuffix(trimmed, "]]") {
			currentSection = strings.TrimSpace(trimmed[2 : len(trimmed)-2])
			for k := range seenKeys {
				if strings.HasPrefix(k, currentSection+".") {
					delete(seenKeys, k)
				}
			}
			result = append(result, line)
			continue
		} else if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			currentSection = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			result = append(result, line)
			continue
		}

		if key, _, ok := strings.Cut(trimmed, "="); ok {
			key = strings.TrimSpace(key)
			fullKey := key
			if currentSection != "" {
				fullKey = currentSection + "." + key
			}

			if prevLine, exists := seenKeys[fullKey]; exists {
				log.Printf("WARNING: Duplicate key '%s' found at line %d (first occurrence at line %d). Ignoring duplicate.",
					fullKey, lineNum+1, prevLine+1)
				result = append(result, "# DUPLICATE IGNORED: "+line)
				continue
			}
			seenKeys[fullKey] = lineNum
		}

		result = append(result, line)
	}

	return strings.Join(result, "\n"), nil
}

// enhanceConfigError provides more helpful error messages for common TOML parsing issues
func enhanceConfigError(err error) error {
	errMsg := err.Error()

	if strings.Contains(errMsg, "expected value but found \"f\"") ||
		strings.Contains(errMsg, "expected value but found \"t\"") {
		return fmt.Errorf("%w\n\nHINT: booleans must be exactly 'true' or 'false' (lowercase, unquoted)", err)
	}

	if strings.Contains(errMsg, "expected") || strings.Contains(errMsg, "invalid") {
		return fmt.Errorf("%w\n\nHINT: There is a syntax error in your TOML configuration file.\n"+
			"Please check:\n"+
			"  - All strings are properly quoted\n"+
			"  - Section headers use [section] or [[blacklist]] format\n"+
			"  - Sizes are quoted strings such as \"10MB\"", err)
	}

	return err
}

// trimStringFields recursively trims whitespace from all string fields in a struct
func trimStringFields(v reflect.Value) {
	if !v.IsValid() || !v.CanSet() {
		return
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(strings.TrimSpace(v.String()))

	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if elem.Kind() == reflect.String {
				elem.SetString(strings.TrimSpace(elem.String()))
			} else {
				trimStringFields(elem)
			}
		}

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanSet() {
				trimStringFields(field)
			}
		}

	case reflect.Ptr:
		if !v.IsNil() {
			trimStringFields(v.Elem())
		}
	}
}
