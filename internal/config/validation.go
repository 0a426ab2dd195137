package config

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("❌ Validation Errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		if len(vr.Errors) > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("⚠️  Validation Warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    💡 %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails performs validation with suggestions and
// environment checks. Load only enforces the hard errors.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateWorldConfigDetails(&config.World, result)
	validateStreamingConfigDetails(&config.Streaming, result)
	validateRegistryConfigDetails(&config.Registry, result)
	validateMonitorConfigDetails(&config.Monitor, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateWorldConfigDetails(config *WorldConfig, result *ValidationResult) {
	if err := validateWorldConfig(config); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "world",
			Value:   config,
			Message: err.Error(),
			Suggestions: []string{
				"Formats: tagged (default), compact",
				"Compressions: gzip (default), zstd, none",
			},
		})
		return
	}

	info, err := os.Stat(config.Dir)
	switch {
	case os.IsNotExist(err):
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "world.dir",
			Value:   config.Dir,
			Message: "world directory does not exist yet",
			Suggestions: []string{
				"It will be created on first run",
			},
		})
	case err == nil && !info.IsDir():
		result.Errors = append(result.Errors, ValidationError{
			Field:   "world.dir",
			Value:   config.Dir,
			Message: "world path exists but is not a directory",
		})
	}
}

func validateStreamingConfigDetails(config *StreamingConfig, result *ValidationResult) {
	if err := validateStreamingConfig(config); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "streaming",
			Value:   config,
			Message: err.Error(),
		})
		return
	}

	if config.IdleTimeout < config.SweepInterval {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "streaming.idle_timeout",
			Value:   config.IdleTimeout,
			Message: fmt.Sprintf("idle_timeout %s is shorter than sweep_interval %s", config.IdleTimeout, config.SweepInterval),
			Suggestions: []string{
				"Idle regions are only examined once per sweep",
			},
		})
	}

	if max := 4 * runtime.GOMAXPROCS(0); config.Workers > max {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "streaming.workers",
			Value:   config.Workers,
			Message: fmt.Sprintf("%d workers exceeds %d (4x GOMAXPROCS)", config.Workers, max),
			Suggestions: []string{
				"Use 0 to size the pool from GOMAXPROCS",
			},
		})
	}
}

func validateRegistryConfigDetails(config *RegistryConfig, result *ValidationResult) {
	if config.Path == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "registry.path",
			Message: "no tile registry configured, built-in tiles are used",
		})
		return
	}
	if !pathExists(config.Path) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "registry.path",
			Value:   config.Path,
			Message: "registry file does not exist",
			Suggestions: []string{
				"Point registry.path at an HCL file with tile and schematic blocks",
			},
		})
	}
}

func validateMonitorConfigDetails(config *MonitorConfig, result *ValidationResult) {
	if !config.Enabled {
		return
	}
	if err := validateMonitorConfig(config); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "monitor",
			Value:   config.Addr,
			Message: err.Error(),
		})
		return
	}

	host, _, _ := splitAddr(config.Addr)
	if ip := net.ParseIP(strings.Trim(host, "[]")); host == "" || (ip != nil && !ip.IsLoopback()) {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "monitor.addr",
			Value:   config.Addr,
			Message: "monitor listens on a non-loopback address",
			Suggestions: []string{
				"Use 127.0.0.1 unless the status page must be reachable remotely",
			},
		})
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
