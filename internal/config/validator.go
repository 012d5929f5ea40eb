package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "session.cadence_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateClassifier()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateTargets()...)
	errors = append(errors, c.validateDisplay()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.InitialDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.initial_delay_ms",
			Value:   c.Session.InitialDelayMs,
			Message: "must be non-negative",
		})
	}

	if c.Session.CadenceMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.cadence_ms",
			Value:   c.Session.CadenceMs,
			Message: "must be positive",
		})
	}

	if c.Session.CycleIntervalMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.cycle_interval_ms",
			Value:   c.Session.CycleIntervalMs,
			Message: "must be positive",
		})
	}

	if c.Session.RequestTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.request_timeout_ms",
			Value:   c.Session.RequestTimeoutMs,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	// Tick must be in a range that keeps the round loop responsive
	const minTickMs, maxTickMs = 10, 1000
	if c.Session.TickMs < minTickMs || c.Session.TickMs > maxTickMs {
		errors = append(errors, ValidationError{
			Field:   "session.tick_ms",
			Value:   c.Session.TickMs,
			Message: fmt.Sprintf("must be between %d and %d", minTickMs, maxTickMs),
		})
	}

	return errors
}

// validateClassifier validates the ClassifierConfig
func (c *Config) validateClassifier() []ValidationError {
	var errors []ValidationError

	u, err := url.Parse(c.Classifier.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, ValidationError{
			Field:   "classifier.base_url",
			Value:   c.Classifier.BaseURL,
			Message: "must be an absolute http(s) URL",
		})
	}

	paths := map[string]string{
		"classifier.predict_path": c.Classifier.PredictPath,
		"classifier.health_path":  c.Classifier.HealthPath,
		"classifier.classes_path": c.Classifier.ClassesPath,
	}
	for _, field := range []string{"classifier.predict_path", "classifier.health_path", "classifier.classes_path"} {
		if !strings.HasPrefix(paths[field], "/") {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   paths[field],
				Message: "must start with /",
			})
		}
	}

	const maxTopK = 20
	if c.Classifier.TopK < 1 || c.Classifier.TopK > maxTopK {
		errors = append(errors, ValidationError{
			Field:   "classifier.top_k",
			Value:   c.Classifier.TopK,
			Message: fmt.Sprintf("must be between 1 and %d", maxTopK),
		})
	}

	return errors
}

// validateCapture validates the CaptureConfig
func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if !IsValidCaptureSource(c.Capture.Source) {
		errors = append(errors, ValidationError{
			Field:   "capture.source",
			Value:   c.Capture.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidCaptureSources(), ", ")),
		})
	}

	if c.Capture.DeviceID < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.device_id",
			Value:   c.Capture.DeviceID,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateTargets validates the TargetsConfig
func (c *Config) validateTargets() []ValidationError {
	var errors []ValidationError

	if !c.Targets.UseRemote && c.Targets.LabelsFile == "" && len(c.Targets.Labels) == 0 {
		errors = append(errors, ValidationError{
			Field:   "targets.labels",
			Value:   c.Targets.Labels,
			Message: "must not be empty unless labels_file or use_remote is set",
		})
	}

	for i, label := range c.Targets.Labels {
		if strings.TrimSpace(label) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("targets.labels[%d]", i),
				Value:   label,
				Message: "must not be blank",
			})
		}
	}

	errors = append(errors, validatePatterns(c.Targets.Include, "targets.include")...)
	errors = append(errors, validatePatterns(c.Targets.Exclude, "targets.exclude")...)

	return errors
}

// validatePatterns checks that every entry compiles as a glob
func validatePatterns(patterns []string, fieldPrefix string) []ValidationError {
	var errors []ValidationError
	for i, pattern := range patterns {
		if _, err := glob.Compile(pattern); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", fieldPrefix, i),
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob pattern: %v", err),
			})
		}
	}
	return errors
}

// validateDisplay validates the DisplayConfig
func (c *Config) validateDisplay() []ValidationError {
	var errors []ValidationError

	if c.Display.WebSocket {
		if _, _, err := net.SplitHostPort(c.Display.ListenAddr); err != nil {
			errors = append(errors, ValidationError{
				Field:   "display.listen_addr",
				Value:   c.Display.ListenAddr,
				Message: "must be a host:port address",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
