package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete sketchround configuration
type Config struct {
	Session    SessionConfig    `mapstructure:"session" yaml:"session"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`
	Targets    TargetsConfig    `mapstructure:"targets" yaml:"targets"`
	Display    DisplayConfig    `mapstructure:"display" yaml:"display"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// SessionConfig controls round timing
type SessionConfig struct {
	// InitialDelayMs is how long a round stays Active before classification starts
	InitialDelayMs int `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms"`
	// CadenceMs is the minimum spacing between classify dispatches
	CadenceMs int `mapstructure:"cadence_ms" yaml:"cadence_ms"`
	// CycleIntervalMs is how long each ranked candidate stays on display
	CycleIntervalMs int `mapstructure:"cycle_interval_ms" yaml:"cycle_interval_ms"`
	// RequestTimeoutMs abandons an in-flight classify call after this long (0 = disabled)
	RequestTimeoutMs int `mapstructure:"request_timeout_ms" yaml:"request_timeout_ms"`
	// WaitForInput delays the Active timer until the user starts drawing
	WaitForInput bool `mapstructure:"wait_for_input" yaml:"wait_for_input"`
	// TickMs is the heartbeat interval of the round loop
	TickMs int `mapstructure:"tick_ms" yaml:"tick_ms"`
}

// ClassifierConfig describes the remote classification service
type ClassifierConfig struct {
	// BaseURL is the root URL of the service (e.g., "http://localhost:8000")
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// PredictPath is the endpoint that accepts base64 snapshots
	PredictPath string `mapstructure:"predict_path" yaml:"predict_path"`
	// HealthPath is the liveness endpoint
	HealthPath string `mapstructure:"health_path" yaml:"health_path"`
	// ClassesPath lists the labels the model knows
	ClassesPath string `mapstructure:"classes_path" yaml:"classes_path"`
	// TopK is how many ranked candidates to request per attempt
	TopK int `mapstructure:"top_k" yaml:"top_k"`
}

// CaptureConfig selects where snapshots come from
type CaptureConfig struct {
	// Source is one of "file", "watch" or "camera"
	Source string `mapstructure:"source" yaml:"source"`
	// Path is the image file read by the file and watch sources
	Path string `mapstructure:"path" yaml:"path"`
	// DeviceID is the camera index for the camera source
	DeviceID int `mapstructure:"device_id" yaml:"device_id"`
}

// TargetsConfig controls how round targets are picked
type TargetsConfig struct {
	// Labels is the pool of target labels
	Labels []string `mapstructure:"labels" yaml:"labels"`
	// LabelsFile optionally points to a YAML list of labels that replaces Labels
	LabelsFile string `mapstructure:"labels_file" yaml:"labels_file"`
	// UseRemote fetches the pool from the classifier's classes endpoint
	UseRemote bool `mapstructure:"use_remote" yaml:"use_remote"`
	// Include keeps only labels matching at least one glob (empty = all)
	Include []string `mapstructure:"include" yaml:"include"`
	// Exclude drops labels matching any glob
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// DisplayConfig controls the presentation surfaces
type DisplayConfig struct {
	// TUI enables the terminal interface when a terminal is attached
	TUI bool `mapstructure:"tui" yaml:"tui"`
	// WebSocket enables the browser display server
	WebSocket bool `mapstructure:"websocket" yaml:"websocket"`
	// ListenAddr is the address of the browser display server
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// StoreConfig controls round history persistence
type StoreConfig struct {
	// Enabled turns on the SQLite history store
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path is the database file (empty = history.db in the config directory)
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is active (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is where session.log is written (empty = logs/ in the config directory)
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated backup files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// DefaultTargetLabels returns the labels the bundled QuickDraw model was trained on.
func DefaultTargetLabels() []string {
	return []string{
		// Animals
		"cat", "dog", "bird", "fish", "bear", "butterfly", "spider",
		// Buildings & Structures
		"house", "castle", "barn", "bridge", "lighthouse", "church",
		// Transportation
		"car", "airplane", "bicycle", "truck", "train",
		// Nature
		"tree", "flower", "sun", "moon", "cloud", "mountain",
		// Common Objects
		"apple", "banana", "book", "chair", "table", "cup", "umbrella",
		// People & Body
		"face", "eye", "hand", "foot",
		// Shapes
		"circle", "triangle", "square", "star",
		// Tools & Items
		"sword", "axe", "hammer", "key", "crown",
		// Musical Instruments
		"guitar", "piano",
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			InitialDelayMs:   4000,
			CadenceMs:        2000,
			CycleIntervalMs:  1000,
			RequestTimeoutMs: 0, // Disabled: a hung call holds the cadence
			WaitForInput:     false,
			TickMs:           100,
		},
		Classifier: ClassifierConfig{
			BaseURL:     "http://localhost:8000",
			PredictPath: "/predict/base64",
			HealthPath:  "/health",
			ClassesPath: "/classes",
			TopK:        3,
		},
		Capture: CaptureConfig{
			Source:   "watch",
			Path:     "",
			DeviceID: 0,
		},
		Targets: TargetsConfig{
			Labels:     DefaultTargetLabels(),
			LabelsFile: "",
			UseRemote:  false,
			Include:    []string{},
			Exclude:    []string{},
		},
		Display: DisplayConfig{
			TUI:        true,
			WebSocket:  false,
			ListenAddr: "127.0.0.1:8090",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// InitialDelay returns the Active phase length as a time.Duration
func (c *SessionConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// Cadence returns the dispatch cadence as a time.Duration
func (c *SessionConfig) Cadence() time.Duration {
	return time.Duration(c.CadenceMs) * time.Millisecond
}

// CycleInterval returns the candidate rotation interval as a time.Duration
func (c *SessionConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMs) * time.Millisecond
}

// RequestTimeout returns the in-flight timeout as a time.Duration (0 means disabled)
func (c *SessionConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Tick returns the heartbeat interval as a time.Duration
func (c *SessionConfig) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// Resource returns the key identifying the shared capture resource, used to
// keep two controllers from driving the same device or file.
func (c *CaptureConfig) Resource() string {
	switch c.Source {
	case "camera":
		return "camera:" + strconv.Itoa(c.DeviceID)
	default:
		if abs, err := filepath.Abs(c.Path); err == nil {
			return c.Source + ":" + abs
		}
		return c.Source + ":" + c.Path
	}
}

// ResolveStorePath returns the history database path, defaulting to the
// config directory when unset.
func (s *StoreConfig) ResolveStorePath() string {
	if s.Path == "" {
		return filepath.Join(ConfigDir(), "history.db")
	}
	return expandHome(s.Path)
}

// ResolveDir returns the log directory, defaulting to the config directory when unset.
func (l *LoggingConfig) ResolveDir() string {
	if l.Dir == "" {
		return filepath.Join(ConfigDir(), "logs")
	}
	return expandHome(l.Dir)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Session defaults
	viper.SetDefault("session.initial_delay_ms", defaults.Session.InitialDelayMs)
	viper.SetDefault("session.cadence_ms", defaults.Session.CadenceMs)
	viper.SetDefault("session.cycle_interval_ms", defaults.Session.CycleIntervalMs)
	viper.SetDefault("session.request_timeout_ms", defaults.Session.RequestTimeoutMs)
	viper.SetDefault("session.wait_for_input", defaults.Session.WaitForInput)
	viper.SetDefault("session.tick_ms", defaults.Session.TickMs)

	// Classifier defaults
	viper.SetDefault("classifier.base_url", defaults.Classifier.BaseURL)
	viper.SetDefault("classifier.predict_path", defaults.Classifier.PredictPath)
	viper.SetDefault("classifier.health_path", defaults.Classifier.HealthPath)
	viper.SetDefault("classifier.classes_path", defaults.Classifier.ClassesPath)
	viper.SetDefault("classifier.top_k", defaults.Classifier.TopK)

	// Capture defaults
	viper.SetDefault("capture.source", defaults.Capture.Source)
	viper.SetDefault("capture.path", defaults.Capture.Path)
	viper.SetDefault("capture.device_id", defaults.Capture.DeviceID)

	// Targets defaults
	viper.SetDefault("targets.labels", defaults.Targets.Labels)
	viper.SetDefault("targets.labels_file", defaults.Targets.LabelsFile)
	viper.SetDefault("targets.use_remote", defaults.Targets.UseRemote)
	viper.SetDefault("targets.include", defaults.Targets.Include)
	viper.SetDefault("targets.exclude", defaults.Targets.Exclude)

	// Display defaults
	viper.SetDefault("display.tui", defaults.Display.TUI)
	viper.SetDefault("display.websocket", defaults.Display.WebSocket)
	viper.SetDefault("display.listen_addr", defaults.Display.ListenAddr)

	// Store defaults
	viper.SetDefault("store.enabled", defaults.Store.Enabled)
	viper.SetDefault("store.path", defaults.Store.Path)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sketchround")
	}
	// Fall back to ~/.config/sketchround
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sketchround"
	}
	return filepath.Join(home, ".config", "sketchround")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidCaptureSources returns the list of valid capture source values
func ValidCaptureSources() []string {
	return []string{"file", "watch", "camera"}
}

// IsValidCaptureSource checks if the given source is valid
func IsValidCaptureSource(source string) bool {
	for _, valid := range ValidCaptureSources() {
		if source == valid {
			return true
		}
	}
	return false
}
