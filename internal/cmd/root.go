// Package cmd implements the sketchround command line.
package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "sketchround",
	Short: "Real-time sketch recognition rounds",
	Long: `Sketchround picks a target label, watches you draw it, and asks a
classification service what it sees until one of the ranked guesses
matches the target.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/sketchround/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// .env values become ordinary environment variables before viper reads them
	_ = godotenv.Load()

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SKETCHROUND")
	// Replace dots with underscores for nested keys in env vars
	// e.g., SKETCHROUND_CLASSIFIER_BASE_URL for classifier.base_url
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger opens the session log described by cfg. A disabled log returns a
// no-op logger.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(cfg.Logging.ResolveDir(), cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}
