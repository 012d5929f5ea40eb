package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/targets"
)

const serviceTimeout = 10 * time.Second

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the classification service is up",
	RunE:  runHealth,
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the labels the classification service knows",
	RunE:  runClasses,
}

var classesFiltered bool

func init() {
	classesCmd.Flags().BoolVar(&classesFiltered, "targets", false, "Only show labels that pass the targets include/exclude patterns")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(classesCmd)
}

func newClassifier(cfg *config.Config) (*classify.HTTPClient, error) {
	return classify.NewHTTPClient(cfg.Classifier.BaseURL,
		classify.WithTopK(cfg.Classifier.TopK),
		classify.WithPaths(cfg.Classifier.PredictPath, cfg.Classifier.HealthPath, cfg.Classifier.ClassesPath),
	)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
	defer cancel()

	status, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("classifier at %s is unreachable: %w", cfg.Classifier.BaseURL, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "status: %s\nmodel_loaded: %v\n", status.Status, status.ModelLoaded)
	if !status.Healthy() {
		return fmt.Errorf("classifier at %s is not healthy", cfg.Classifier.BaseURL)
	}
	return nil
}

func runClasses(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), serviceTimeout)
	defer cancel()

	classes, err := client.Classes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list classes: %w", err)
	}
	if classesFiltered {
		classes, err = targets.Filter(classes, cfg.Targets.Include, cfg.Targets.Exclude)
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d classes\n", len(classes))
	fmt.Fprintln(out, strings.Join(classes, "\n"))
	return nil
}
