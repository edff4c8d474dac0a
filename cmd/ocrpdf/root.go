package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/home"
	"github.com/jackzampolin/ocrpdf/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ocrpdf",
	Short: "OCR service that turns scanned documents into searchable PDFs",
	Long: `ocrpdf runs OCR over scanned images and PDFs and returns a searchable PDF:
the original page images with an invisible text layer placed where the words are.

It can run as an HTTP service (ocrpdf serve) or convert files locally
(ocrpdf convert). Output is either the assembled PDF or, in markup mode,
a bundle of per-page hOCR that can be turned into the PDF later.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.ocrpdf/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "ocrpdf home directory (default: ~/.ocrpdf)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format and load .env files before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		api.SetOutputFormat(outputFormat)
		return loadEnv()
	}

	rootCmd.AddCommand(versionCmd)
}

// loadEnv loads ~/.ocrpdf/.env and then ./.env. Variables already set in
// the environment win.
func loadEnv() error {
	h, err := home.New(homeDir)
	if err != nil {
		return err
	}
	for _, path := range []string{h.EnvPath(), ".env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// loadConfig resolves the home directory and config file. An explicit
// --config wins, then the home config, then viper's search path.
func loadConfig() (*home.Dir, *config.Manager, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	return h, mgr, nil
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
