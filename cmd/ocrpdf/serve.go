package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ocrpdf server",
	Long: `Start the ocrpdf HTTP server.

The server provides:
  - POST /api/ocr             - OCR uploaded images or PDFs
  - POST /api/ocr/reassemble  - Build a PDF from a markup bundle
  - GET  /api/engines         - Registered OCR engines
  - /health, /ready, /status  - Health and status checks
  - /swagger                  - API documentation

The config file is watched: engine settings and the default engine reload
in place. Changes to render.dpi or output.mode need a restart.

Examples:
  ocrpdf serve                    # Start on the configured address
  ocrpdf serve --port 3000        # Start on custom port
  ocrpdf serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stdout, mgr.Get())
		slog.SetDefault(logger)

		if f := mgr.ConfigFile(); f != "" {
			logger.Info("loaded config", "file", f)
			mgr.WatchConfig()
		}

		srv, err := server.New(server.Config{
			Host:          serveHost,
			Port:          servePort,
			ConfigManager: mgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default: server.port)")

	rootCmd.AddCommand(serveCmd)
}
