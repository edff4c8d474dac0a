package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/ocrpdf/internal/api"
	"github.com/jackzampolin/ocrpdf/internal/engines"
	"github.com/jackzampolin/ocrpdf/internal/loader"
	"github.com/jackzampolin/ocrpdf/internal/pipeline"
	"github.com/jackzampolin/ocrpdf/internal/server"
)

var convertFlags struct {
	outFile             string
	bundle              string
	engine              string
	languages           []string
	detArch             string
	recoArch            string
	assumeStraightPages bool
	detectOrientation   bool
	detectLanguage      bool
}

var convertCmd = &cobra.Command{
	Use:   "convert <file>...",
	Short: "OCR files locally without a server",
	Long: `Run the OCR pipeline in-process on local files.

Files are concatenated in the order given. The output mode, DPI and engines
come from the same config the server uses. With --bundle, no OCR runs: the
markup bundle is rendered over the given files.

Examples:
  ocrpdf convert scan.pdf                          # writes scan.ocr.pdf
  ocrpdf convert p1.png p2.png -f book.pdf
  ocrpdf convert --bundle scan.ocr.zip scan.pdf -f scan.ocr.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, mgr, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(os.Stderr, mgr.Get())

		services, err := server.BuildServices(server.ServicesConfig{
			Config: mgr,
			Home:   h,
			Logger: logger,
		})
		if err != nil {
			return err
		}

		files, err := readLocalFiles(args)
		if err != nil {
			return err
		}

		var resp *pipeline.Response
		if convertFlags.bundle != "" {
			data, err := os.ReadFile(convertFlags.bundle)
			if err != nil {
				return fmt.Errorf("failed to read bundle: %w", err)
			}
			resp, err = services.Pipeline.Reassemble(ctx, data, files)
			if err != nil {
				return err
			}
		} else {
			resp, err = services.Pipeline.Process(ctx, pipeline.Request{
				Files:  files,
				Engine: convertFlags.engine,
				Options: engines.Options{
					Languages:           convertFlags.languages,
					DetArch:             convertFlags.detArch,
					RecoArch:            convertFlags.recoArch,
					AssumeStraightPages: convertFlags.assumeStraightPages,
					DetectOrientation:   convertFlags.detectOrientation,
					DetectLanguage:      convertFlags.detectLanguage,
				},
			})
			if err != nil {
				return err
			}
		}

		out := convertFlags.outFile
		if out == "" {
			out = filepath.Join(filepath.Dir(args[0]), resp.Filename)
		}
		if err := api.WriteDocument(&api.Document{Body: resp.Body}, out); err != nil {
			return err
		}
		if out != "-" {
			logger.Info("wrote document", "file", out, "pages", resp.Pages, "engine", resp.Engine)
		}
		return nil
	},
}

func readLocalFiles(paths []string) ([]loader.File, error) {
	files := make([]loader.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, loader.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertFlags.outFile, "file", "f", "", "Output file, - for stdout (default: <input>.ocr.pdf or .ocr.zip)")
	f.StringVar(&convertFlags.bundle, "bundle", "", "Render this markup bundle instead of running OCR")
	f.StringVar(&convertFlags.engine, "engine", "", "OCR engine (default: defaults.engine)")
	f.StringSliceVar(&convertFlags.languages, "lang", nil, "Languages, comma-separated")
	f.StringVar(&convertFlags.detArch, "det-arch", "", "Detection architecture")
	f.StringVar(&convertFlags.recoArch, "reco-arch", "", "Recognition architecture")
	f.BoolVar(&convertFlags.assumeStraightPages, "assume-straight-pages", true, "Assume pages are not rotated")
	f.BoolVar(&convertFlags.detectOrientation, "detect-orientation", false, "Detect page orientation")
	f.BoolVar(&convertFlags.detectLanguage, "detect-language", false, "Detect page language")

	rootCmd.AddCommand(convertCmd)
}
