package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"github.com/jackzampolin/ocrpdf/internal/device"
	"github.com/jackzampolin/ocrpdf/internal/hocr"
	"github.com/jackzampolin/ocrpdf/internal/loader"
)

const (
	RemoteDefaultDetArch  = "fast_base"
	RemoteDefaultRecoArch = "crnn_vgg16_bn"
)

// RemoteConfig holds configuration for a docTR-compatible model server.
type RemoteConfig struct {
	Name            string
	URL             string
	APIKey          string
	Languages       []string
	DetArchs        []string
	RecoArchs       []string
	DefaultDetArch  string
	DefaultRecoArch string

	// ReleasePath, if set, is POSTed after every inference call so the server
	// can drop cached accelerator memory.
	ReleasePath string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  float64 // Requests per second (0 = unlimited)
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RemoteEngine implements Engine against an HTTP model server.
type RemoteEngine struct {
	cfg     RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRemote creates a remote engine.
func NewRemote(cfg RemoteConfig) *RemoteEngine {
	if cfg.Name == "" {
		cfg.Name = TypeRemote
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.DefaultDetArch == "" {
		cfg.DefaultDetArch = RemoteDefaultDetArch
	}
	if cfg.DefaultRecoArch == "" {
		cfg.DefaultRecoArch = RemoteDefaultRecoArch
	}
	if len(cfg.DetArchs) == 0 {
		cfg.DetArchs = []string{cfg.DefaultDetArch}
	}
	if len(cfg.RecoArchs) == 0 {
		cfg.RecoArchs = []string{cfg.DefaultRecoArch}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &RemoteEngine{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger,
	}
}

// Name returns the engine identifier.
func (e *RemoteEngine) Name() string {
	return e.cfg.Name
}

// Info describes the remote engine.
func (e *RemoteEngine) Info() Info {
	return Info{
		Name:      e.cfg.Name,
		Type:      TypeRemote,
		Languages: slices.Clone(e.cfg.Languages),
		DetArchs:  slices.Clone(e.cfg.DetArchs),
		RecoArchs: slices.Clone(e.cfg.RecoArchs),
	}
}

// Validate checks opts against the server's advertised architectures.
func (e *RemoteEngine) Validate(opts Options) error {
	if len(e.cfg.Languages) > 0 {
		if err := checkLanguages(opts.Languages, e.cfg.Languages); err != nil {
			return err
		}
	}
	if err := checkChoice("det_arch", opts.DetArch, e.cfg.DetArchs); err != nil {
		return err
	}
	return checkChoice("reco_arch", opts.RecoArch, e.cfg.RecoArchs)
}

// Recognize uploads every page in one request and maps the response back
// onto the input order.
func (e *RemoteEngine) Recognize(ctx context.Context, dev device.Context, pages []loader.Page, opts Options) (*Result, error) {
	if e.cfg.ReleasePath != "" {
		dev.OnRelease(func() error { return e.release() })
	}

	body, contentType, err := e.buildRequest(pages, opts)
	if err != nil {
		return nil, err
	}
	dev.Alloc(int64(len(body)))

	var resp []remotePage
	err = retry.Do(
		func() error {
			if err := e.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			r, err := e.doRequest(ctx, body, contentType)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.cfg.MaxRetries)),
		retry.Delay(e.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			e.logger.Warn("retrying remote recognition", "engine", e.cfg.Name, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}

	if len(resp) != len(pages) {
		return nil, fmt.Errorf("remote engine returned %d pages for %d inputs", len(resp), len(pages))
	}

	res := &Result{Engine: e.cfg.Name, Pages: make([]PageResult, len(pages))}
	for i, p := range pages {
		res.Pages[i] = resp[i].toPageResult(p)
	}
	return res, nil
}

func (e *RemoteEngine) buildRequest(pages []loader.Page, opts Options) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	detArch := opts.DetArch
	if detArch == "" {
		detArch = e.cfg.DefaultDetArch
	}
	recoArch := opts.RecoArch
	if recoArch == "" {
		recoArch = e.cfg.DefaultRecoArch
	}

	fields := [][2]string{
		{"det_arch", detArch},
		{"reco_arch", recoArch},
		{"assume_straight_pages", strconv.FormatBool(opts.AssumeStraightPages)},
		{"detect_orientation", strconv.FormatBool(opts.DetectOrientation)},
		{"detect_language", strconv.FormatBool(opts.DetectLanguage)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	for _, p := range pages {
		part, err := mw.CreateFormFile("files", fmt.Sprintf("page-%06d%s", p.Index, p.Ext()))
		if err != nil {
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(p.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write page %d: %w", p.Index, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (e *RemoteEngine) doRequest(ctx context.Context, body []byte, contentType string) ([]remotePage, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", e.cfg.URL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, retry.Unrecoverable(err)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("remote engine error (status %d): %s", resp.StatusCode, truncate(respBody, 300))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retry.Unrecoverable(err)
	}

	var pages []remotePage
	if err := json.Unmarshal(respBody, &pages); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return pages, nil
}

// release asks the server to free accelerator memory. It uses its own
// short-lived context since it runs after the request may have ended.
func (e *RemoteEngine) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", e.cfg.URL+e.cfg.ReleasePath, nil)
	if err != nil {
		return err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("release request failed: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("release failed with status %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// docTR API types. Geometry is [xmin, ymin, xmax, ymax] relative to the page.

type remotePage struct {
	Name        string               `json:"name"`
	Orientation remoteScored[int]    `json:"orientation"`
	Language    remoteScored[string] `json:"language"`
	Dimensions  []int                `json:"dimensions"`
	Items       []remoteItem         `json:"items"`
}

type remoteScored[T any] struct {
	Value      *T       `json:"value"`
	Confidence *float64 `json:"confidence"`
}

type remoteItem struct {
	Blocks []remoteBlock `json:"blocks"`
}

type remoteBlock struct {
	Geometry []float64    `json:"geometry"`
	Lines    []remoteLine `json:"lines"`
}

type remoteLine struct {
	Geometry []float64    `json:"geometry"`
	Words    []remoteWord `json:"words"`
}

type remoteWord struct {
	Value           string            `json:"value"`
	Geometry        []float64         `json:"geometry"`
	Confidence      float64           `json:"confidence"`
	CropOrientation remoteScored[int] `json:"crop_orientation"`
}

func (p remotePage) toPageResult(page loader.Page) PageResult {
	w, h := float64(page.Width), float64(page.Height)
	box := func(g []float64) hocr.BBox {
		if len(g) < 4 {
			return hocr.BBox{}
		}
		return hocr.BBox{X1: g[0] * w, Y1: g[1] * h, X2: g[2] * w, Y2: g[3] * h}
	}

	res := PageResult{Index: page.Index, Width: page.Width, Height: page.Height}
	if p.Orientation.Value != nil {
		res.Orientation = &Orientation{Degrees: *p.Orientation.Value, Confidence: deref(p.Orientation.Confidence)}
	}
	if p.Language.Value != nil {
		res.Language = &Language{Value: *p.Language.Value, Confidence: deref(p.Language.Confidence)}
	}

	for _, item := range p.Items {
		for _, b := range item.Blocks {
			block := Block{Box: box(b.Geometry)}
			for _, l := range b.Lines {
				line := Line{Box: box(l.Geometry)}
				for _, rw := range l.Words {
					word := Word{Value: rw.Value, Box: box(rw.Geometry), Confidence: rw.Confidence}
					if rw.CropOrientation.Value != nil {
						word.CropOrientation = &Orientation{
							Degrees:    *rw.CropOrientation.Value,
							Confidence: deref(rw.CropOrientation.Confidence),
						}
					}
					line.Words = append(line.Words, word)
				}
				block.Lines = append(block.Lines, line)
			}
			res.Blocks = append(res.Blocks, block)
		}
	}
	return res
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// Verify interface
var _ Engine = (*RemoteEngine)(nil)
