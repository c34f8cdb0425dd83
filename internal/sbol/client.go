// Package sbol converts sequence files between SBOL, GenBank, FASTA and GFF3
// through the SBOL validator web service.
package sbol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"platecore/internal/config"
)

// Language is a conversion target understood by the validator.
type Language string

const (
	GenBank Language = "GenBank"
	FASTA   Language = "FASTA"
	GFF3    Language = "GFF3"
	SBOL1   Language = "SBOL1"
	SBOL2   Language = "SBOL2"
)

var extensions = map[Language]string{
	GenBank: ".gb",
	FASTA:   ".fasta",
	GFF3:    ".gff",
	SBOL1:   ".sbol",
	SBOL2:   ".sbol",
}

// OutputExtension returns the file extension of converted output.
func OutputExtension(lang Language) (string, bool) {
	ext, ok := extensions[lang]
	return ext, ok
}

// Options mirrors the validator's options block.
type Options struct {
	Language                  Language `json:"language"`
	TestEquality              bool     `json:"test_equality"`
	CheckURICompliance        bool     `json:"check_uri_compliance"`
	CheckCompleteness         bool     `json:"check_completeness"`
	CheckBestPractices        bool     `json:"check_best_practices"`
	FailOnFirstError          bool     `json:"fail_on_first_error"`
	ProvideDetailedStackTrace bool     `json:"provide_detailed_stack_trace"`
	SubsetURI                 string   `json:"subset_uri"`
	URIPrefix                 string   `json:"uri_prefix"`
	Version                   string   `json:"version"`
	InsertType                bool     `json:"insert_type"`
	MainFileName              string   `json:"main_file_name"`
	DiffFileName              string   `json:"diff_file_name"`
}

// DefaultOptions returns the conversion options for lang with every
// optional check disabled.
func DefaultOptions(lang Language, uriPrefix string) Options {
	return Options{
		Language:     lang,
		URIPrefix:    uriPrefix,
		MainFileName: "main file",
		DiffFileName: "comparison file",
	}
}

// Request is the body POSTed to <base>/validate/.
type Request struct {
	Options    Options `json:"options"`
	ReturnFile bool    `json:"return_file"`
	MainFile   string  `json:"main_file"`
}

// Response is the validator reply. Result holds the converted document when
// Valid is true.
type Response struct {
	Valid  bool     `json:"valid"`
	Result string   `json:"result"`
	Errors []string `json:"errors"`
}

// Client talks to a validator instance. Transient failures (connection
// errors, 5xx and 429) are retried.
type Client struct {
	base      string
	uriPrefix string
	http      *retryablehttp.Client
}

// Option configures a Client.
type Option func(*retryablehttp.Client)

// WithRetry sets the retry budget and the minimum wait between attempts.
func WithRetry(maxRetries int, minWait time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = maxRetries
		c.RetryWaitMin = minWait
		if c.RetryWaitMax < minWait {
			c.RetryWaitMax = minWait
		}
	}
}

// WithLogger routes retry diagnostics to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *retryablehttp.Client) { c.Logger = leveledLogger{logger} }
}

// NewClient builds a client for the validator configured in cfg.
func NewClient(cfg config.SBOL, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 3
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{
		base:      strings.TrimRight(cfg.URL, "/"),
		uriPrefix: cfg.URIPrefix,
		http:      rc,
	}
}

// Convert submits mainFile for conversion to lang. An empty uriPrefix falls
// back to the configured prefix; GenBank and FASTA input need one.
func (c *Client) Convert(ctx context.Context, mainFile string, lang Language, uriPrefix string) (Response, error) {
	if _, ok := OutputExtension(lang); !ok {
		return Response{}, fmt.Errorf("unsupported output language %q", lang)
	}
	if uriPrefix == "" {
		uriPrefix = c.uriPrefix
	}
	body, err := json.Marshal(Request{Options: DefaultOptions(lang, uriPrefix), ReturnFile: true, MainFile: mainFile})
	if err != nil {
		return Response{}, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"/validate/", body)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("sbol validator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Response{}, fmt.Errorf("sbol validator: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode validator response: %w", err)
	}
	return out, nil
}

// WriteOutput stores a valid conversion as <dir>/<input stem><ext> and
// returns its path. Invalid responses yield an error listing the validator
// messages.
func WriteOutput(dir, inputName string, lang Language, resp Response) (string, error) {
	if !resp.Valid {
		return "", fmt.Errorf("conversion of %s failed: %s", filepath.Base(inputName), strings.Join(resp.Errors, "; "))
	}
	ext, ok := OutputExtension(lang)
	if !ok {
		return "", fmt.Errorf("unsupported output language %q", lang)
	}
	base := filepath.Base(inputName)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(resp.Result), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ConvertFile reads input, converts it and writes the result into outDir.
func (c *Client) ConvertFile(ctx context.Context, input string, lang Language, uriPrefix, outDir string) (string, error) {
	data, err := os.ReadFile(input) // #nosec G304 -- caller supplied path
	if err != nil {
		return "", err
	}
	resp, err := c.Convert(ctx, string(data), lang, uriPrefix)
	if err != nil {
		return "", err
	}
	return WriteOutput(outDir, input, lang, resp)
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct{ l zerolog.Logger }

func (z leveledLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveledLogger) Info(msg string, kv ...any)  { z.l.Info().Fields(kv).Msg(msg) }
func (z leveledLogger) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveledLogger) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
