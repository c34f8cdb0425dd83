// Command platecore runs the plate service and its batch tools.
//
//	platecore serve                      start the HTTP API
//	platecore plate -name P1 -wells 96   create a standard plate
//	platecore apply -policy skip list.csv
//	platecore sbol -lang GenBank in.xml
//	platecore sbml -model model.toml
//	platecore plasmid -out maps record.gb
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"platecore/internal/adapters/httpapi"
	"platecore/internal/blob"
	"platecore/internal/config"
	"platecore/internal/core"
	"platecore/internal/logging"
	"platecore/internal/plasmid"
	"platecore/internal/report"
	"platecore/internal/sbml"
	"platecore/internal/sbol"
	"platecore/pkg/domain"
	"platecore/plugins/echo"
)

var (
	exitFunc = os.Exit
	now      = time.Now
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

const usage = `usage: platecore <command> [flags]

commands:
  serve   start the HTTP API
  plate   create a standard plate
  apply   execute a picklist CSV
  sbol    convert a sequence file with the SBOL validator
  sbml    export an ODE model as SBML
  plasmid draw linear and circular maps of a GenBank record
`

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "serve":
		err = serveCmd(rest, stderr)
	case "plate":
		err = plateCmd(rest, stdout, stderr)
	case "apply":
		err = applyCmd(rest, stdout, stderr)
	case "sbol":
		err = sbolCmd(rest, stdout, stderr)
	case "sbml":
		err = sbmlCmd(rest, stdout, stderr)
	case "plasmid":
		err = plasmidCmd(rest, stdout, stderr)
	case "-h", "-help", "--help", "help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", cmd, usage)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp), errors.Is(err, errUsage):
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "platecore %s: %v\n", cmd, err)
		return 1
	}
}

var errUsage = errors.New("usage")

type common struct {
	configPath string
	dotenv     string
	echo       bool
}

func newFlagSet(name string, stderr io.Writer, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.configPath, "config", "platecore.toml", "path to TOML config")
	fs.StringVar(&c.dotenv, "env", ".env", "path to dotenv file")
	fs.BoolVar(&c.echo, "echo", false, "install the echo plugin enforcing 2.5 nL droplets")
	return fs
}

// env bundles what the service-backed commands share.
type env struct {
	cfg    config.Config
	logger zerolog.Logger
	svc    *core.Service
	close  func()
}

func setup(ctx context.Context, c common, stderr io.Writer, metrics *core.Metrics) (*env, error) {
	cfg, err := config.Load(c.dotenv, c.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(ctx, cfg.Storage, engine)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	closeStore := func() {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error().Err(err).Msg("close store")
			}
		}
	}
	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("open archive: %w", err)
	}
	svc := core.NewService(store, engine,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithArchive(archive),
	)
	if c.echo {
		if _, err := svc.InstallPlugin(echo.New(0)); err != nil {
			closeStore()
			return nil, err
		}
	}
	logger.Debug().
		Str("storage", cfg.Storage.Driver).
		Str("blob", string(archive.Driver())).
		Msg("service ready")
	return &env{cfg: cfg, logger: logger, svc: svc, close: closeStore}, nil
}

func serveCmd(args []string, stderr io.Writer) error {
	var c common
	fs := newFlagSet("serve", stderr, &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, c, stderr, core.DefaultMetrics())
	if err != nil {
		return err
	}
	defer e.close()

	router := httpapi.NewRouter(e.svc, httpapi.Options{Logger: e.logger, Gatherer: prometheus.DefaultGatherer})
	errCh := make(chan error, 1)
	go func() {
		e.logger.Info().Str("addr", e.cfg.HTTP.Addr).Msg("listening")
		errCh <- router.Start(e.cfg.HTTP.Addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.logger.Info().Msg("shutting down")
	return router.Shutdown(shutdownCtx)
}

func plateCmd(args []string, stdout, stderr io.Writer) error {
	var (
		c        common
		name     string
		wells    int
		capacity float64
	)
	fs := newFlagSet("plate", stderr, &c)
	fs.StringVar(&name, "name", "", "plate name")
	fs.IntVar(&wells, "wells", 96, "standard well count (6 to 1536)")
	fs.Float64Var(&capacity, "capacity", 0, "per-well capacity in liters, 0 for unbounded")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if name == "" {
		fs.Usage()
		return errUsage
	}
	spec, err := domain.StandardSpec(name, wells, capacity)
	if err != nil {
		return err
	}
	ctx := context.Background()
	e, err := setup(ctx, c, stderr, nil)
	if err != nil {
		return err
	}
	defer e.close()
	snap, _, err := e.svc.CreatePlate(ctx, spec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "created plate %s (%d wells)\n", snap.Name, len(snap.Wells))
	return err
}

func applyCmd(args []string, stdout, stderr io.Writer) error {
	var (
		c       common
		policy  string
		archive bool
	)
	fs := newFlagSet("apply", stderr, &c)
	fs.StringVar(&policy, "policy", string(domain.PolicyAbort), "failure policy: abort or skip")
	fs.BoolVar(&archive, "archive", false, "write the run report to the blob archive")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "apply takes one picklist CSV file")
		return errUsage
	}
	pol, err := domain.ParsePolicy(policy)
	if err != nil {
		return err
	}
	requests, err := readPicklist(fs.Arg(0))
	if err != nil {
		return err
	}
	ctx := context.Background()
	e, err := setup(ctx, c, stderr, nil)
	if err != nil {
		return err
	}
	defer e.close()
	run, res, err := e.svc.ExecutePicklist(ctx, pol, requests)
	if err != nil {
		return err
	}
	for _, v := range res.Violations {
		_, _ = fmt.Fprintf(stderr, "%s: %s: %s\n", v.Severity, v.Rule, v.Message)
	}
	if _, err := fmt.Fprint(stdout, report.Summary(run)); err != nil {
		return err
	}
	if !archive {
		return nil
	}
	infos, err := e.svc.ExportRunReport(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, info := range infos {
		_, _ = fmt.Fprintf(stdout, "archived %s\n", info.Key)
	}
	return nil
}

func readPicklist(path string) (reqs []domain.TransferRequest, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return domain.ParseTransferRequestsCSV(f)
}

func sbolCmd(args []string, stdout, stderr io.Writer) error {
	var (
		c      common
		lang   string
		outDir string
		prefix string
	)
	fs := newFlagSet("sbol", stderr, &c)
	fs.StringVar(&lang, "lang", string(sbol.GenBank), "output language: GenBank, FASTA, GFF3, SBOL1 or SBOL2")
	fs.StringVar(&outDir, "out", ".", "output directory")
	fs.StringVar(&prefix, "uri-prefix", "", "URI prefix, defaults to the configured one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "sbol takes one input file")
		return errUsage
	}
	cfg, err := config.Load(c.dotenv, c.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(stderr, cfg.Log)
	if err != nil {
		return err
	}
	if prefix == "" {
		prefix = cfg.SBOL.URIPrefix
	}
	client := sbol.NewClient(cfg.SBOL, sbol.WithLogger(logger))
	out, err := client.ConvertFile(context.Background(), fs.Arg(0), sbol.Language(lang), prefix, outDir)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, out)
	return err
}

// modelFile is the TOML layout accepted by the sbml command.
type modelFile struct {
	ID         string    `toml:"id"`
	Variables  []string  `toml:"variables"`
	Initial    []float64 `toml:"initial"`
	Equations  []string  `toml:"equations"`
	Parameters []struct {
		Name  string  `toml:"name"`
		Value float64 `toml:"value"`
		Unit  string  `toml:"unit"`
	} `toml:"parameters"`
}

func sbmlCmd(args []string, stdout, stderr io.Writer) (err error) {
	var modelPath, outPath string
	fs := flag.NewFlagSet("sbml", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&modelPath, "model", "", "TOML model file")
	fs.StringVar(&outPath, "out", "", "output file, defaults to YYMMDD_HHMM.xml")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if modelPath == "" {
		fs.Usage()
		return errUsage
	}
	var mf modelFile
	if _, err := toml.DecodeFile(modelPath, &mf); err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	names := make([]string, len(mf.Parameters))
	values := make([]float64, len(mf.Parameters))
	units := make([]string, len(mf.Parameters))
	for i, p := range mf.Parameters {
		names[i], values[i], units[i] = p.Name, p.Value, p.Unit
	}
	model, err := sbml.Build(mf.Equations, mf.Variables, mf.Initial, names, values, units)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = sbml.DefaultFilename(now())
	}
	f, err := os.Create(filepath.Clean(outPath))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := model.Export(f); err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, outPath)
	return err
}

func plasmidCmd(args []string, stdout, stderr io.Writer) error {
	var outDir string
	fs := flag.NewFlagSet("plasmid", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&outDir, "out", ".", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "plasmid takes one GenBank file")
		return errUsage
	}
	id, files, err := plasmid.Export(fs.Arg(0), outDir)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, id)
	for _, f := range files {
		if _, err := fmt.Fprintln(stdout, f); err != nil {
			return err
		}
	}
	return nil
}
