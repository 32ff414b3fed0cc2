// Command docext extracts text from documents, one-shot or as a service.
//
// Usage:
//
//	docext extract [-json] [-force-ocr] [-no-ocr] file.pdf [more files...]
//	docext serve [-mcp] [config.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/pearl-OS/PearlOS-sub006/dbopen"
	"github.com/pearl-OS/PearlOS-sub006/docext"
	"github.com/pearl-OS/PearlOS-sub006/docserver"
	"github.com/pearl-OS/PearlOS-sub006/trace"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "extract":
		err = runExtract(ctx, logger, flag.Args()[1:])
	case "serve":
		err = runServe(ctx, logger, flag.Args()[1:])
	default:
		fmt.Fprintf(os.Stderr, "docext: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("docext: fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: docext extract [-json] [-force-ocr] [-no-ocr] FILE... | docext serve [-mcp] [config.yaml]")
	flag.PrintDefaults()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func runExtract(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the full JSON result instead of plain text")
	forceOCR := fs.Bool("force-ocr", false, "always OCR PDFs, skipping direct extraction")
	noOCR := fs.Bool("no-ocr", false, "disable the OCR fallback")
	lang := fs.String("lang", "eng", "OCR language")
	maxMB := fs.Int("max-file-mb", 10, "maximum file size in MiB")
	ocrEndpoint := fs.String("ocr-endpoint", "", "remote OCR recognizer URL")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("extract: at least one file argument is required")
	}
	if *forceOCR && *noOCR {
		return fmt.Errorf("extract: -force-ocr and -no-ocr are mutually exclusive")
	}

	var depOpts []docext.DepsOption
	if *ocrEndpoint != "" {
		depOpts = append(depOpts, docext.WithOCREndpoint(*ocrEndpoint))
	}
	proc := docext.New(docext.Config{
		MaxFileSize: int64(*maxMB) * 1024 * 1024,
		DisableOCR:  *noOCR,
		ForceOCR:    *forceOCR,
		OCRLanguage: *lang,
		Deps:        docext.NewDeps(depOpts...),
		Logger:      logger,
		OnProgress: func(status string) {
			logger.Debug("progress", "status", status)
		},
	})

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, path := range fs.Args() {
		res := proc.ProcessFile(ctx, path)
		if !res.Success {
			failed++
		}
		if *asJSON {
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			continue
		}
		if res.Success {
			fmt.Println(res.Text)
		} else {
			fmt.Fprintf(os.Stderr, "%s: %s\n", res.FileName, res.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("extract: %d of %d files failed", failed, fs.NArg())
	}
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	mcpMode := fs.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	fs.Parse(args)

	cfg := docserver.DefaultConfig()
	if fs.NArg() > 0 {
		loaded, err := docserver.LoadConfig(fs.Arg(0))
		if err != nil {
			return err
		}
		cfg = loaded
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if *mcpMode {
		return runMCP(ctx, logger, cfg)
	}

	srv, err := docserver.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(ctx)
}

// runMCP serves the extraction tools over stdio. Logs go to stderr so
// the stdout framing stays clean.
func runMCP(ctx context.Context, logger *slog.Logger, cfg *docserver.Config) error {
	pc := cfg.ProcessorConfig()
	pc.Logger = logger

	var depOpts []docext.DepsOption
	if cfg.OCR.Endpoint != "" {
		depOpts = append(depOpts, docext.WithOCREndpoint(cfg.OCR.Endpoint))
	}
	pc.Deps = docext.NewDeps(depOpts...)

	switch {
	case cfg.TraceURL != "":
		rs := trace.NewRemoteStore(cfg.TraceURL, nil)
		defer rs.Close()
		pc.Recorder = rs
	case cfg.TraceDB != "":
		db, err := dbopen.Open(cfg.TraceDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSchema(trace.Schema),
		)
		if err != nil {
			return fmt.Errorf("open trace db: %w", err)
		}
		defer db.Close()
		store := trace.NewStore(db)
		defer store.Close()
		pc.Recorder = store
	}

	proc := docext.New(pc)
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "docext",
		Version: "1.0.0",
	}, nil)
	proc.RegisterMCP(srv)

	logger.Info("mcp stdio server starting")
	return srv.Run(ctx, &mcp.StdioTransport{})
}
