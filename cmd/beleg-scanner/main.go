package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/beleg-scanner/internal/export"
	"github.com/zombor/beleg-scanner/internal/extraction"
	"github.com/zombor/beleg-scanner/internal/review"
	"github.com/zombor/beleg-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine, flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("beleg-scanner")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		scannerType = fs.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY / GOOGLE_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, bakllava, qwen2-vl)")
		concurrency = fs.IntLong("concurrency", extraction.DefaultConcurrency, "Maximum number of documents sent to the model at once")
		timeout     = fs.DurationLong("timeout", extraction.DefaultTimeout, "Timeout for a single model call")
		sessionDB   = fs.StringLong("session-db", "", "Scratch file for batch sessions (kept in memory when empty)")
		outPath     = fs.StringLong("out", "", "CSV output file for command line batches (stdout when empty)")
		noBOM       = fs.BoolLong("no-bom", "Omit the UTF-8 byte order mark from CSV output")
		inputOrder  = fs.BoolLong("input-order", "Write CSV rows in input order instead of completion order")
		listModels  = fs.BoolLong("list-models", "List the Gemini models that support content generation and exit")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BELEG_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx := context.Background()

	apiKey := *geminiKey
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if apiKey == "" {
			apiKey = os.Getenv(env)
		}
	}

	if *listModels {
		if err := printModels(ctx, apiKey, os.Stdout); err != nil {
			slog.Error("Failed to list models", "error", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize extractor based on type
	var extractor scanning.Extractor
	var err error
	switch *scannerType {
	case "gemini":
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		extractor, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if errors.Is(err, scanning.ErrMissingAPIKey) {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		extractor, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer extractor.Close()

	cfg := extraction.Config{
		Concurrency: *concurrency,
		Timeout:     *timeout,
		InputOrder:  *inputOrder,
	}
	runner := extraction.NewRunner(extractor, extraction.NewNormalizer(nil), cfg)

	if files := fs.GetArgs(); len(files) > 0 {
		if err := runFiles(ctx, runner, files, *outPath, !*noBOM); err != nil {
			slog.Error("Batch failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(runner, *sessionDB, *port); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func printModels(ctx context.Context, apiKey string, w io.Writer) error {
	gemini, err := scanning.NewGemini(ctx, apiKey, "")
	if err != nil {
		return err
	}
	defer gemini.Close()

	names, err := gemini.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}

// runFiles processes the given files once and writes the CSV. Ctrl-C stops
// new model calls; the CSV is still written with the cancelled documents
// flagged.
func runFiles(ctx context.Context, runner *extraction.Runner, paths []string, outPath string, withBOM bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs := make([]*scanning.Document, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		if !scanning.Supported(name) {
			slog.Warn("Unsupported file type, it will be flagged", "filename", name)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			// an empty document still yields a flagged row
			slog.Error("Error reading file", "filename", name, "error", err)
		}
		docs = append(docs, &scanning.Document{
			Name:        name,
			Data:        data,
			ContentType: scanning.ContentTypeFor(name, ""),
		})
	}

	rs := runner.Run(ctx, docs, func(p extraction.Progress) {
		slog.Info("Processed document", "completed", p.Completed, "total", p.Total, "filename", p.Current)
	})

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := export.WriteCSV(w, rs.Records(), withBOM); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	slog.Info("Batch exported",
		"documents", rs.Len(),
		"failed", rs.Failed(),
		"total", fmt.Sprintf("%.2f", rs.Total()),
	)
	return nil
}

func serve(runner *extraction.Runner, sessionDB string, port int) error {
	var db review.DB = review.NewMemoryDB()
	if sessionDB != "" {
		slog.Info("Initializing session database...", "path", sessionDB)
		boltDB, err := review.NewBoltDB(sessionDB)
		if err != nil {
			return fmt.Errorf("initializing session database: %w", err)
		}
		db = boltDB
	}
	defer db.Close()

	service := review.NewService(db, runner)
	server := review.NewServer(service)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", port)
	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errChan:
		return err
	case <-sigChan:
	}

	slog.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
	service.Shutdown()
	return nil
}
