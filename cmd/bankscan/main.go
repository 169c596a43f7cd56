package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"bankscan/internal/analysis"
	"bankscan/internal/job"
	"bankscan/internal/statement"
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

	// .env is optional; flags and real environment variables win.
	_ = godotenv.Load()

	fs := ff.NewFlagSet("bankscan")
	var (
		port             = fs.IntLong("port", 8086, "HTTP server port")
		dbPath           = fs.StringLong("db", "bankscan.db", "Job store file path")
		dbDriver         = fs.StringLong("db-driver", "bolt", "Job store driver: 'bolt' or 'sqlite'")
		providerName     = fs.StringLong("provider", "anthropic", "Provider: 'anthropic', 'gemini' or 'ollama'")
		anthropicKey     = fs.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		anthropicURL     = fs.StringLong("anthropic-url", "https://api.anthropic.com", "Anthropic API base URL")
		geminiKey        = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		ollamaURL        = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		model            = fs.StringLong("model", "claude-3-5-haiku-20241022", "Model name for extraction calls")
		maxTokens        = fs.IntLong("max-tokens", 4000, "Maximum output tokens per call")
		pagesPerChunk    = fs.IntLong("pages-per-chunk", 2, "Pages per document chunk")
		rateLimit        = fs.IntLong("rate-limit", 45, "Maximum external calls per minute")
		dailyLimit       = fs.IntLong("daily-cost-limit", 100, "Daily spend ceiling in USD (0 disables)")
		monthlyLimit     = fs.IntLong("monthly-cost-limit", 2000, "Monthly spend ceiling in USD (0 disables)")
		cacheTTL         = fs.IntLong("cache-ttl", 3600, "Response cache TTL in seconds")
		cacheMaxKeys     = fs.IntLong("cache-max-keys", 1000, "Response cache maximum entries")
		timeoutSeconds   = fs.IntLong("timeout", 60, "External call timeout in seconds")
		retryAttempts    = fs.IntLong("retry-attempts", 3, "External call attempts before giving up")
		retryDelayMs     = fs.IntLong("retry-delay", 1000, "Base backoff delay in milliseconds")
		maxUploadMB      = fs.IntLong("max-upload-mb", 50, "Maximum statement upload size in MB")
		batchConcurrency = fs.IntLong("batch-concurrency", 2, "Concurrent documents in a batch request")
		batchStaggerMs   = fs.IntLong("batch-stagger", 100, "Delay between batch document starts in milliseconds")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion      = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("BANKSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize job store
	slog.Info("Initializing job store...", "driver", *dbDriver, "path", *dbPath)
	var store job.Store
	var err error
	switch *dbDriver {
	case "bolt":
		store, err = job.NewBoltStore(*dbPath)
	case "sqlite":
		store, err = job.NewSQLiteStore(*dbPath)
	default:
		slog.Error("Invalid db driver", "driver", *dbDriver, "valid", "bolt or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize job store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize provider based on type
	var provider analysis.Provider
	switch *providerName {
	case "anthropic":
		apiKey := *anthropicKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Anthropic API key is required. Set --anthropic-key flag or ANTHROPIC_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Anthropic provider...", "model", *model)
		provider, err = analysis.NewAnthropic(*anthropicURL, apiKey)
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini provider...", "model", *model)
		provider, err = analysis.NewGemini(apiKey)
	case "ollama":
		slog.Info("Initializing Ollama provider...", "url", *ollamaURL, "model", *model)
		provider, err = analysis.NewOllama(*ollamaURL)
	default:
		slog.Error("Invalid provider", "provider", *providerName, "valid", "anthropic, gemini or ollama")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize provider", "error", err)
		os.Exit(1)
	}

	analyzer := analysis.NewAnalyzer(provider, analysis.Config{
		RequestsPerMinute: *rateLimit,
		DailyCostLimit:    float64(*dailyLimit),
		MonthlyCostLimit:  float64(*monthlyLimit),
		CacheTTL:          time.Duration(*cacheTTL) * time.Second,
		CacheMaxEntries:   *cacheMaxKeys,
		Timeout:           time.Duration(*timeoutSeconds) * time.Second,
		RetryAttempts:     *retryAttempts,
		RetryBaseDelay:    time.Duration(*retryDelayMs) * time.Millisecond,
	})
	defer analyzer.Close()

	// Initialize service
	manager := job.NewManager(store)
	service := statement.NewService(analyzer, manager, statement.Config{
		Model:            *model,
		MaxTokens:        *maxTokens,
		PagesPerChunk:    *pagesPerChunk,
		BatchConcurrency: *batchConcurrency,
		BatchStagger:     time.Duration(*batchStaggerMs) * time.Millisecond,
	})

	// Initialize server
	basicAuth := statement.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := statement.NewServer(service, analyzer, basicAuth, int64(*maxUploadMB)<<20)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
