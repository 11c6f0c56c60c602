package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/starpig1129/pigpig-core/internal/chatservice"
	"github.com/starpig1129/pigpig-core/internal/config"
	"github.com/starpig1129/pigpig-core/internal/dispatcher"
	"github.com/starpig1129/pigpig-core/internal/etl"
	"github.com/starpig1129/pigpig-core/internal/llmgateway"
	"github.com/starpig1129/pigpig-core/internal/logging"
	"github.com/starpig1129/pigpig-core/internal/perfmon"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/retry"
	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/summarization"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
	"github.com/starpig1129/pigpig-core/internal/tools"
	"github.com/starpig1129/pigpig-core/internal/tracker"
	"github.com/starpig1129/pigpig-core/internal/vectorization"
	"github.com/starpig1129/pigpig-core/internal/vectorstore"
)

// runServe wires the four core subsystems (LLM Gateway, Episodic Memory
// Pipeline, Action Dispatcher, Structured Logging Sink) plus their shared
// Storage/telemetry dependencies into one running process, then blocks
// until SIGINT/SIGTERM.
func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	reporter := telemetry.NewMailbox(64, slog.Default())
	defer reporter.Stop()

	cfg, err := config.Load(cfgRoot, reporter)
	if err != nil {
		slog.Error("fatal: config load failed", "error", err)
		os.Exit(1)
	}

	sink := logging.Init(logging.Config{
		BasePath:      firstNonEmpty(cfg.Logging.BasePath, "logs"),
		BatchSize:     cfg.Logging.BatchSize,
		FlushInterval: time.Duration(cfg.Logging.FlushIntervalSec) * time.Second,
		FsyncOnFlush:  cfg.Logging.FsyncOnFlush,
		ConsoleColor:  cfg.Logging.ConsoleColor,
		StashPath:     cfg.Logging.StashPath,
	}, reporter)
	defer sink.Stop()

	slog.SetDefault(slog.New(telemetry.NewSinkHandler(func(line string) {
		fmt.Println(line)
	}, cfg.Logging.ConsoleColor, logLevel)))

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: firstNonEmpty(cfg.Telemetry.ServiceName, "pigpig-core"),
	})
	if err != nil {
		slog.Warn("tracing init failed, continuing without export", "error", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	st, err := store.Open(cfg.Database.Path, reporter)
	if err != nil {
		slog.Error("fatal: storage open failed", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	registry := providers.NewRegistry()
	registerProviders(registry, cfg.Providers)

	gateway := llmgateway.New(registry,
		llmgateway.WithPriority(cfg.Providers.Priority),
		llmgateway.WithErrorReporter(reporter),
		llmgateway.WithRetryConfig(retry.Config{
			MaxRetries:     cfg.Gateway.MaxRetries,
			BaseDelay:      time.Duration(cfg.Gateway.BaseDelayMs) * time.Millisecond,
			Jitter:         cfg.Gateway.Jitter,
			TimeoutCeiling: time.Duration(cfg.Gateway.TimeoutCeilSec) * time.Second,
		}),
	)

	embedRegistry := vectorstore.NewEmbeddingRegistry()
	embedProvider, err := embedRegistry.Build(cfg.VectorStore)
	if err != nil {
		slog.Error("fatal: embedding provider build failed", "error", err)
		os.Exit(1)
	}
	vstore, err := openVectorStore(ctx, cfg.VectorStore, embedProvider)
	if err != nil {
		slog.Error("fatal: vector store open failed", "error", err)
		os.Exit(1)
	}

	chat, err := chatservice.NewDiscordChatService(cfg.Discord.Token, cfg.Discord.ChatHost)
	if err != nil {
		slog.Error("fatal: discord session create failed", "error", err)
		os.Exit(1)
	}
	if err := chat.Open(); err != nil {
		slog.Error("fatal: discord gateway open failed", "error", err)
		os.Exit(1)
	}
	defer chat.Close()

	trk := tracker.New(st, reporter)

	summarizer := summarization.New(gateway, reporter)
	vectorizer := vectorization.New(vstore, st, firstNonEmpty(cfg.Memory.Retention, "archive"), reporter)
	pipeline := vectorization.NewPipeline(st, summarizer, vectorizer)

	etlSvc := etl.New(etl.Config{
		TickInterval: time.Duration(cfg.ETL.TickIntervalSec) * time.Second,
		PendingLimit: cfg.ETL.PendingLimit,
		FetchRetries: cfg.ETL.FetchRetries,
		BackoffBase:  time.Duration(cfg.ETL.BackoffBaseSec) * time.Second,
	}, st, chat, trk, pipeline, reporter, slog.Default())

	toolset := buildToolset(reporter, cfg)
	disp := dispatcher.New(dispatcher.Config{
		HistoryWindow:      cfg.Dispatcher.HistoryWindow,
		MaxParallelWorkers: cfg.Dispatcher.MaxParallelWorkers,
		DefaultToolTimeout: time.Duration(cfg.Dispatcher.DefaultToolTimeoutSec) * time.Second,
	}, gateway, toolset, reporter)

	monitor := perfmon.New()
	systemPrompt := buildSystemPrompt(toolset)
	registerMessageHandler(chat, trk, disp, monitor, systemPrompt, reporter)

	go etlSvc.Run(ctx)
	go reportPerf(ctx, monitor)

	slog.Info("pigpig-core started", "config_root", firstNonEmpty(cfgRoot, config.RootDir()))
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

// reportPerf logs a perfmon snapshot every minute until ctx is canceled, so
// dispatch latency and error counts surface in the console/NDJSON log
// without standing up a separate metrics endpoint.
func reportPerf(ctx context.Context, monitor *perfmon.Monitor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := monitor.Snapshot()
			for name, t := range stats.Timers {
				slog.Info("perf timer", "name", name, "count", t.Count, "avg", t.Average, "max", t.Max)
			}
			slog.Info("perf counters", "counters", stats.Counters, "uptime", stats.SessionDuration)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// registerProviders builds and registers every configured LLM vendor
// adapter. A provider with no API key configured is simply skipped; the
// Gateway's failover loop only ever iterates registered providers.
func registerProviders(registry *providers.Registry, cfg config.ProvidersConfig) {
	if cfg.Anthropic.APIKey != "" {
		registry.Register(providers.NewAnthropicProvider(cfg.Anthropic.APIKey,
			providers.WithAnthropicModel(firstNonEmpty(cfg.Anthropic.Model, "claude-3-5-sonnet-latest"))))
	}
	if cfg.OpenAI.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("openai", cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, firstNonEmpty(cfg.OpenAI.Model, "gpt-4o")))
	}
	if cfg.Gemini.APIKey != "" {
		registry.Register(providers.NewOpenAIProvider("google", cfg.Gemini.APIKey,
			firstNonEmpty(cfg.Gemini.APIBase, "https://generativelanguage.googleapis.com/v1beta/openai"),
			firstNonEmpty(cfg.Gemini.Model, "gemini-2.0-flash")))
	}
	if cfg.DashScope.APIKey != "" {
		registry.Register(providers.NewDashScopeProvider(cfg.DashScope.APIKey, cfg.DashScope.APIBase, firstNonEmpty(cfg.DashScope.Model, "qwen-plus")))
	}
}

// openVectorStore prefers a Postgres-backed store when a DSN is configured
// and falls back to the in-process memory store (used by the "base"
// embedding provider and local development) otherwise.
func openVectorStore(ctx context.Context, cfg config.VectorStoreConfig, embed vectorstore.EmbeddingProvider) (vectorstore.Store, error) {
	if cfg.DSN == "" {
		return vectorstore.NewMemoryStore(embed), nil
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	return vectorstore.OpenPGStore(ctx, cfg.DSN, dim, embed)
}

// buildToolset assembles the dispatcher.Tool registry. Tools whose
// configuration prerequisites are unmet (no search provider configured)
// are simply omitted; an unregistered tool name in a plan is reported by
// the Dispatcher, not here.
func buildToolset(reporter telemetry.ErrorReporter, cfg *config.Config) map[string]dispatcher.Tool {
	toolset := map[string]dispatcher.Tool{
		"calculate": tools.NewCalculateTool(reporter),
	}
	if search := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:  os.Getenv("CORE_BRAVE_API_KEY"),
		BraveEnabled: os.Getenv("CORE_BRAVE_API_KEY") != "",
		DDGEnabled:   true,
	}); search != nil {
		toolset["internet_search"] = search
	}
	toolset["web_fetch"] = tools.NewWebFetchTool(tools.WebFetchConfig{})
	return toolset
}

// toolDescriber is satisfied by every tool in internal/tools; it is kept
// separate from dispatcher.Tool because the dispatcher itself only ever
// calls Execute, never the LLM-facing description.
type toolDescriber interface {
	Name() string
	Description() string
}

// buildSystemPrompt lists every available tool's name and description so
// the Gateway's plan-generation call (internal/dispatcher.planActions) knows
// what it may choose between; the Dispatcher never introspects the toolset
// itself, so this is the only place those names are surfaced to the model.
func buildSystemPrompt(toolset map[string]dispatcher.Tool) string {
	var b strings.Builder
	b.WriteString(defaultSystemPromptPreamble)
	b.WriteString("\n\nAvailable tools:\n")
	for _, name := range sortedKeys(toolset) {
		b.WriteString("- ")
		b.WriteString(name)
		if d, ok := toolset[name].(toolDescriber); ok {
			b.WriteString(": ")
			b.WriteString(d.Description())
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sortedKeys(toolset map[string]dispatcher.Tool) []string {
	keys := make([]string, 0, len(toolset))
	for k := range toolset {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
