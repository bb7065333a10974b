// Command oxy runs a small multi-agent system from a TOML config: one
// chat LLM, a function hub with a few built-in tools, a ReAct agent in
// front of them, and a trace/history store. It reads a query from the
// command line and prints the answer.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	oxy "github.com/oxyrun/oxy"
	"github.com/oxyrun/oxy/internal/config"
	"github.com/oxyrun/oxy/mcp"
	"github.com/oxyrun/oxy/observer"
	"github.com/oxyrun/oxy/provider/httpchat"
	"github.com/oxyrun/oxy/store"
	"github.com/oxyrun/oxy/store/memory"
	"github.com/oxyrun/oxy/store/postgres"
	"github.com/oxyrun/oxy/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config
	cfg, err := config.Load(os.Getenv("OXY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	// 2. Optional OTEL export
	tracer := oxy.Tracer(nil)
	metrics := oxy.Metrics(nil)
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, cfg.Observer.Service)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(context.Background())
		tracer = observer.NewTracer()
		metrics = observer.NewMetrics(inst)
	}

	// 3. Store
	st, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	// 4. Provider with transient-error retry
	provider := oxy.WithRetry(
		httpchat.New(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, httpchat.WithLogger(logger)),
		oxy.RetryMaxAttempts(cfg.LLM.Retries+1),
		oxy.RetryLogger(logger),
	)

	// 5. Registry and components. The MCP client outlives the registry
	// so in-flight tool calls drain before the pipe closes.
	var mcpClient *mcp.Client
	defer func() {
		if mcpClient != nil {
			mcpClient.Close()
		}
	}()

	mas := oxy.NewMAS(cfg.Name,
		oxy.WithStore(st),
		oxy.WithMASLogger(logger),
		oxy.WithTracer(tracer),
		oxy.WithMetrics(metrics),
	)
	defer mas.Close()

	mas.MustRegister(oxy.NewLLM("chat_llm", provider,
		oxy.WithTimeout(cfg.LLM.Timeout.Std()),
		oxy.WithPermits(cfg.LLM.Permits),
	))

	hub := oxy.NewFunctionHub()
	if err := registerBuiltins(hub); err != nil {
		log.Fatalf("register tools: %v", err)
	}
	if err := mas.RegisterHub(hub); err != nil {
		log.Fatalf("register hub: %v", err)
	}

	tools := hub.Names()
	if cfg.MCP.Command != "" {
		client, err := mas.RegisterMCP(ctx, "mcp", cfg.MCP.Command, cfg.MCP.Args)
		if err != nil {
			log.Fatalf("register mcp: %v", err)
		}
		mcpClient = client
		defs, err := client.ListTools(ctx)
		if err != nil {
			log.Fatalf("list mcp tools: %v", err)
		}
		for _, def := range defs {
			tools = append(tools, "mcp_"+def.Name)
		}
	}
	if cfg.Transport.Endpoint != "" {
		mas.MustRegister(oxy.NewSSEAgent("remote", cfg.Transport.Endpoint,
			oxy.WithDescription("Remote agent system."),
			oxy.WithTopologyURL(cfg.Transport.TopologyURL),
			oxy.WithMaxRetries(cfg.Transport.MaxRetries),
			oxy.WithRetryDelay(cfg.Transport.RetryDelay.Std()),
			oxy.WithStreamWait(cfg.Transport.StreamWait.Std()),
		))
		tools = append(tools, "remote")
	}

	mas.MustRegister(oxy.NewReActAgent("assistant", "chat_llm",
		oxy.WithDescription("General assistant with text utilities."),
		oxy.WithTools(tools...),
	))

	if err := mas.Start(ctx); err != nil {
		log.Fatalf("start: %v", err)
	}
	logger.Info("topology", "tree", mas.Topology().String())

	// 6. Run the query
	query := strings.Join(os.Args[1:], " ")
	if query == "" {
		query = "What can you do?"
	}
	resp := mas.Chat(ctx, "assistant", query)
	if resp.Failed() {
		log.Fatalf("request failed: %s", resp.OutputString())
	}
	fmt.Println(resp.OutputString())
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s := sqlite.New(cfg.Store.Path)
		if err := s.Init(ctx); err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, func() { pool.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// registerBuiltins wires a few local utility tools so the demo works
// without any external tool servers.
func registerBuiltins(hub *oxy.FunctionHub) error {
	err := hub.Register("word_count", "Count the words in a text.",
		func(ctx context.Context, args map[string]any) (any, error) {
			text, _ := args["text"].(string)
			return len(strings.Fields(text)), nil
		},
		[]oxy.ParamMeta{
			{Name: "text", Description: "The text to count.", Type: "string", Required: true},
		})
	if err != nil {
		return err
	}

	return hub.Register("trace_info", "Report the current trace and session identifiers.",
		func(ctx context.Context, args map[string]any) (any, error) {
			req, _ := args["request"].(*oxy.Request)
			if req == nil {
				return nil, fmt.Errorf("no request in scope")
			}
			return map[string]any{
				"trace_id": req.TraceID,
				"node_id":  req.NodeID,
				"session":  req.Session,
			}, nil
		},
		[]oxy.ParamMeta{
			{Name: "request", Kind: oxy.ParamRequest},
		})
}
