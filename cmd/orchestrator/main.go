// Command orchestrator is the reference entrypoint that wires the Planner
// Core, Workflow Engine, Provider Registry, and Memory Repository together
// for local operation: a line-oriented REPL that turns one request into a
// Plan, executes it, and prints the resulting WorkflowResult as JSON.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basegraph-labs/orchestrator/common/id"
	"github.com/basegraph-labs/orchestrator/common/logger"
	"github.com/basegraph-labs/orchestrator/common/otel"
	"github.com/basegraph-labs/orchestrator/core/config"
	"github.com/basegraph-labs/orchestrator/internal/agent"
	"github.com/basegraph-labs/orchestrator/internal/domain"
	"github.com/basegraph-labs/orchestrator/internal/eventbus"
	"github.com/basegraph-labs/orchestrator/internal/execqueue"
	"github.com/basegraph-labs/orchestrator/internal/memory"
	"github.com/basegraph-labs/orchestrator/internal/planner"
	"github.com/basegraph-labs/orchestrator/internal/provider"
	"github.com/basegraph-labs/orchestrator/internal/queue"
	"github.com/basegraph-labs/orchestrator/internal/workflow"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()
	logger.Setup(cfg)

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.ErrorContext(ctx, "telemetry shutdown error", "error", err)
			}
		}()
	}

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	bus := eventbus.New()
	logEvents(bus)

	mem, err := memory.Open(ctx, memory.Config{
		Path:          cfg.Memory.DBPath,
		CacheSize:     cfg.Memory.CacheSize,
		CacheTTL:      time.Duration(cfg.Memory.CacheTTLSeconds) * time.Second,
		SeedDirectory: cfg.Memory.SeedDir,
	}, bus)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open memory repository", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "memory repository opened", "path", cfg.Memory.DBPath)

	providers := provider.NewRegistry(bus)
	if err := registerProviders(providers, cfg); err != nil {
		slog.ErrorContext(ctx, "failed to register providers", "error", err)
		os.Exit(1)
	}
	providers.SetActive(cfg.ActiveProvider)
	if err := providers.Initialize(ctx); err != nil {
		slog.WarnContext(ctx, "one or more providers failed to initialize", "error", err)
	}

	queueCore := execqueue.New(bus)
	plannerCore := planner.New(queueCore, bus, "planner/output")
	agents := agent.NewDefaultRegistry(providers, mem)
	checkpoints := workflow.NewCheckpointStore(cfg.Workflow.CheckpointDir)

	var dispatcher queue.Producer
	var redisClient *redis.Client
	if cfg.Dispatch.RedisURL != "" {
		redisClient, dispatcher, err = connectDispatch(ctx, cfg.Dispatch)
		if err != nil {
			slog.ErrorContext(ctx, "failed to connect dispatch mirror transport", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "dispatch mirror transport connected", "url", cfg.Dispatch.RedisURL)
	}

	engine := workflow.New(agents, bus, checkpoints, dispatcher)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.InfoContext(ctx, "shutdown signal received")
		cancel()
	}()

	runREPL(ctx, plannerCore, engine, cfg.Workflow)

	slog.InfoContext(ctx, "closing memory repository")
	if err := mem.Close(); err != nil {
		slog.ErrorContext(ctx, "memory close error", "error", err)
	}
	if dispatcher != nil {
		if err := dispatcher.Close(); err != nil {
			slog.ErrorContext(ctx, "dispatch producer close error", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.ErrorContext(ctx, "redis close error", "error", err)
		}
	}
	slog.InfoContext(ctx, "shutdown complete")
}

// registerProviders builds one adapter per configured provider entry and
// registers it with opts translated from core/config.ProviderConfig.
func registerProviders(registry *provider.Registry, cfg config.Config) error {
	for name, pc := range cfg.Providers {
		adapterCfg := provider.AdapterConfig{
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Timeout: time.Duration(pc.TimeoutMs) * time.Millisecond,
		}

		var (
			adapter provider.Adapter
			err     error
		)
		switch pc.Type {
		case "anthropic":
			adapter, err = provider.NewAnthropicAdapter(name, adapterCfg)
		case "local":
			adapter, err = provider.NewLocalAdapter(name, adapterCfg)
		default:
			adapter, err = provider.NewOpenAIAdapter(name, adapterCfg)
		}
		if err != nil {
			return fmt.Errorf("build adapter %s: %w", name, err)
		}

		registry.RegisterProvider(name, provider.RegisterOptions{
			Adapter:      adapter,
			MaxTokens:    float64(pc.RateLimit.MaxTokens),
			RefillRate:   float64(pc.RateLimit.RefillRate),
			RefillPeriod: time.Duration(pc.RateLimit.RefillIntervalMs) * time.Millisecond,
			Breaker: provider.BreakerSettings{
				FailureThreshold: uint32(pc.Breaker.FailureThreshold),
				SuccessThreshold: uint32(pc.Breaker.SuccessThreshold),
				Cooldown:         time.Duration(pc.Breaker.CooldownMs) * time.Millisecond,
			},
			MaxRetries: pc.MaxRetries,
			RetryDelay: time.Duration(pc.RetryDelayMs) * time.Millisecond,
		})
		slog.InfoContext(context.Background(), "provider registered", "name", name, "type", pc.Type, "model", pc.Model)
	}
	return nil
}

func connectDispatch(ctx context.Context, cfg config.DispatchConfig) (*redis.Client, queue.Producer, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dispatch redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping dispatch redis: %w", err)
	}
	return client, queue.NewRedisProducer(client, "workflow-dispatch"), nil
}

// runREPL reads one request per line from stdin, plans it, executes the
// plan, and prints the WorkflowResult as JSON. A blank line or EOF ends the
// session; ctx cancellation (shutdown signal) aborts the in-flight run.
func runREPL(ctx context.Context, plannerCore *planner.Core, engine *workflow.Engine, wf config.WorkflowConfig) {
	fmt.Fprintln(os.Stderr, "orchestrator ready. Enter a request (blank line or Ctrl-D to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if ctx.Err() != nil {
			return
		}

		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return
		}

		request := strings.TrimSpace(scanner.Text())
		if request == "" {
			return
		}

		plan, err := plannerCore.CreatePlan(ctx, domain.PlannerInput{Request: request})
		if err != nil {
			fmt.Fprintf(os.Stderr, "plan failed: %v\n", err)
			continue
		}
		slog.InfoContext(ctx, "plan created", "planId", plan.PlanID, "steps", len(plan.Steps))

		result, err := engine.Execute(ctx, plan, workflow.Options{
			Mode:                 wf.Mode,
			MaxRetries:           wf.MaxRetries,
			TimeoutMs:            wf.TimeoutMs,
			CheckpointIntervalMs: wf.CheckpointIntervalMs,
			Parallelism:          wf.Parallelism,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "execute failed: %v\n", err)
			continue
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "marshal result failed: %v\n", err)
			continue
		}
		fmt.Println(string(out))
	}
}

// logEvents subscribes to every bus event and logs it at debug level, a
// lightweight stand-in for the external observability surface (metrics,
// audit log) that would consume this bus in a full deployment.
func logEvents(bus eventbus.Bus) {
	bus.SubscribeAll(func(ctx context.Context, event domain.Event) error {
		slog.DebugContext(ctx, "event published", "type", event.Type, "eventId", event.ID)
		return nil
	})
}
