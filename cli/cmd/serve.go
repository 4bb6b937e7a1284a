package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/kaolin-io/kaolin/cli/config"
	"github.com/kaolin-io/kaolin/lock"
	"github.com/kaolin-io/kaolin/log"
	"github.com/kaolin-io/kaolin/loop"
	"github.com/kaolin-io/kaolin/metrics"
	"github.com/kaolin-io/kaolin/reason"
	"github.com/kaolin-io/kaolin/registry"
	"github.com/kaolin-io/kaolin/runtime"
	"github.com/kaolin-io/kaolin/sandbox"
	"github.com/kaolin-io/kaolin/server"
	"github.com/kaolin-io/kaolin/store"
	"github.com/kaolin-io/kaolin/workspace"
)

// ServeCommand returns the serve command, the service's only execution
// entrypoint.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the kaolin query service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to kaolin.yaml (optional; flags and env override it)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address",
			},
			// Lock / state cache
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis connection URL",
				EnvVars: []string{"KAOLIN_REDIS_URL"},
			},
			&cli.DurationFlag{
				Name:  "lock-ttl",
				Usage: "Session lock expiry",
			},
			// Workspace
			&cli.StringFlag{
				Name:    "bucket",
				Usage:   "Workspace bucket name",
				EnvVars: []string{"KAOLIN_BUCKET"},
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "Workspace bucket region",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Custom S3-compatible endpoint (MinIO, R2)",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Use path-style S3 addressing",
			},
			// Store
			&cli.StringFlag{
				Name:  "store-driver",
				Usage: "Metadata store driver: memory or postgrest",
			},
			&cli.StringFlag{
				Name:    "store-url",
				Usage:   "PostgREST endpoint URL",
				EnvVars: []string{"KAOLIN_STORE_URL"},
			},
			&cli.StringFlag{
				Name:    "store-api-key",
				Usage:   "PostgREST bearer token",
				EnvVars: []string{"KAOLIN_STORE_API_KEY"},
			},
			// Engine
			&cli.StringFlag{
				Name:  "provider",
				Usage: "LLM provider (openai, anthropic, ...)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Model identifier",
			},
			&cli.StringFlag{
				Name:    "llm-api-key",
				Usage:   "LLM provider API key",
				EnvVars: []string{"KAOLIN_LLM_API_KEY"},
			},
			// Sandbox
			&cli.StringFlag{
				Name:    "sandbox-url",
				Usage:   "Code execution service URL",
				EnvVars: []string{"KAOLIN_SANDBOX_URL"},
			},
			&cli.DurationFlag{
				Name:  "sandbox-timeout",
				Usage: "Per-execution timeout",
			},
			// Loop
			&cli.IntFlag{
				Name:  "budget",
				Usage: "Iteration budget per query",
			},
			&cli.StringFlag{
				Name:  "agent-name",
				Usage: "Agent identity stamped on events",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 2)
	}

	logger := log.NewLogger("kaolin")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid redis URL: %v", err), 2)
	}
	redisClient := goredis.NewClient(redisOpts)
	defer redisClient.Close()

	locks := lock.NewWithClient(redisClient, cfg.Redis.LockTTL.Duration)
	state := lock.NewStateCache(redisClient, locks.TTL())

	// The lock must outlive the worst-case loop, or a live query loses
	// its session to a second caller.
	budget := cfg.Loop.Budget
	if budget <= 0 {
		budget = loop.DefaultBudget
	}
	execTimeout := cfg.Sandbox.Timeout.Duration
	if execTimeout <= 0 {
		execTimeout = sandbox.DefaultTimeout
	}
	if worst := time.Duration(budget) * execTimeout; locks.TTL() < worst {
		logger.Warn("lock TTL below worst-case loop duration", map[string]any{
			"ttl":        locks.TTL().String(),
			"worst_case": worst.String(),
		})
	}

	gateway, err := workspace.New(ctx, workspace.S3Config{
		Bucket:       cfg.Workspace.Bucket,
		Region:       cfg.Workspace.Region,
		Endpoint:     cfg.Workspace.Endpoint,
		UsePathStyle: cfg.Workspace.S3PathStyle,
		PresignTTL:   cfg.Workspace.PresignTTL.Duration,
	}, log.NewLogger("workspace"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("workspace setup failed: %v", err), 2)
	}

	st, err := store.New(store.Config{
		Driver: store.Driver(cfg.Store.Driver),
		URL:    cfg.Store.URL,
		APIKey: cfg.Store.APIKey,
		Schema: cfg.Store.Schema,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("store setup failed: %v", err), 2)
	}
	defer st.Close()

	engine, err := reason.NewGollmEngine(reason.GollmConfig{
		Provider:    cfg.Engine.Provider,
		Model:       cfg.Engine.Model,
		APIKey:      cfg.Engine.APIKey,
		MaxTokens:   cfg.Engine.MaxTokens,
		Temperature: cfg.Engine.Temperature,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("engine setup failed: %v", err), 2)
	}

	retries := sandbox.DefaultRetries
	if cfg.Sandbox.Retries != nil {
		retries = *cfg.Sandbox.Retries
	}
	executor, err := sandbox.NewHTTP(sandbox.Config{
		URL:     cfg.Sandbox.URL,
		Timeout: cfg.Sandbox.Timeout.Duration,
		Retries: retries,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("sandbox setup failed: %v", err), 2)
	}

	collector := metrics.NewCollector(cfg.Engine.Provider, "http", cfg.Store.Driver)
	reg := registry.New(st, log.NewLogger("registry"))
	runner := loop.New(engine, executor, loop.Config{
		AgentName: cfg.Loop.AgentName,
		Budget:    cfg.Loop.Budget,
	}, log.NewLogger("loop"))
	orch := runtime.New(locks, gateway, reg, st, runner, state, collector, log.NewLogger("orchestrator"), runtime.Config{
		AgentName: cfg.Loop.AgentName,
	})

	srv := server.New(orch, gateway, reg, st, state, collector, log.NewLogger("server"), server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration,
	})

	logger.Info("kaolin started", map[string]any{
		"addr":     cfg.Server.Addr,
		"store":    cfg.Store.Driver,
		"provider": cfg.Engine.Provider,
		"budget":   cfg.Loop.Budget,
	})

	if err := srv.Run(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("server error: %v", err), 1)
	}
	logger.Info("kaolin stopped", nil)
	return nil
}

// applyFlags overlays set CLI flags on the loaded config.
func applyFlags(c *cli.Context, cfg *config.Config) {
	setString := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	setDuration := func(flag string, dst *time.Duration) {
		if c.IsSet(flag) {
			*dst = c.Duration(flag)
		}
	}

	setString("addr", &cfg.Server.Addr)
	setString("redis-url", &cfg.Redis.URL)
	setDuration("lock-ttl", &cfg.Redis.LockTTL.Duration)
	setString("bucket", &cfg.Workspace.Bucket)
	setString("region", &cfg.Workspace.Region)
	setString("endpoint", &cfg.Workspace.Endpoint)
	if c.IsSet("s3-path-style") {
		cfg.Workspace.S3PathStyle = c.Bool("s3-path-style")
	}
	setString("store-driver", &cfg.Store.Driver)
	setString("store-url", &cfg.Store.URL)
	setString("store-api-key", &cfg.Store.APIKey)
	setString("provider", &cfg.Engine.Provider)
	setString("model", &cfg.Engine.Model)
	setString("llm-api-key", &cfg.Engine.APIKey)
	setString("sandbox-url", &cfg.Sandbox.URL)
	setDuration("sandbox-timeout", &cfg.Sandbox.Timeout.Duration)
	if c.IsSet("budget") {
		cfg.Loop.Budget = c.Int("budget")
	}
	setString("agent-name", &cfg.Loop.AgentName)
}
