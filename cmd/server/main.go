package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/tripplanner/agentcore/internal/agents/specialist"
	"github.com/tripplanner/agentcore/internal/authmw"
	"github.com/tripplanner/agentcore/internal/cache"
	"github.com/tripplanner/agentcore/internal/chat"
	"github.com/tripplanner/agentcore/internal/config"
	"github.com/tripplanner/agentcore/internal/database"
	"github.com/tripplanner/agentcore/internal/idsign"
	"github.com/tripplanner/agentcore/internal/llm/providers"
	"github.com/tripplanner/agentcore/internal/logging"
	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/metrics"
	"github.com/tripplanner/agentcore/internal/orchestration"
	"github.com/tripplanner/agentcore/internal/tracing"
	"github.com/tripplanner/agentcore/internal/tripstore"
)

func main() {
	fmt.Println("🚀 Starting Trip Planner Agent Server")
	fmt.Println("======================================")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	sugar := logging.New(cfg.Environment)
	defer sugar.Sync()

	fmt.Println("🔧 Initializing core components...")

	// 1. Tracer + metrics collector, merged into one Hooks value the
	// executor observes every node transition through.
	tracer, err := tracing.New(cfg.Tracer, cfg.RedisURL, "agentcore", cfg.Environment, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize tracer", "error", err)
	}
	defer tracer.Close()
	fmt.Println("✅ Tracer initialized:", cfg.Tracer.Type)

	collector := metrics.NewCollector()
	fmt.Println("✅ Metrics collector initialized")

	hooks := orchestration.MergeHooks(tracer.OrchestrationHooks(), collector.OrchestrationHooks())

	// 2. LLM provider, selected by LLM_PROVIDER.
	llmProvider, err := providers.NewProviderFactory().CreateProvider(&providers.LLMConfig{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Timeout:  30 * time.Second,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize LLM provider", "provider", cfg.LLM.Provider, "error", err)
	}
	defer llmProvider.Close()
	fmt.Println("✅ LLM provider initialized:", cfg.LLM.Provider)

	// 3. Map adapter: direct HTTP transport always backs the tool-RPC
	// transport's fallback; tool-RPC is only selected when an endpoint is
	// configured, matching §4.2's "direct-only unless MAP_TOOLRPC_ENDPOINT
	// is set" default.
	directTransport := mapadapter.NewDirectHTTPTransport(cfg.Map.APIKey, cfg.Map.HTTPBaseURL, cfg.Map.RequestTimeout, sugar)

	var transport mapadapter.Transport = directTransport
	if cfg.Map.ToolRPCEndpoint != "" {
		rpcTransport := mapadapter.NewToolRPCTransport(mapadapter.ToolRPCConfig{
			Endpoint:             cfg.Map.ToolRPCEndpoint,
			APIKey:               cfg.Map.APIKey,
			ConnectTimeout:       cfg.Map.ConnectTimeout,
			AutoReconnect:        true,
			ReconnectInterval:    cfg.Map.ReconnectInterval,
			MaxReconnectAttempts: cfg.Map.MaxReconnectAttempts,
		}, directTransport, sugar)

		rpcTransport.OnStateChange(func(state mapadapter.ConnectionState) {
			if state == mapadapter.StateReconnecting {
				collector.RecordReconnectAttempt("tool-rpc")
			}
			if state == mapadapter.StateError && cfg.Map.FallbackEnabled {
				collector.RecordTransportFallback()
			}
		})

		connectCtx, cancel := context.WithTimeout(context.Background(), cfg.Map.ConnectTimeout)
		if err := rpcTransport.Connect(connectCtx); err != nil {
			sugar.Warnw("tool-rpc connect failed, falling back to direct HTTP", "error", err)
			if cfg.Map.FallbackEnabled {
				collector.RecordTransportFallback()
				transport = directTransport
			}
		} else {
			transport = rpcTransport
		}
		cancel()
	}

	toolCache := cache.NewToolCache(1000)
	adapter := mapadapter.NewMapAdapter(transport, sugar, mapadapter.WithCache(toolCache))
	fmt.Println("✅ Map adapter initialized, transport:", transport.Name())

	// 4. Checkpointer, selected by CHECKPOINTER_TYPE.
	checkpointer, dbPool := buildCheckpointer(cfg, sugar)
	fmt.Println("✅ Checkpointer initialized:", cfg.Checkpoint.Type)

	// 5. Orchestration graph: one MetricsTracker per specialist so their
	// running averages don't blend across node types.
	deps := specialist.NewDeps(adapter, llmProvider, sugar)
	nodes := orchestration.Nodes{
		WeatherScout:             specialist.WeatherScout(deps, specialist.NewMetricsTracker()),
		ItineraryPlanner:         specialist.ItineraryPlanner(deps, specialist.NewMetricsTracker()),
		AttractionEnricher:       specialist.AttractionEnricher(deps, specialist.NewMetricsTracker()),
		Accommodation:            specialist.Accommodation(deps, specialist.NewMetricsTracker()),
		Transport:                specialist.Transport(deps, specialist.NewMetricsTracker()),
		Dining:                   specialist.Dining(deps, specialist.NewMetricsTracker()),
		BudgetCritic:             specialist.BudgetCritic(deps, specialist.NewMetricsTracker()),
		Finalize:                 specialist.Finalizer(deps, specialist.NewMetricsTracker()),
		EnableAttractionEnricher: cfg.Graph.HITLEnabled,
		MaxRetries:               cfg.Graph.MaxRetries,
	}
	graph, err := orchestration.BuildTripPlanningGraph(nodes)
	if err != nil {
		sugar.Fatalw("failed to build orchestration graph", "error", err)
	}
	executor := orchestration.NewExecutor(checkpointer, cfg.Graph.MaxRetries, hooks, sugar)
	fmt.Println("✅ Orchestration graph built")

	// 6. Trip store + chat agent. chat.NewDeps derives its own Signer from
	// JWT_SECRET for modification preview IDs; the Signer built here from
	// the same secret is handed to the HTTP routes, so both use the same
	// opaque-ID-forgery protection.
	signer := idsign.New(cfg.JWTSecret)
	tripStore := buildTripStore(cfg, dbPool, sugar)
	chatDeps := chat.NewDeps(adapter, llmProvider, tripStore, collector, cfg.JWTSecret, sugar)
	toolExecutor := chat.NewToolExecutor(chatDeps)
	chatAgent := chat.NewChatAgent(chatDeps, toolExecutor, cfg.Chat.MaxToolRounds)
	fmt.Println("✅ Chat agent initialized")

	// 7. Fiber app + routes.
	app := fiber.New(fiber.Config{
		AppName:      "Trip Planner Agent API",
		ServerHeader: "agentcore",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE responses stay open past WriteTimeout
		IdleTimeout:  120 * time.Second,
	})

	authSecret := ""
	if cfg.AuthEnabled {
		authSecret = cfg.JWTSecret
	}
	registerRoutes(app, graph, executor, checkpointer, tripStore, chatAgent, collector, signer, authSecret)
	fmt.Println("✅ Routes configured")

	port := fmt.Sprintf("%d", cfg.Port)
	fmt.Printf("🌐 Server starting on port %s\n", port)
	fmt.Println("\n📋 Available Endpoints:")
	fmt.Println("   GET  /health                         - Health check")
	fmt.Println("   GET  /metrics                        - Prometheus metrics")
	fmt.Println("   POST /api/trips                      - Start a trip-planning run")
	fmt.Println("   GET  /api/trips/:threadID             - Get run status")
	fmt.Println("   POST /api/trips/:threadID/resume      - Resume a suspended run")
	fmt.Println("   POST /api/chat                       - Streaming chat turn (SSE)")

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			sugar.Fatalw("server failed to start", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\n🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		sugar.Errorw("server forced to shutdown", "error", err)
	}
	fmt.Println("✅ Server shutdown complete")
}

// buildCheckpointer selects memory or Postgres per CHECKPOINTER_TYPE. The
// *database.Pool is returned too (nil for memory) so the Postgres trip
// store below can share the same connection pool rather than opening a
// second one.
func buildCheckpointer(cfg *config.Config, log *zap.SugaredLogger) (orchestration.Checkpointer, *database.Pool) {
	if cfg.Checkpoint.Type != "postgres" {
		return orchestration.NewMemoryCheckpointer(), nil
	}

	pool, err := database.NewPoolFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to postgres for checkpointing", "error", err)
	}
	return orchestration.NewPostgresCheckpointer(pool), pool
}

// buildTripStore selects memory or Postgres per CHECKPOINTER_TYPE,
// reusing the pool buildCheckpointer already opened when both are
// Postgres-backed.
func buildTripStore(cfg *config.Config, pool *database.Pool, log *zap.SugaredLogger) tripstore.Store {
	if cfg.Checkpoint.Type != "postgres" {
		return tripstore.NewMemoryStore()
	}
	if pool == nil {
		var err error
		pool, err = database.NewPoolFromURL(cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("failed to connect to postgres for trip storage", "error", err)
		}
	}
	return tripstore.NewPostgresStore(pool)
}

func registerRoutes(
	app *fiber.App,
	graph *orchestration.Graph,
	executor *orchestration.Executor,
	checkpointer orchestration.Checkpointer,
	tripStore tripstore.Store,
	chatAgent *chat.ChatAgent,
	collector *metrics.Collector,
	signer *idsign.Signer,
	authSecret string,
) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "timestamp": time.Now()})
	})

	app.Get("/metrics", adaptor.HTTPHandler(collector.Handler()))

	// Guard is a no-op when authSecret is empty (AUTH_ENABLED=false, the
	// default): this service has no user-management backend yet, so the
	// placeholder only proves out the wire contract a real rollout would
	// enforce against these same routes.
	guard := authmw.Guard(authSecret)
	api := app.Group("/api", guard)

	api.Post("/trips", func(c *fiber.Ctx) error {
		var input orchestration.TripInput
		if err := c.BodyParser(&input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		state, err := executor.Run(c.Context(), graph, input)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		state.ThreadID = signer.Sign(state.ThreadID)
		return c.JSON(state)
	})

	api.Get("/trips/:threadID", func(c *fiber.Ctx) error {
		threadID, err := signer.Verify(c.Params("threadID"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown thread"})
		}
		cp, err := checkpointer.Load(c.Context(), threadID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(cp.State)
	})

	api.Post("/trips/:threadID/resume", func(c *fiber.Ctx) error {
		threadID, err := signer.Verify(c.Params("threadID"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown thread"})
		}
		var decision orchestration.Decision
		if err := c.BodyParser(&decision); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		state, err := executor.Resume(c.Context(), graph, threadID, decision)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		state.ThreadID = signer.Sign(state.ThreadID)
		return c.JSON(state)
	})

	api.Post("/chat", func(c *fiber.Ctx) error {
		var body chatTurnRequest
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		req := chat.TurnRequest{
			SessionID:   body.SessionID,
			MessageID:   fmt.Sprintf("msg_%d", time.Now().UnixNano()),
			UserMessage: body.Message,
			History:     body.History,
		}
		if body.TripID != "" {
			if trip, err := tripStore.GetByID(c.Context(), body.TripID); err == nil {
				req.Trip = trip
			}
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")

		events := chatAgent.Run(c.Context(), req)
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			for ev := range events {
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	})
}

// chatTurnRequest is the wire shape of a /api/chat POST body.
type chatTurnRequest struct {
	SessionID string              `json:"session_id"`
	Message   string              `json:"message"`
	TripID    string              `json:"trip_id,omitempty"`
	History   []providers.Message `json:"history,omitempty"`
}
