// Command agent runs one specialist agent process: Agent Core (C5) driven
// by an I/O Adapter (C6) over the gateway<->agent WebSocket, registering
// itself and heartbeating with the Session Gateway's admin API (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/voxgate/voxgate/agentcore"
	"github.com/voxgate/voxgate/ioadapter"
	"github.com/voxgate/voxgate/registry"
	"github.com/voxgate/voxgate/s2s"
	"github.com/voxgate/voxgate/s2s/anthropic"
	"github.com/voxgate/voxgate/s2s/openairealtime"
	"github.com/voxgate/voxgate/telemetry"
	"github.com/voxgate/voxgate/tools"
	"github.com/voxgate/voxgate/workflow"
)

func main() {
	dbgF := flag.Bool("debug", false, "enable debug logs")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := loadConfigFromEnv()
	if err != nil {
		log.Fatal(ctx, err)
	}

	graphData, err := os.ReadFile(cfg.WorkflowFile)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("agent: read workflow file: %w", err))
	}
	graph, err := workflow.ParseGraph(graphData)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("agent: parse workflow graph: %w", err))
	}
	engine := workflow.NewEngine(graph)

	personaData, err := os.ReadFile(cfg.PersonaFile)
	if err != nil {
		log.Fatal(ctx, fmt.Errorf("agent: read persona file: %w", err))
	}

	catalog, specs, err := loadToolCatalog(cfg.ToolsFile)
	if err != nil {
		log.Fatal(ctx, err)
	}

	classifier := tools.NewClassifier(cfg.RoutingAgentID, cfg.IDVToolNames)
	executor := newHTTPToolExecutor(cfg.ToolGatewayURL)
	dispatcher := tools.NewDispatcher(classifier, executor, executor, specs)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatal(ctx, err)
	}

	newClient, err := buildClientFactory(ctx, cfg)
	if err != nil {
		log.Fatal(ctx, err)
	}

	agentCfg := agentcore.AgentConfig{
		AgentID:            cfg.AgentID,
		Persona:            string(personaData),
		WorkflowID:         graph.ID,
		ToolScopes:         cfg.ToolScopes,
		HandoffTargets:     cfg.HandoffTargets,
		IsRoutingAgent:     cfg.IsRoutingAgent,
		RoutingAgentID:     cfg.RoutingAgentID,
		VoicePreset:        cfg.VoicePreset,
		AutoTriggerEnabled: cfg.AutoTriggerEnabled,
	}

	outbound := newFanoutOutbound()
	core := agentcore.New(agentCfg, engine, dispatcher, catalog, newClient, outbound, metrics)
	guard := ioadapter.NewActiveGuard()

	reg := newRegistrantClient(cfg.GatewayAdminURL)
	if err := reg.Register(ctx, cfg, graph.ID, cfg.RequiresVerification); err != nil {
		log.Fatal(ctx, fmt.Errorf("agent: registering with gateway: %w", err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgradeAgentConn(w, r)
		if err != nil {
			log.Printf(ctx, "websocket upgrade failed: %v", err)
			return
		}
		handleAgentConn(r.Context(), cfg, core, outbound, guard, conn)
	})
	handler := log.HTTP(ctx)(mux)

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	handleHTTPServer(ctx, cfg.ListenAddr, handler, &wg, errc)

	go registry.RunHeartbeatLoop(ctx, reg, cfg.AgentID, cfg.HeartbeatPeriod)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	_ = reg.Deregister(context.Background(), cfg.AgentID)
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "agent listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down agent at %q", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

// buildClientFactory returns an agentcore.ClientFactory for the configured
// S2S provider. Startup already validated the required credentials are
// present (loadConfigFromEnv), so a construction failure here indicates an
// invariant violation rather than a recoverable per-session condition.
func buildClientFactory(ctx context.Context, cfg config) (agentcore.ClientFactory, error) {
	switch cfg.S2SProvider {
	case "anthropic":
		if _, err := anthropic.NewFromAPIKey(cfg.AnthropicKey, cfg.AnthropicModel); err != nil {
			return nil, fmt.Errorf("agent: validating anthropic credentials: %w", err)
		}
		return func() s2s.Client {
			c, err := anthropic.NewFromAPIKey(cfg.AnthropicKey, cfg.AnthropicModel)
			if err != nil {
				log.Fatal(ctx, fmt.Errorf("agent: anthropic client: %w", err))
			}
			return c
		}, nil
	case "openairealtime":
		opts := openairealtime.Options{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, Voice: cfg.OpenAIVoice}
		if _, err := openairealtime.New(opts); err != nil {
			return nil, fmt.Errorf("agent: validating openairealtime credentials: %w", err)
		}
		return func() s2s.Client {
			c, err := openairealtime.New(opts)
			if err != nil {
				log.Fatal(ctx, fmt.Errorf("agent: openairealtime client: %w", err))
			}
			return c
		}, nil
	default:
		return nil, fmt.Errorf("agent: unknown S2S_PROVIDER %q", cfg.S2SProvider)
	}
}
