// Command gateway runs the Session Gateway (C7) and Handoff Coordinator
// (C8): it terminates client WebSocket connections, selects and proxies to
// specialist agents, and hosts the agent registration HTTP API those
// agents call on startup (spec §4.7, §6).
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

	"github.com/voxgate/voxgate/gateway"
	"github.com/voxgate/voxgate/memory"
	"github.com/voxgate/voxgate/registry"
	"github.com/voxgate/voxgate/telemetry"
)

func main() {
	var (
		addrF             = flag.String("addr", ":8080", "listen address for client WebSocket and agent admin API")
		heartbeatWindowF  = flag.Duration("heartbeat-window", 45*time.Second, "agent liveness window (I-A2, recommended 3x heartbeat period)")
		selectTimeoutF    = flag.Duration("select-timeout", 5*time.Second, "how long Accept waits for select_workflow before falling back to the routing agent")
		ackTimeoutF       = flag.Duration("ack-timeout", 5*time.Second, "how long a dial waits for session_ack")
		bufferMaxFramesF  = flag.Int("handoff-buffer-max-frames", 256, "HANDOFF_BUFFER_MAX_FRAMES")
		bufferMaxBytesF   = flag.Int("handoff-buffer-max-bytes", 2*1024*1024, "bound on the handoff buffer in bytes")
		graceF            = flag.Duration("memory-grace-period", 30*time.Second, "how long SessionMemory survives a client disconnect")
		maxSessionErrorsF = flag.Int("max-session-errors", 5, "MAX_SESSION_ERRORS, circuit-breaker threshold")
		errorWindowF      = flag.Duration("error-window", 10*time.Second, "ERROR_WINDOW_MS, circuit-breaker window")
		dbgF              = flag.Bool("debug", false, "enable debug logs")
	)
	// HANDOFF_BUFFER_MAX_FRAMES, MAX_SESSION_ERRORS and ERROR_WINDOW_MS, when
	// set, replace the flag defaults; a flag given on the command line wins.
	for env, set := range map[string]func(string) error{
		"HANDOFF_BUFFER_MAX_FRAMES": func(v string) error { return flag.Set("handoff-buffer-max-frames", v) },
		"MAX_SESSION_ERRORS":        func(v string) error { return flag.Set("max-session-errors", v) },
		"ERROR_WINDOW_MS":           func(v string) error { return flag.Set("error-window", v+"ms") },
	} {
		if v := os.Getenv(env); v != "" {
			if err := set(v); err != nil {
				fmt.Fprintf(os.Stderr, "gateway: %s: %v\n", env, err)
				os.Exit(2)
			}
		}
	}
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Fatal(ctx, err)
	}

	reg := registry.New(*heartbeatWindowF)
	store := memory.New()

	cfg := gateway.Config{
		SelectWorkflowTimeout:  *selectTimeoutF,
		SessionAckTimeout:      *ackTimeoutF,
		HandoffBufferMaxFrames: *bufferMaxFramesF,
		HandoffBufferMaxBytes:  *bufferMaxBytesF,
		MemoryGracePeriod:      *graceF,
		MaxSessionErrors:       *maxSessionErrorsF,
		ErrorWindow:            *errorWindowF,
	}
	gw := gateway.New(reg, store, dialAgent, cfg, metrics)

	mux := http.NewServeMux()
	gateway.NewAdminHandler(reg).Mount(mux)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgradeClientConn(w, r)
		if err != nil {
			log.Printf(ctx, "websocket upgrade failed: %v", err)
			return
		}
		if err := gw.Serve(r.Context(), conn); err != nil {
			log.Printf(ctx, "session ended: %v", err)
		}
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
	handleHTTPServer(ctx, *addrF, handler, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "gateway listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down gateway at %q", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
