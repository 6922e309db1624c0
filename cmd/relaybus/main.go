// Command relaybus is the operational binary hosting a single channel
// layer backend: it boots a rediqueue or redispubsub Layer from a
// validated JSON shard-config document, registers it under an alias,
// serves /health, and optionally bridges one demo WebSocket endpoint
// into the consumer runtime. Structure is modeled directly on
// edge/cmd/orion-edge/main.go: flags -> validate -> construct ->
// background goroutines behind one signal.NotifyContext -> ordered
// graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaybus/channels/internal/consumer"
	"github.com/relaybus/channels/internal/layer"
	"github.com/relaybus/channels/internal/registry"
	"github.com/relaybus/channels/internal/shutdown"
)

const version = "0.1.0"

func main() {
	f := loadFlags()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("relaybus v%s starting", version)

	if err := f.validateFlags(); err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	doc, err := loadShardConfig(f.ConfigPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("INFO: backend=%s alias=%s hosts=%d", doc.Backend, doc.Alias, len(doc.Hosts))

	ch, err := doc.buildLayer()
	if err != nil {
		log.Fatalf("FATAL: failed to construct channel layer: %v", err)
	}

	registry.RegisterChannelLayer(doc.Alias, ch)
	log.Printf("INFO: registered channel layer under alias %q", doc.Alias)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(doc))

	var upgrader websocket.Upgrader
	if f.DemoPath != "" {
		mux.HandleFunc(f.DemoPath, demoWebsocketHandler(ctx, upgrader, ch))
		log.Printf("INFO: demo WebSocket endpoint listening on %s", f.DemoPath)
	}

	httpServer := &http.Server{
		Addr:    f.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("INFO: HTTP server listening on %s", f.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: HTTP server failed: %v", err)
		}
	}()

	coordinator := shutdown.NewCoordinator(f.ShutdownTimeout, log.Default())
	err = coordinator.WaitForShutdown(ctx,
		func(shutdownCtx context.Context) error {
			return httpServer.Shutdown(shutdownCtx)
		},
		func(context.Context) error {
			registry.Default.Unregister(doc.Alias)
			return ch.Close()
		},
	)
	if err != nil {
		log.Fatalf("FATAL: shutdown: %v", err)
	}
	log.Printf("INFO: relaybus stopped cleanly")
}

func healthHandler(doc *shardConfigDoc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": "relaybus",
			"version": version,
			"backend": doc.Backend,
			"alias":   doc.Alias,
			"shards":  len(doc.Hosts),
			"aliases": registry.Default.Aliases(),
		})
	}
}

func demoWebsocketHandler(ctx context.Context, upgrader websocket.Upgrader, ch layer.Layer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WARN: websocket upgrade failed: %v", err)
			return
		}
		bridge := newWSBridge(conn)

		demoConsumer, err := newDemoChatConsumer(consumerScope(r), bridge.receive, bridge.send, ch)
		if err != nil {
			log.Printf("ERROR: failed to build demo consumer: %v", err)
			_ = conn.Close()
			return
		}

		connCtx, cancel := context.WithTimeout(ctx, 24*time.Hour)
		defer cancel()
		if err := demoConsumer.Run(connCtx); err != nil {
			log.Printf("INFO: demo consumer exited: %v", err)
		}
	}
}

func consumerScope(r *http.Request) consumer.Scope {
	return consumer.Scope{
		Type:        "websocket",
		Path:        r.URL.Path,
		QueryString: []byte(r.URL.RawQuery),
	}
}
