package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/manpreetbhatti/sketchroom/internal/activity"
	"github.com/manpreetbhatti/sketchroom/internal/api"
	"github.com/manpreetbhatti/sketchroom/internal/config"
	"github.com/manpreetbhatti/sketchroom/internal/db"
	"github.com/manpreetbhatti/sketchroom/internal/ratelimit"
	"github.com/manpreetbhatti/sketchroom/internal/retention"
	"github.com/manpreetbhatti/sketchroom/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := ws.DefaultOptions()
	opts.HistoryLimit = cfg.Relay.HistoryLimit
	opts.StrictJoin = cfg.Relay.StrictJoin
	opts.MessagesPerSecond = cfg.RateLimit.MessagesPerSecond
	opts.MessageBurst = cfg.RateLimit.MessageBurst

	handshakes := ratelimit.NewClientLimiters(cfg.RateLimit.HandshakesPerSecond, cfg.RateLimit.HandshakeBurst)
	defer handshakes.Stop()
	opts.Handshakes = handshakes

	var database *db.Database
	var recorder *activity.Recorder
	var pruner *retention.Service

	if cfg.Archive.Enabled {
		database, err = db.New(cfg.Archive.DBPath)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()

		recorder = activity.New(database, 4096)
		recorder.Start()
		defer recorder.Stop()
		opts.Recorder = recorder

		pruner = retention.New(database, retention.Config{
			Interval: cfg.Archive.RetentionInterval,
			MaxAge:   cfg.Archive.RetentionMaxAge,
		})
		pruner.Start()
		defer pruner.Stop()
	}

	hub := ws.NewHub(opts)
	go hub.Run(ctx)

	apiHandler := api.New(hub, database, recorder)

	mux := http.NewServeMux()

	// WebSocket endpoints; the room may come from the path or ?room=
	serveWs := func(w http.ResponseWriter, r *http.Request) { ws.ServeWs(hub, w, r) }
	mux.HandleFunc("/ws", serveWs)
	mux.HandleFunc("/ws/", serveWs)

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)

	if cfg.Server.StaticDir != "" {
		static := http.FileServer(http.Dir(cfg.Server.StaticDir))
		mux.Handle("/", static)

		// Room links load the same page; its script reads the room from the path
		mux.HandleFunc("/room/", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(cfg.Server.StaticDir, "index.html"))
		})
	} else {
		mux.HandleFunc("/room/", serveWs)
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	log.Printf("🎨 Sketchroom server starting on %s", cfg.Addr())
	if database != nil {
		log.Printf("📁 Archive: %s", cfg.Archive.DBPath)
	} else {
		log.Println("📁 Archive: disabled")
	}
	if cfg.Relay.StrictJoin {
		log.Println("🔒 Strict join: events before join:room are rejected")
	}
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws, /ws/{roomId}, /ws?room={roomId}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms")
	log.Println("  - Room:      GET/DELETE /api/rooms/{id}")
	if cfg.Server.StaticDir != "" {
		log.Printf("  - Static:    / (%s)", cfg.Server.StaticDir)
	}

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}

	// Hub closes every connection once ctx is done
	<-hub.Done()
	log.Println("👋 Server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
