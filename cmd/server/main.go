package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	concierge "github.com/anshumansp/concierge"
	"github.com/anshumansp/concierge/internal/handlers"
	"github.com/anshumansp/concierge/internal/services"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfgPath := os.Getenv("CONCIERGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("Failed to load config", slog.String("err", err.Error()))
		os.Exit(1)
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, logger)
	if err != nil {
		logger.Error("Failed to configure model", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if llm == nil {
		logger.Warn("Model API key not configured, chat relay will reject requests")
	}

	boltDB, err := services.NewBoltDB(cfg.StorePath)
	if err != nil {
		logger.Error("Failed to open store", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer boltDB.Close()

	forms := services.NewWeb3Forms(cfg.FormsAccessKey, logger)
	relay := handlers.NewRelay(llm, logger)

	relayURL := fmt.Sprintf("http://127.0.0.1:%s/api/chat", cfg.Port)
	m, err := handlers.NewMain(relayURL, forms, boltDB, logger)
	if err != nil {
		logger.Error("Failed to create handlers", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// Serve static files
	staticFS, err := fs.Sub(concierge.StaticFS, "static")
	if err != nil {
		logger.Error("Failed to mount static assets", slog.String("err", err.Error()))
		os.Exit(1)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/api/chat", relay.HandleChat)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/leads", m.HandleLeadSubmit)
	mux.HandleFunc("/leads/open", m.HandleLeadOpen)
	mux.HandleFunc("/leads/cancel", m.HandleLeadCancel)
	mux.HandleFunc("/sse/messages", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
