package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MicKaranja/cms/internal/api"
	"github.com/MicKaranja/cms/internal/bootstrap"
	"github.com/MicKaranja/cms/internal/observability"
)

func main() {
	port := strings.TrimSpace(os.Getenv("CMS_ADMIN_PORT"))
	if port == "" {
		port = "8889"
	}

	shutdownTrace, err := observability.InitTracingFromEnv("cms-admin-server")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cp, err := bootstrap.NewControlPlaneFromEnv(ctx)
	if err != nil {
		log.Fatalf("bootstrap control plane: %v", err)
	}
	defer cp.Close()

	go cp.Monitor.Start(ctx)

	server := api.NewServer(cp.Store, cp.Files, cp.Uploads, cp.Gate, cp.Pool, cp.Registry, cp.Notifications, cp.Monitor)
	httpServer := &http.Server{Addr: ":" + port, Handler: server.Handler()}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	log.Printf("cms admin-server listening on :%s", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("admin-server failed: %v", err)
	}
}
