package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/taskmesh/master/config"
	"github.com/taskmesh/master/internal/adapter/llm"
	"github.com/taskmesh/master/internal/adapter/workerclient"
	"github.com/taskmesh/master/internal/controller"
	"github.com/taskmesh/master/internal/dispatcher"
	"github.com/taskmesh/master/internal/pipeline"
	"github.com/taskmesh/master/internal/routing"
	"github.com/taskmesh/master/internal/store"
	transport "github.com/taskmesh/master/internal/transport/http"
	"github.com/taskmesh/master/policy"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting master engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Redis: %s", cfg.RedisAddr)
	log.Printf("Mode: %s", cfg.Mode)
	log.Printf("Decomposer: %s", cfg.Decomposer)

	// Initialize state store
	db, err := store.NewRedisStore(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize routing service
	routingService := routing.NewService(db)

	// Initialize decomposition strategy
	staticDecomposer := controller.NewStaticDecomposer(db)
	var decomposer controller.Decomposer = staticDecomposer
	if strings.EqualFold(cfg.Decomposer, config.DecomposerLLM) {
		gateway := llm.NewClient(cfg.GatewayURL, cfg.GatewayTimeout)
		decomposer = controller.NewLLMDecomposer(gateway, staticDecomposer, db)
	}

	// Initialize controller
	ctrl := controller.New(decomposer, controller.NewAdaptiveRouter(db))

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize pipeline orchestrator in pipeline mode
	var pipelineOrchestrator *pipeline.Orchestrator
	if strings.EqualFold(cfg.Mode, config.ModePipeline) {
		stageWorkers := workerclient.NewClient(cfg.StageTimeout)
		pipelineOrchestrator = pipeline.New(routingService, db, stageWorkers)
	}

	// Initialize dispatcher
	workers := workerclient.NewClient(cfg.DispatchTimeout)
	d := dispatcher.New(ctrl, routingService, db, workers, policyEngine, pipelineOrchestrator)

	// Create HTTP server
	server := transport.NewServer(d)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Master engine started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down master engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Master engine stopped")
}
