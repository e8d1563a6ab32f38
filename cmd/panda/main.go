// panda: voice assistant orchestration service.
// Accepts utterances over HTTP, runs the transcribe/retrieve/route/
// generate/synthesize pipeline, and streams results over WebSocket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pandalabs/go-panda/internal/config"
	"github.com/pandalabs/go-panda/internal/log"
	"github.com/pandalabs/go-panda/pkg/bus"
	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/inference"
	"github.com/pandalabs/go-panda/pkg/memory"
	"github.com/pandalabs/go-panda/pkg/orchestrator"
	"github.com/pandalabs/go-panda/pkg/pipeline"
	"github.com/pandalabs/go-panda/pkg/registry"
	"github.com/pandalabs/go-panda/pkg/router"
	"github.com/pandalabs/go-panda/pkg/speech"
	"github.com/pandalabs/go-panda/pkg/web"
)

func main() {
	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := config.Load()
	log.Init(cfg.LogLevel)
	logger := log.Component("main")

	logger.Info("starting panda", "version", web.Version, "port", cfg.Port)

	// Remote agents behind circuit breakers.
	gw := gateway.New(gateway.Options{
		Threshold: cfg.BreakerThreshold,
		Base:      cfg.BreakerBase,
		Max:       cfg.BreakerMax,
	})
	var agentNames []string
	for _, a := range cfg.Agents {
		if a.BaseURL == "" {
			continue
		}
		gw.Register(a.Name, gateway.NewHTTPAgent(a.BaseURL, a.Timeout), a.Timeout)
		agentNames = append(agentNames, a.Name)
		logger.Info("registered agent", "name", a.Name, "url", a.BaseURL)
	}

	// Speech engines are lazy-loaded HTTP sidecar clients.
	reg := registry.New(func(ctx context.Context, kind registry.Kind) (any, error) {
		switch kind {
		case registry.KindSTT:
			return speech.NewTranscriber(cfg.Speech.STTBaseURL), nil
		case registry.KindTTS:
			return speech.NewSynthesizer(cfg.Speech.TTSBaseURL, cfg.Speech.Voice), nil
		default:
			return nil, fmt.Errorf("unknown model kind %q", kind)
		}
	}, "local")

	b := bus.New(cfg.ObserverQueueCap)

	exec := pipeline.New(pipeline.Deps{
		Publisher:     b,
		Gateway:       gw,
		Registry:      reg,
		Router:        router.New(agentNames),
		Retriever:     memory.Seeded(),
		Generator:     inference.New(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name),
		Synthesize:    true,
		Timeouts:      cfg.Stages,
		RetrieveLimit: 3,
	})

	orch := orchestrator.New(exec, b, cfg.WorkerPoolSize, cfg.SessionTTL)
	orch.Start()

	srv := web.NewServer(cfg.Port, orch, b, gw, reg)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	orch.Stop()
	if err := srv.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("goodbye")
}
