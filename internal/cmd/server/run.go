// Package serverrun assembles and runs the full server process: storage,
// queues, workers, the event listener, the orchestrator janitor and the HTTP
// API.
package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mouimet-infinisoft/ibrain2024/internal/config"
	"github.com/mouimet-infinisoft/ibrain2024/internal/events"
	"github.com/mouimet-infinisoft/ibrain2024/internal/intent"
	"github.com/mouimet-infinisoft/ibrain2024/internal/llm"
	"github.com/mouimet-infinisoft/ibrain2024/internal/orchestrator"
	"github.com/mouimet-infinisoft/ibrain2024/internal/processors"
	"github.com/mouimet-infinisoft/ibrain2024/internal/runtime"
	httpserver "github.com/mouimet-infinisoft/ibrain2024/internal/server/http"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
	"github.com/mouimet-infinisoft/ibrain2024/internal/taskqueue"
	"github.com/mouimet-infinisoft/ibrain2024/internal/workflow"
	"github.com/mouimet-infinisoft/ibrain2024/pkg/log"
)

// Options configure one server process.
type Options struct {
	DataDir       string
	HTTPAddr      string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	// FilterExpr is an optional CEL expression limiting which lifecycle
	// events the listener mirrors and notifies.
	FilterExpr string
	Config     config.Config
	// LLM overrides the OpenAI-backed client, used by tests.
	LLM llm.Client
}

func buildLogger(cfg config.Config) log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	var formatter log.Formatter = &log.JSONFormatter{}
	if cfg.LogFormat == "text" {
		formatter = &log.TextFormatter{}
	}
	return log.NewLogger(log.WithLevel(level), log.WithFormatter(formatter))
}

// Run starts the server and blocks until ctx is canceled or a component
// fails to start.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.DataDir == "" {
		opts.DataDir = cfg.DataDir
	}
	logger := buildLogger(cfg)
	log.RedirectStdLog(logger)

	rt, err := runtime.Open(runtime.Options{
		DataDir:       filepath.Join(opts.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        cfg,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	llmClient := opts.LLM
	if llmClient == nil {
		llmClient = llm.NewOpenAIClient(cfg.LLM)
	}

	workflows := workflow.NewRegistry(llmClient, logger)
	if err := workflows.RegisterConfigs(sctx, workflow.Builtins()); err != nil {
		// The server still answers; every message gets the clarification
		// path until workflows register.
		logger.Warn("workflow registration failed, matching degraded", log.Err(err))
	}
	engine := intent.NewEngine(llmClient, workflows, logger)
	orch := orchestrator.New(engine, logger,
		orchestrator.WithTasks(rt.Tasks()),
		orchestrator.WithIdleTTL(cfg.Conversation.IdleTTL))

	filter, err := events.NewFilter(opts.FilterExpr)
	if err != nil {
		return err
	}
	hub := events.NewHub()
	listener := events.NewListener(rt.Tasks().Feed(), rt.Store(), logger,
		events.WithNotifier(hub), events.WithFilter(filter))

	bindings := taskqueue.NewRegistry()
	if err := bindings.RegisterAll(processors.Bindings(processors.Deps{
		LLM:    llmClient,
		Engine: engine,
		Store:  rt.Store(),
		Logger: logger,
	})); err != nil {
		return err
	}

	hsrv := httpserver.New(httpserver.Deps{
		Orchestrator: orch,
		Workflows:    workflows,
		Store:        rt.Store(),
		Tasks:        rt.Tasks(),
		Hub:          hub,
		Health:       rt.CheckHealth,
		Logger:       logger,
	})

	logger.Info("starting server",
		log.F("http", opts.HTTPAddr),
		log.F("dataDir", opts.DataDir),
		log.F("queues", rt.Queues()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := taskqueue.RunWorkers(sctx, rt.Tasks(), bindings, rt.Queues(), logger); err != nil {
			logger.Error("workers stopped", log.Err(err))
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Run(sctx); err != nil && sctx.Err() == nil {
			logger.Error("event listener stopped", log.Err(err))
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.RunJanitor(sctx, cfg.Conversation.EvictInterval)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server stopped", log.Err(err))
		}
	}()

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}
