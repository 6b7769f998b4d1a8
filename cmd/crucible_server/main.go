package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rvikhe/crucible/internal/component"
	"github.com/rvikhe/crucible/internal/config"
	"github.com/rvikhe/crucible/internal/db"
	"github.com/rvikhe/crucible/internal/db/repository"
	"github.com/rvikhe/crucible/internal/pipeline"
	"github.com/rvikhe/crucible/internal/scheduler"
	"github.com/rvikhe/crucible/internal/scorer"
	"github.com/rvikhe/crucible/internal/service/logger"
	"github.com/rvikhe/crucible/internal/tracer"
	"github.com/rvikhe/crucible/internal/web"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.GetConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger.Init(cfg.SERVICE_NAME)

	if cfg.TRACE_URL != "" {
		tp, err := tracer.InitTracer(ctx, cfg.SERVICE_NAME, cfg.TRACE_URL)
		if err != nil {
			log.Fatalf("error initialising trace: %v", err)
		}
		defer tp.Shutdown(ctx)
	}

	schedCfg, err := config.GetSchedulerConfig()
	if err != nil {
		log.Fatalf("scheduler config error: %v", err)
	}
	regCfg, err := config.GetRegistryConfig()
	if err != nil {
		log.Fatalf("registry config error: %v", err)
	}

	cache, err := component.GetCache(cfg.CACHE_TYPE)
	if err != nil {
		log.Fatalf("cache initialization error: %v", err)
	}

	storage, err := component.GetStorage(cfg.STORAGE_TYPE)
	if err != nil {
		log.Fatalf("storage initialization error: %v", err)
	}

	queue, err := component.GetQueue(cfg.QUEUE_TYPE)
	if err != nil {
		log.Fatalf("queue initialization error: %v", err)
	}

	exec, err := component.GetExecutor()
	if err != nil {
		log.Fatalf("executor initialization error: %v", err)
	}

	registry := scorer.NewRegistry()
	registry.SetWatchInterval(time.Duration(regCfg.WATCH_INTERVAL) * time.Second)
	if regCfg.SCORER_SOURCE != "" {
		if _, merr := registry.LoadFromSource(regCfg.SCORER_SOURCE, true, false); merr != nil {
			log.Fatalf("scorer load error: %v", merr)
		}
	}

	var repo *repository.TaskRepository
	var pg *db.DB
	if schedCfg.PERSIST_TASKS_TO_DB {
		pgCfg, err := config.GetPostgresConfig()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}
		pg, err = db.New(pgCfg)
		if err != nil {
			log.Fatalf("postgres initialization error: %v", err)
		}
		repo = repository.NewTaskRepository(pg)
	}

	ctrl := pipeline.NewController(exec, registry)
	sched := scheduler.NewScheduler(schedCfg, ctrl, queue, cache, storage, repo)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("scheduler start error: %v", err)
	}

	server := web.NewServer(sched, registry, regCfg)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           server.Router(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Println("HTTP server started on :8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("trying to shutdown server gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Graceful shutdown failed: %v", err)
	}

	var wg sync.WaitGroup
	shutdown := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(shutdownCtx)
		}()
	}
	shutdown(cache.ShutDown)
	shutdown(func(context.Context) { queue.Shutdown() })
	if storage != nil {
		shutdown(storage.ShutDown)
	}
	if pg != nil {
		shutdown(func(context.Context) { pg.Close() })
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info().Msg("server shutdown gracefully.")
	case <-shutdownCtx.Done():
		logger.Log.Info().Msg("server graceful shutdown timedout..")
	}
}
