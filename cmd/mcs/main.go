// Command mcs runs the Multi-Agent Coordination Server: the HTTP surface
// workers and clients use to submit requests, poll for work, and report
// results, plus the background sweeps that keep claims and file leases
// from leaking when a worker disappears mid-task.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/maic-labs/mcs/internal/api"
	"github.com/maic-labs/mcs/internal/auditor"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/eventbus"
	"github.com/maic-labs/mcs/internal/llmgateway"
	"github.com/maic-labs/mcs/internal/lockmanager"
	"github.com/maic-labs/mcs/internal/planner"
	"github.com/maic-labs/mcs/internal/resulthandler"
	"github.com/maic-labs/mcs/internal/scheduler"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/httpserver"
	"github.com/maic-labs/mcs/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, overrides Default())")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Init(logger.ParseLevel(cfg.LogLevel))
	svcLog := logger.New("mcs", "", "")

	st, err := store.Open(cfg.MySQL)
	if err != nil {
		svcLog.WithError(err).Fatal("failed to open store")
	}

	locks, err := lockmanager.New(cfg.Redis, cfg.LockTTL, st)
	if err != nil {
		svcLog.WithError(err).Fatal("failed to start lock manager")
	}

	gateway, err := llmgateway.New(cfg.LLM)
	if err != nil {
		svcLog.WithError(err).Fatal("failed to start llm gateway")
	}

	var bus *eventbus.Bus
	if len(cfg.Kafka.Brokers) > 0 {
		bus, err = eventbus.New(cfg.Kafka, st)
		if err != nil {
			svcLog.WithError(err).Warn("failed to start event bus, continuing without one")
			bus = nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	if bus != nil {
		go bus.Run(ctx)
	}

	pl := planner.New(gateway, st, bus, cfg)
	sched := scheduler.New(st, locks, bus)
	aud := auditor.New(gateway, st, cfg)
	rh := resulthandler.New(st, sched, locks, aud, bus)

	apiHandler := api.New(pl, sched, rh, st, locks, cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.RegisterRoutes(router, apiHandler, cfg.AuthToken)

	srv, err := httpserver.NewServer(cfg, router, httpserver.WithAddress(cfg.HTTPAddr))
	if err != nil {
		svcLog.WithError(err).Fatal("failed to build http server")
	}

	go runSweeps(ctx, sched, locks, cfg, svcLog)

	go func() {
		svcLog.Info("starting http server on " + cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			svcLog.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	svcLog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		svcLog.WithError(err).Error("server forced to shutdown")
	}

	cancel()
	if bus != nil {
		if err := bus.Close(); err != nil {
			svcLog.WithError(err).Error("error closing event bus")
		}
	}

	svcLog.Info("shutdown complete")
}

// runSweeps periodically reopens expired task claims and file leases.
// Neither sweep is triggered by a request; both are the one place in this
// server where a background tick, not a caller, drives a state
// transition (spec.md §4.3/§4.5).
func runSweeps(ctx context.Context, sched *scheduler.Scheduler, locks lockmanager.LockManager, cfg *config.Config, log *logger.Logger) {
	interval := cfg.ClaimTTL / 4
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reopened, err := sched.SweepExpiredClaims(ctx, cfg.ClaimTTL); err != nil {
				log.WithError(err).Warn("claim sweep failed")
			} else if len(reopened) > 0 {
				log.Info("reopened expired claims")
				for _, t := range reopened {
					if t.ClaimedBy == nil {
						continue
					}
					if err := locks.Release(ctx, *t.ClaimedBy, t.StepID); err != nil {
						log.WithError(err).Warn("releasing leases for a reopened claim failed")
					}
				}
			}

			if freed, err := locks.SweepExpired(ctx); err != nil {
				log.WithError(err).Warn("lock sweep failed")
			} else if len(freed) > 0 {
				log.Info("released expired file leases")
			}
		}
	}
}
