package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fitsync/internal/api"
	"example.com/fitsync/internal/backend"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/coordinator"
	"example.com/fitsync/internal/ledger"
	"example.com/fitsync/internal/orchestrator"
	"example.com/fitsync/internal/processor"
	"example.com/fitsync/internal/queue"
	"example.com/fitsync/internal/source"
	"example.com/fitsync/internal/stats"
	"example.com/fitsync/internal/storage"
	"example.com/fitsync/internal/subscription"
	httptransport "example.com/fitsync/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer conn.Close()

	queueStore := queue.NewStore(conn)
	ledgerStore := ledger.NewStore(conn)
	cursorStore := storage.NewCursorStore(conn)
	subStore := subscription.NewStore(conn)

	// Entries stranded in flight by a previous crash retry rather than being
	// assumed synced.
	if n, err := queueStore.RequeueInFlight(ctx, time.Now().UTC()); err != nil {
		log.Fatalf("requeue in-flight entries: %v", err)
	} else if n > 0 {
		log.Printf("requeued %d in-flight entries from previous run", n)
	}

	client := backend.NewHTTPClient(cfg.BackendURL, cfg.BackendToken, 30*time.Second)
	healthStore := source.NewHTTPStore(cfg.HealthStoreURL, 15*time.Second)
	adapter := source.NewAdapter(healthStore)

	proc := processor.New(processor.Config{
		RatePerMinute:        cfg.Reward.RatePerMinute,
		DefaultRate:          cfg.Reward.DefaultRate,
		DifficultyMin:        cfg.Reward.DifficultyMin,
		DifficultyMax:        cfg.Reward.DifficultyMax,
		TrustDefault:         cfg.Reward.TrustDefault,
		TrustFloor:           cfg.Reward.TrustFloor,
		TrustStep:            cfg.Reward.TrustStep,
		RepetitionPenaltyPct: cfg.Reward.RepetitionPenaltyPct,
		BucketMinutes:        cfg.Reward.BucketMinutes,
		DailyHighValueCap:    cfg.Reward.DailyHighValueCap,
		HighValueMin:         cfg.Reward.HighValueMin,
		EnergyPerMinuteCeil:  cfg.Reward.EnergyPerMinuteCeil,
	})
	tracker := stats.NewTracker(proc)

	drainer := queue.NewDrainer(queueStore, client, cfg.BackoffBase, cfg.BackoffCap, cfg.QueueBatchSize)
	orch := orchestrator.New(adapter, proc, tracker, ledgerStore, queueStore, drainer, cursorStore)

	subManager := subscription.NewManager(client, subStore)
	feed := subscription.NewChangeFeed(subManager, client)
	coord := coordinator.New(feed, cfg.CoalescingWindow)

	for _, recordType := range cfg.RecordTypes {
		recordType := recordType
		coord.Register(recordType, coordinator.HandlerFunc(func(ctx context.Context, rt string, ids []string) error {
			log.Printf("[handler] %s changed: %d record(s)", rt, len(ids))
			return nil
		}))
		if _, err := subManager.Ensure(ctx, recordType); err != nil {
			// Subscriptions are retried by the fallback path; startup
			// proceeds offline.
			log.Printf("subscription deferred (record_type=%s): %v", recordType, err)
		}
	}
	// A cloud-side activity change invalidates local assumptions; re-run the
	// sync pass to reconcile.
	coord.Register("activity", coordinator.HandlerFunc(func(ctx context.Context, _ string, _ []string) error {
		_, err := orch.RunSyncPass(ctx)
		if errors.Is(err, orchestrator.ErrPassInProgress) {
			return nil
		}
		return err
	}))

	mux := http.NewServeMux()
	api.NewHandler(orch, queueStore, ledgerStore, adapter, coord).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, mux)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.SyncInterval)
		defer ticker.Stop()
		for {
			if _, err := orch.RunSyncPass(ctx); err != nil &&
				!errors.Is(err, orchestrator.ErrPassInProgress) && !errors.Is(err, context.Canceled) {
				log.Printf("sync pass error: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		drainer.Start(ctx, cfg.SyncInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Start(ctx, cfg.FallbackPollInterval)
	}()

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	wg.Wait()
	coord.Wait()
}
