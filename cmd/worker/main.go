// worker runs the maintenance sweeper: it revokes sessions past their expiry
// and expires stale device approval requests on a fixed interval.
// Requires DATABASE_URL; REDIS_ADDR, KAFKA_BROKERS, and OTLP_ENDPOINT are optional.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	approvalrepo "device-trust-engine/internal/approval/repository"
	approvalservice "device-trust-engine/internal/approval/service"
	"device-trust-engine/internal/cache"
	"device-trust-engine/internal/captcha"
	"device-trust-engine/internal/config"
	"device-trust-engine/internal/db"
	devicerepo "device-trust-engine/internal/device/repository"
	"device-trust-engine/internal/notify"
	"device-trust-engine/internal/revocation"
	sessionrepo "device-trust-engine/internal/session/repository"
	sessionservice "device-trust-engine/internal/session/service"
	"device-trust-engine/internal/telemetry"
	"device-trust-engine/internal/telemetry/otel"
	"device-trust-engine/internal/telemetry/producer"
	tokenrepo "device-trust-engine/internal/token/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	var store cache.Store
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		if cfg.IsProduction() {
			log.Fatal("worker: REDIS_ADDR is required when APP_ENV=production")
		}
		log.Println("worker: REDIS_ADDR not set, using in-memory store (single process only)")
		store = cache.NewMemoryStore()
	}

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "dte-worker", false)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: otel shutdown: %v", err)
		}
	}()

	var emitter telemetry.EventEmitter = otel.NewEventEmitter(providers.LoggerProvider)
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			log.Fatalf("kafka: %v", err)
		}
		if kafkaProducer != nil {
			defer kafkaProducer.Close()
			emitter = kafkaProducer
		}
	}

	sessions := sessionrepo.NewPostgresRepository(pool)
	devices := devicerepo.NewPostgresRepository(pool)
	creds := tokenrepo.NewPostgresRepository(pool)
	approvals := approvalrepo.NewPostgresRepository(pool)
	revoker := revocation.NewRevoker(store)

	manager := sessionservice.NewManager(sessions, devices, creds, revoker,
		cfg.SessionTTL(), cfg.AccessTTL(), emitter)
	approvalSvc := approvalservice.NewService(approvals, sessions, manager, revoker,
		store, captcha.AllowAll{}, notify.LogNotifier{}, emitter,
		cfg.ApprovalTTL(), cfg.AccessTTL(), cfg.CaptchaFailureThreshold)
	manager.SetApprovalResolver(approvalSvc)

	interval := cfg.WorkerSweepInterval()
	log.Printf("worker: sweeping every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped")
			return
		case <-ticker.C:
			sweep(ctx, manager, approvalSvc)
		}
	}
}

func sweep(ctx context.Context, manager *sessionservice.Manager, approvals *approvalservice.Service) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if n, err := manager.SweepExpired(sweepCtx, now); err != nil {
		log.Printf("worker: session sweep: %v", err)
	} else if n > 0 {
		log.Printf("worker: revoked %d expired sessions", n)
	}
	if n, err := approvals.ExpireStale(sweepCtx, now); err != nil {
		log.Printf("worker: approval sweep: %v", err)
	} else if n > 0 {
		log.Printf("worker: expired %d stale approvals", n)
	}
}
