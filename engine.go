// Package devicetrust wires the session, token, approval, and lockout
// services into one engine. Callers embed the engine behind their own API
// layer; this package owns no transport.
package devicetrust

import (
	"context"
	"errors"
	"fmt"
	"time"

	approvalrepo "device-trust-engine/internal/approval/repository"
	approvalservice "device-trust-engine/internal/approval/service"
	"device-trust-engine/internal/audit"
	"device-trust-engine/internal/cache"
	"device-trust-engine/internal/captcha"
	"device-trust-engine/internal/config"
	"device-trust-engine/internal/db"
	devicerepo "device-trust-engine/internal/device/repository"
	identityservice "device-trust-engine/internal/identity/service"
	"device-trust-engine/internal/lockout"
	"device-trust-engine/internal/notify"
	"device-trust-engine/internal/reauth"
	"device-trust-engine/internal/revocation"
	"device-trust-engine/internal/security"
	sessionrepo "device-trust-engine/internal/session/repository"
	sessionservice "device-trust-engine/internal/session/service"
	"device-trust-engine/internal/telemetry"
	"device-trust-engine/internal/telemetry/otel"
	"device-trust-engine/internal/telemetry/producer"
	tokenrepo "device-trust-engine/internal/token/repository"
	tokenservice "device-trust-engine/internal/token/service"
	userrepo "device-trust-engine/internal/user/repository"
)

// Options overrides external collaborators. Zero value uses the defaults:
// log-only notifier, allow-all captcha, no audit sink.
type Options struct {
	Notifier  notify.Notifier
	Captcha   captcha.Verifier
	AuditSink audit.Sink
}

// Engine exposes the assembled services. Fields are set once by New and safe
// for concurrent use.
type Engine struct {
	Auth      *identityservice.AuthService
	Tokens    *tokenservice.Issuer
	Sessions  *sessionservice.Manager
	Approvals *approvalservice.Service
	Lockout   *lockout.Guard
	Reauth    *reauth.Flags

	closers []func() error
}

// New builds the engine from config: Postgres pool, shared cache, token
// provider, telemetry, and every service on top of them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("devicetrust: DATABASE_URL is required")
	}
	if cfg.JWTPrivateKey == "" || cfg.JWTPublicKey == "" {
		return nil, errors.New("devicetrust: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required")
	}
	if cfg.IsProduction() && cfg.RedisAddr == "" {
		return nil, errors.New("devicetrust: REDIS_ADDR is required when APP_ENV=production")
	}

	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.Captcha == nil {
		opts.Captcha = captcha.AllowAll{}
	}

	e := &Engine{}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("devicetrust: open database: %w", err)
	}
	e.closers = append(e.closers, func() error { pool.Close(); return nil })

	var store cache.Store
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("devicetrust: connect cache: %w", err)
		}
		e.closers = append(e.closers, redisStore.Close)
		store = redisStore
	} else {
		store = cache.NewMemoryStore()
	}

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("devicetrust: parse private key: %w", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("devicetrust: parse public key: %w", err)
	}
	tokens := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "device-trust-engine", false)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("devicetrust: telemetry: %w", err)
	}
	e.closers = append(e.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return providers.Shutdown(shutdownCtx)
	})

	var emitter telemetry.EventEmitter = otel.NewEventEmitter(providers.LoggerProvider)
	if brokers := cfg.TelemetryKafkaBrokersList(); len(brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(brokers, cfg.TelemetryKafkaTopic)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("devicetrust: kafka: %w", err)
		}
		if kafkaProducer != nil {
			e.closers = append(e.closers, kafkaProducer.Close)
			emitter = kafkaProducer
		}
	}

	users := userrepo.NewPostgresRepository(pool)
	devices := devicerepo.NewPostgresRepository(pool)
	sessions := sessionrepo.NewPostgresRepository(pool)
	creds := tokenrepo.NewPostgresRepository(pool)
	approvals := approvalrepo.NewPostgresRepository(pool)

	revoker := revocation.NewRevoker(store)
	flags := reauth.NewFlags(store, cfg.RefreshTTL())
	hasher := security.NewHasher(cfg.BcryptCost)
	auditor := audit.NewLogger(opts.AuditSink)

	e.Reauth = flags
	e.Lockout = lockout.NewGuard(users, store, cfg.LockoutThreshold,
		cfg.LockoutWindow(), cfg.LockoutDuration(), emitter)
	e.Sessions = sessionservice.NewManager(sessions, devices, creds, revoker,
		cfg.SessionTTL(), cfg.AccessTTL(), emitter)
	e.Approvals = approvalservice.NewService(approvals, sessions, e.Sessions, revoker,
		store, opts.Captcha, opts.Notifier, emitter,
		cfg.ApprovalTTL(), cfg.AccessTTL(), cfg.CaptchaFailureThreshold)
	e.Sessions.SetApprovalResolver(e.Approvals)
	e.Tokens = tokenservice.NewIssuer(creds, sessions, revoker, flags, tokens,
		cfg.RefreshTTL(), emitter)
	e.Auth = identityservice.NewAuthService(users, hasher, e.Lockout, e.Sessions,
		e.Approvals, e.Tokens, flags, auditor, emitter)

	return e, nil
}

// Close releases the engine's connections in reverse acquisition order.
func (e *Engine) Close() error {
	var firstErr error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
