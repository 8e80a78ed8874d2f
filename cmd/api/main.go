// Command api runs the Signato HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"signato.org/internal/auditlog"
	"signato.org/internal/config"
	"signato.org/internal/detect"
	"signato.org/internal/events"
	"signato.org/internal/httpapi"
	"signato.org/internal/obs"
	"signato.org/internal/reauth"
	pgstore "signato.org/internal/store/pg"
	"signato.org/internal/stream"
	"signato.org/internal/workflow"
)

var (
	version = "dev"
	commit  = "unknown"
)

// multiPublisher fans one audit entry out to every configured sink.
type multiPublisher []workflow.Publisher

func (m multiPublisher) Publish(ctx context.Context, entry auditlog.Entry) {
	for _, p := range m {
		p.Publish(ctx, entry)
	}
}

func main() {
	configPath := flag.String("config", os.Getenv("SIGNATO_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Logger().Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		log    auditlog.Log
		outbox events.Outbox
		probe  httpapi.ReadyProbe
		opts   []workflow.Option
	)
	if cfg.DatabaseURL != "" {
		store, err := pgstore.Open(cfg.DatabaseURL)
		if err != nil {
			obs.Logger().Fatalf("open postgres: %v", err)
		}
		defer store.Close()
		log = store
		outbox = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
		opts = append(opts, workflow.WithRepository(store))
	} else {
		log = auditlog.NewMemory()
		outbox = events.NewMemoryOutbox()
		obs.LogRequest(map[string]any{"event": "startup", "detail": "no database configured, state is in-memory"})
	}

	var tokens reauth.TokenStore
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			obs.Logger().Fatalf("parse redis url: %v", err)
		}
		tokens = reauth.NewRedisTokenStore(redis.NewClient(redisOpts))
	} else {
		tokens = reauth.NewMemoryTokenStore()
	}

	secret := os.Getenv("SIGNATO_2FA_SECRET")
	if secret == "" {
		obs.Logger().Fatal("SIGNATO_2FA_SECRET must be set")
	}
	verifier := reauth.NewVerifier(tokens, log, []byte(secret),
		reauth.WithTokenTTL(cfg.TwoFactorTokenTTL),
		reauth.WithProofTTL(cfg.TwoFactorProofTTL),
		reauth.WithAttemptLimit(cfg.TwoFactorMaxAttempt),
	)

	st := stream.New()
	publisher := multiPublisher{st, events.NewOutboxPublisher(outbox)}
	opts = append(opts, workflow.WithVerifier(verifier), workflow.WithPublisher(publisher))

	svc := workflow.NewInMemory(log, opts...)
	if err := svc.Hydrate(ctx); err != nil {
		obs.Logger().Fatalf("hydrate envelopes: %v", err)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		worker := events.NewWorker(outbox, kp,
			events.WithInterval(cfg.OutboxPollInterval),
			events.WithBatchSize(cfg.OutboxBatchSize),
		)
		go worker.Run(ctx)
	}

	apiOpts := []httpapi.APIOption{
		httpapi.WithVerifier(verifier),
		httpapi.WithStream(st),
		httpapi.WithRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
	}
	if cfg.DetectionURL != "" {
		apiOpts = append(apiOpts, httpapi.WithDetector(detect.NewHTTPClient(cfg.DetectionURL)))
	}
	api := httpapi.New(svc, probe, version, apiOpts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: the audit stream holds its response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		obs.LogRequest(map[string]any{"event": "startup", "service": cfg.ServiceID, "addr": cfg.HTTPAddr, "version": version})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Logger().Fatalf("serve: %v", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Logger().Printf("shutdown: %v", err)
	}
	obs.LogRequest(map[string]any{"event": "shutdown"})
}
