package main

import (
	"context"
	"expvar"
	"net/http"
	"time"

	"qme/internal/checkin"
	"qme/internal/config"
	"qme/internal/eta"
	"qme/internal/events"
	"qme/internal/httpapi"
	"qme/internal/messaging"
	"qme/internal/notify"
	"qme/internal/queue"
	"qme/internal/store"
	pebblestore "qme/internal/store/pebble"
	"qme/internal/store/postgres"
	"qme/internal/telemetry"
	"qme/internal/verify"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ServeCommand struct{}

func (cmd ServeCommand) Command(ctx context.Context, cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the queue server",
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.run(ctx, cfg)
		},
	}
}

func (cmd ServeCommand) run(ctx context.Context, cfg config.Config) error {
	shutdownTelemetry := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "qme",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	templates, err := messaging.LoadTemplates(cfg.TemplatesFile)
	if err != nil {
		return errors.Wrap(err, "serve: load templates")
	}
	sender := messaging.NewSender(messaging.ProviderConfig{
		Kind:         cfg.SMSProvider,
		WebhookURL:   cfg.SMSWebhookURL,
		WebhookToken: cfg.SMSWebhookToken,
		Timeout:      5 * time.Second,
	})

	var sinks []notify.Sink
	if brokers := events.ParseBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		sink := events.NewKafkaSink(events.KafkaConfig{Brokers: brokers, Topic: cfg.KafkaTopic})
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error().Err(err).Msg("close kafka sink")
			}
		}()
		sinks = append(sinks, sink)
		log.Info().Strs("brokers", brokers).Msg("kafka event sink enabled")
	}

	hub := notify.NewHub()
	fanout := notify.NewFanout(hub, notify.Options{
		Buffer:    cfg.FanoutBuffer,
		Sinks:     sinks,
		Guests:    st,
		Sender:    sender,
		Templates: templates,
	})

	engine := queue.NewEngine(queue.Options{Store: st, Publisher: fanout})
	registry := queue.NewRegistry(st, st, engine)
	if _, err := registry.Restore(ctx); err != nil {
		return errors.Wrap(err, "serve: restore queues")
	}

	gate := verify.NewGate(st, verify.Options{
		Digits:    cfg.VerifyCodeDigits,
		HashCost:  cfg.VerifyHashCost,
		TTL:       cfg.VerifyTTL,
		Sender:    sender,
		Templates: templates,
	})

	var checkIns httpapi.CheckIns
	if cfg.RedisAddr != "" {
		redisResolver := checkin.NewRedisResolver(checkin.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisResolver.Ping(ctx); err != nil {
			return errors.Wrap(err, "serve: connect redis")
		}
		defer func() { _ = redisResolver.Close() }()
		checkIns = redisResolver
	}

	handler := httpapi.NewHandler(httpapi.Options{
		Queues:     registry,
		Lines:      engine,
		Estimator:  eta.NewCalculator(engine, cfg.ETAPositionOffset),
		Verifier:   gate,
		Sessions:   st,
		CheckIns:   checkIns,
		SessionTTL: cfg.SessionTTL,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		QueuePerMinute: cfg.QueueRateLimitPerMinute,
		QueueBurst:     cfg.QueueRateLimitBurst,
	})

	api := limiter.Middleware(httpapi.AuthMiddleware(st, cfg.StaffToken, handler.Routes()))
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", httpapi.RealtimeHandler("/realtime", hub, 64))
	mux.Handle("/", api)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(httpapi.LoggingMiddleware(mux), "qme"),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	runCtx, stopFanout := context.WithCancel(context.Background())
	defer stopFanout()
	go fanout.Run(runCtx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("store", cfg.StoreDriver).Msg("qme listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "serve")
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "pebble":
		st, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Sync: true})
		if err != nil {
			return nil, errors.Wrap(err, "serve: open pebble")
		}
		return st, nil
	case "postgres", "":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("serve: DB_DSN is required for the postgres store")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "serve: db connect")
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "serve: db ping")
		}
		return postgres.NewStore(pool), nil
	default:
		return nil, errors.Errorf("serve: unknown store driver %q", cfg.StoreDriver)
	}
}
