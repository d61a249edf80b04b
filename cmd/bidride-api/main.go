// README: Entry point; loads config, wires stores and services, runs the HTTP server and the notification workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"bidride/internal/config"
	httptransport "bidride/internal/http"
	"bidride/internal/infra"
	"bidride/internal/logging"
	"bidride/internal/modules/booking"
	"bidride/internal/modules/drivers"
	"bidride/internal/modules/rating"
	"bidride/internal/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		return errors.New("BIDRIDE_FIREBASE_PROJECT_ID is required")
	}
	fb, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := fb.Verifier(ctx)
	if err != nil {
		return err
	}

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	driverSvc := drivers.NewService(drivers.NewStore(redisClient), drivers.Config{
		RadiusKm:      cfg.Dispatch.RadiusKm,
		MaxCandidates: cfg.Dispatch.MaxCandidates,
		PresenceTTL:   cfg.Dispatch.PresenceTTL,
	}, log)

	sender, closeSender, err := newSender(ctx, cfg, fb, driverSvc, log)
	if err != nil {
		return err
	}
	defer closeSender()

	dispatcher := notify.NewDispatcher(sender, cfg.Notify.Workers, cfg.Notify.QueueSize, log)
	dispatcher.Start(ctx)

	bookingStore := booking.NewPGStore(dbPool)
	registry := booking.NewRegistry(bookingStore, driverSvc, log)
	offers := booking.NewOfferBook(bookingStore, dispatcher, driverSvc, log)
	lifecycle := booking.NewLifecycle(bookingStore, dispatcher, driverSvc, log)
	ratings := rating.NewService(rating.NewPGStore(dbPool), registry, dispatcher, log)

	srv := httptransport.NewServer(httptransport.ServerDeps{
		Registry:  registry,
		Offers:    offers,
		Lifecycle: lifecycle,
		Ratings:   ratings,
		Drivers:   driverSvc,
		Notifier:  dispatcher,
		Verifier:  verifier,
		Logger:    log,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Routes()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		err := server.Shutdown(shutdownCtx)
		if derr := dispatcher.Close(shutdownCtx); derr != nil {
			log.Warn("notification queue not drained", "err", derr)
		}
		return err
	})
	return g.Wait()
}

// newSender builds the notification transport named by BIDRIDE_NOTIFY_TRANSPORT.
func newSender(ctx context.Context, cfg config.Config, fb *infra.Firebase, tokens notify.TokenSource, log *slog.Logger) (notify.Sender, func(), error) {
	noop := func() {}
	switch cfg.Notify.Transport {
	case config.TransportFCM:
		client, err := fb.Messaging(ctx)
		if err != nil {
			return nil, noop, err
		}
		return notify.NewFCMSender(client, tokens), noop, nil
	case config.TransportAMQP:
		conn, ch, err := infra.DialAMQP(ctx, cfg.Notify.AMQP.URL, log)
		if err != nil {
			return nil, noop, err
		}
		if err := notify.DeclareExchange(ch, cfg.Notify.AMQP.Exchange); err != nil {
			_ = conn.Close()
			return nil, noop, fmt.Errorf("declare exchange: %w", err)
		}
		return notify.NewAMQPSender(ch, cfg.Notify.AMQP.Exchange), func() {
			_ = ch.Close()
			_ = conn.Close()
		}, nil
	case config.TransportKafka:
		w := notify.NewKafkaWriter(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic)
		return notify.NewKafkaSender(w), func() { _ = w.Close() }, nil
	default:
		return notify.NewLogSender(log), noop, nil
	}
}
