package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"weatherhub/internal/config"
	"weatherhub/internal/db"
	"weatherhub/internal/httpapi"
	"weatherhub/internal/ingest"
	"weatherhub/internal/migrate"
	"weatherhub/internal/mqtt"
	"weatherhub/internal/query"
	"weatherhub/internal/store"
	"weatherhub/internal/web"
)

func Run(ctx context.Context, cfg config.Config) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"driver", cfg.Driver,
		"sqlitePath", cfg.SQLitePath,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"ingestQueueSize", cfg.IngestQueueSize,
	)

	dbConn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(dbConn); err != nil {
		return err
	}

	readingStore := store.New(dbConn)
	engine := query.NewEngine(readingStore)

	mux := httpapi.NewMux(dbConn)
	httpapi.RegisterAPI(mux, engine)
	web.Register(mux)

	subscriber := mqtt.NewSubscriber(cfg, slog.Default())
	worker := ingest.NewWorker(subscriber.Messages(), readingStore, slog.Default())

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		// The worker returns when the subscriber closes its channel.
		if err := worker.Run(context.Background()); err != nil {
			slog.Error("ingest worker stopped", "error", err)
		}
	}()

	// Use a short timeout for the initial MQTT connect so a down broker
	// doesn't block startup; paho keeps retrying in the background.
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = subscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		slog.Warn("mqtt connection failed (continuing, will retry)", "error", err)
	}

	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		subscriber.Disconnect()
		<-workerDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("mqtt disconnecting")
	subscriber.Disconnect()
	<-workerDone

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
