package ingest

import (
	"context"
	"errors"
	"log/slog"

	"weatherhub/internal/mqtt"
	"weatherhub/internal/store"
)

// Worker drains the transport channel and writes normalized readings to
// the store, one message at a time. Failures local to one message are
// logged and dropped; the loop never stops for them. A failed append
// loses that message (no retry queue) — acceptable loss bounded by the
// store outage duration.
type Worker struct {
	messages <-chan mqtt.Envelope
	store    store.ReadingStore
	logger   *slog.Logger
}

func NewWorker(messages <-chan mqtt.Envelope, st store.ReadingStore, logger *slog.Logger) *Worker {
	return &Worker{messages: messages, store: st, logger: logger}
}

// Run processes messages until ctx is done or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-w.messages:
			if !ok {
				return nil
			}
			w.handle(env)
		}
	}
}

func (w *Worker) handle(env mqtt.Envelope) {
	reading, err := Normalize(env.Topic, env.Payload, env.ReceivedAt)
	if err != nil {
		var nerr *NormalizeError
		reason := "unknown"
		if errors.As(err, &nerr) {
			reason = nerr.Reason
		}
		w.logger.Warn("message dropped",
			"topic", env.Topic,
			"reason", reason,
			"payload", truncate(env.Payload, 256),
			"error", err,
		)
		return
	}

	if _, err := w.store.Append(reading); err != nil {
		w.logger.Error("append failed, reading dropped",
			"topic", env.Topic,
			"station_id", reading.StationID,
			"error", err,
		)
		return
	}

	w.logger.Debug("reading stored",
		"station_id", reading.StationID,
		"timestamp", reading.Timestamp,
	)
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
