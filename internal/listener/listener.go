package listener

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"seo-rules-engine/internal/engine"
)

const debounce = 200 * time.Millisecond

// Source is a Postgres-backed store that publishes rule changes.
type Source interface {
	engine.Loader
	PgxPool() *pgxpool.Pool
	ListenChannel() string
}

// ListenAndRefresh rebuilds the engine snapshot whenever the store signals a
// rule change. Connection failures are retried with jittered backoff until
// ctx is done.
func ListenAndRefresh(ctx context.Context, st Source, eng *engine.DeliveryEngine, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	for {
		err := listen(ctx, st, eng, channel)
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		backoff := jitter(baseBackoff)
		log.Error().Err(err).Dur("retry_in", backoff).Str("channel", channel).Msg("listen failed")
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		case <-time.After(backoff):
		}
	}
}

func listen(ctx context.Context, st Source, eng *engine.DeliveryEngine, channel string) error {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for DB changes")

	// changes may have landed while we were disconnected
	refresh(ctx, st, eng, "listen")

	var lastRefresh time.Time
	for {
		ntf, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		if time.Since(lastRefresh) < debounce {
			continue // debounce burst of notifications
		}
		lastRefresh = time.Now()
		refresh(ctx, st, eng, ntf.Payload)
	}
}

func refresh(ctx context.Context, st engine.Loader, eng *engine.DeliveryEngine, reason string) {
	log.Info().Str("reason", reason).Msg("db change; refreshing snapshot")
	if err := eng.BuildSnapshot(ctx, st); err != nil {
		log.Error().Err(err).Msg("refresh snapshot error")
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
