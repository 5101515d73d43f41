package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"seo-rules-engine/internal/storage"
)

// withStore opens the configured store, executes the function, and handles cleanup.
func withStore(ctx context.Context, fn func(storage.Store) error) error {
	s, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer s.Close()

	return fn(s)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
