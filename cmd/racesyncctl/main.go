package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ErlanBelekov/race-sync/config"
	"github.com/ErlanBelekov/race-sync/internal/app"
	"github.com/ErlanBelekov/race-sync/internal/cli"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// logs go to stderr so --format json output stays parseable
	logger := app.NewLogger(cfg.Env, cfg.SlogLevel(), os.Stderr)

	opts := &cli.RootOptions{
		Connect: func(ctx context.Context) (cli.Service, func(), error) {
			a, err := app.New(ctx, cfg, logger, 4)
			if err != nil {
				return nil, nil, err
			}
			return a.Service, a.Close, nil
		},
		Tokens: usecase.NewTokenIssuer([]byte(cfg.JWTSecret)),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = cli.NewRootCommand(opts).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
