package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tiger4589/cqrs-lib/internal/app"
	"github.com/tiger4589/cqrs-lib/internal/cli"
	"github.com/tiger4589/cqrs-lib/internal/config"
	"github.com/tiger4589/cqrs-lib/internal/logging"
	"github.com/tiger4589/cqrs-lib/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{Environment: cfg.AppEnv, Level: cfg.LogLevel})
	if err != nil {
		return err
	}
	defer log.Sync()

	shutdown, err := tracing.New(ctx, tracing.Config{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		SampleRatio: cfg.OTelSampleRatio,
	}, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	c, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("error closing backends", zap.Error(err))
		}
	}()

	root := cli.NewRootCommand(cli.Options{
		Dispatcher: c.Dispatcher,
		Log:        log,
		HTTPAddr:   cfg.HTTPAddr,
	})
	return root.ExecuteContext(ctx)
}
