package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/g4mless/mykelas-web/core"
	logsvc "github.com/g4mless/mykelas-web/services/logger"
	"github.com/g4mless/mykelas-web/services/identity/gotrue"
	"github.com/g4mless/mykelas-web/storage/inmem"
	"github.com/g4mless/mykelas-web/storage/local"
	"github.com/g4mless/mykelas-web/storage/redis"
)

func main() {
	std := log.New(os.Stderr, "KLAS : ", log.LstdFlags|log.Lshortfile)

	conf, err := core.LoadConfig()
	if err != nil {
		logsvc.NewConsoleLogger(std, false).Fatal(fmt.Sprintf("loading config: %v", err), err)
	}
	logger, closeLogger := newLogger(std, conf)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// =========================================================================
	// Set up Dependencies

	storage, closeStorage, err := openStorage(ctx, conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening storage: %v", err), err)
	}
	provider := gotrue.New(conf.Identity, storage, logger)

	app, err := newApp(ctx, appDeps{
		Conf:     conf,
		Logger:   logger,
		Storage:  storage,
		Provider: provider,
	})
	if err != nil {
		logger.Fatal(fmt.Sprintf("starting: %v", err), err)
	}

	// =========================================================================
	// Run

	cli := newCommandLine(app, os.Stdin, os.Stdout, os.Stderr)
	err = cli.run(ctx, os.Args)

	app.Close()
	provider.Close()
	closeStorage()
	closeLogger()

	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
		os.Exit(1)
	}
}

// newLogger reports to Rollbar when a token is configured. Reports are muted in debug mode.
func newLogger(std *log.Logger, conf *core.Config) (core.Logger, func()) {
	if conf.RollbarToken == "" {
		return logsvc.NewConsoleLogger(std, conf.Debug), func() {}
	}
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	return logger, logger.Close
}

func openStorage(ctx context.Context, conf *core.Config) (core.Storage, func(), error) {
	switch conf.Storage.Driver {
	case core.StorageRedis:
		store, err := redisstore.Open(ctx, conf.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case core.StorageMemory:
		return inmem.NewStore(), func() {}, nil
	default:
		store, err := local.Open(conf.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
