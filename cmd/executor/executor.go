package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"tradejournal/src/app"
	"tradejournal/src/database"
	"tradejournal/src/server"
)

// Executor is the long running worker: scheduler loop, streams and the
// status server.
type Executor struct{}

func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	opts, err := app.OptionsFromEnv()
	if err != nil {
		return err
	}
	a, err := app.New(database.MainDB, opts)
	if err != nil {
		return err
	}

	scheduler, pool, err := a.NewScheduler()
	if err != nil {
		return err
	}
	defer pool.Release()

	serverDone := make(chan error, 1)
	if config.WithServer {
		go func() {
			serverDone <- server.StartServer(ctx, config.ServePort, server.NewRouter(a.Registry, a.Structures))
		}()
	} else {
		close(serverDone)
	}

	logrus.WithField("pool", opts.Executors.PoolSize).Info("Starting worker")
	if err := scheduler.StartLoop(ctx); err != nil {
		logrus.WithError(err).Error("Failed to start scheduler loop")
		return err
	}

	// ctx is done: stop streams, let queued jobs observe the cancellation
	a.Streams.Shutdown()
	pool.Wait()
	if err := <-serverDone; err != nil {
		logrus.WithError(err).Error("Status server stopped with error")
	}
	logrus.Info("Worker stopped")
	return nil
}
