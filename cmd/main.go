package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/natefinch/lumberjack.v2"
	"tradejournal/cmd/executor"
	"tradejournal/cmd/keys"
	"tradejournal/src/app"
	"tradejournal/src/database"
	"tradejournal/src/jobs"
	"tradejournal/src/reconcile"
	"tradejournal/src/server"
)

var Version string

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "tradejournal"
	cliApp.Usage = "Trading journal sync, streaming and market structure worker"
	cliApp.Version = Version
	cliApp.Before = func(*cli.Context) error {
		SetupLogger()
		return nil
	}

	cliApp.Commands = []cli.Command{
		workerCMD,
		syncCMD,
		quickSyncCMD,
		streamCMD,
		structureCMD,
		cleanupCMD,
		serveCMD,
		keysCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// SetupLogger reads LOG_LEVEL, LOG_FORMAT (text|json) and LOG_FILE. A log
// file is rotated by lumberjack and written next to stderr.
func SetupLogger() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		logrus.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}))
	}
}

var connectionFlag = cli.UintFlag{
	Name:  "connection, c",
	Usage: "exchange connection id",
}

var (
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run the scheduler",
		Action:      workerAction,
		Description: `Run scheduled full syncs, streams, structure refresh and cleanup`,
	}
	syncCMD = cli.Command{
		Name:        "sync",
		Usage:       "run a full sync of one connection",
		Action:      syncAction(reconcile.KindFull),
		Flags:       []cli.Flag{connectionFlag},
		Description: `Full sync with the retry policy of scheduled runs`,
	}
	quickSyncCMD = cli.Command{
		Name:        "quicksync",
		Usage:       "run a quick sync of one connection",
		Action:      syncAction(reconcile.KindQuick),
		Flags:       []cli.Flag{connectionFlag},
		Description: `Trailing 24h executions, closed pnl and open positions`,
	}
	streamCMD = cli.Command{
		Name:   "stream",
		Usage:  "stream executions of one connection until interrupted",
		Action: streamAction,
		Flags:  []cli.Flag{connectionFlag},
	}
	structureCMD = cli.Command{
		Name:   "structure",
		Usage:  "refresh market structure",
		Action: structureAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "symbol", Usage: "only this symbol"},
			cli.StringFlag{Name: "timeframe", Value: "1h", Usage: "timeframe used with --symbol"},
		},
	}
	cleanupCMD = cli.Command{
		Name:   "cleanup",
		Usage:  "apply retention rules",
		Action: cleanupAction,
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "dry-run", Usage: "report counts without deleting"},
		},
	}
	serveCMD = cli.Command{
		Name:   "serve",
		Usage:  "serve healthcheck, stream states and structure snapshots",
		Action: serveAction,
	}
	keysCMD = cli.Command{
		Name:  "set_key",
		Usage: "store encrypted exchange credentials for a user",
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
			cli.StringFlag{Name: "key", Usage: "api key"},
			cli.StringFlag{Name: "secret", Usage: "api secret"},
		},
		Action: keysAction,
	}
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func bootstrap() (*app.App, error) {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return nil, err
	}
	opts, err := app.OptionsFromEnv()
	if err != nil {
		return nil, err
	}
	return app.New(database.MainDB, opts)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func workerAction(_ *cli.Context) error {
	logrus.WithField("cmd", "worker").Info("Starting worker CMD")

	worker := &executor.Executor{}
	if err := worker.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func syncAction(kind string) func(*cli.Context) error {
	return func(c *cli.Context) error {
		id := c.Uint("connection")
		if id == 0 {
			return errors.New("--connection is required")
		}
		log := logrus.WithFields(logrus.Fields{"cmd": kind + "sync", "connection_id": id})

		ctx, stop := signalContext()
		defer stop()
		a, err := bootstrap()
		if err != nil {
			return err
		}
		conn, err := a.Connections.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load connection %d: %w", id, err)
		}

		if err := a.Runner.Run(ctx, a.Sync.Job(*conn, kind)); err != nil {
			if errors.Is(err, jobs.ErrOverlap) {
				log.Warn("Sync already running")
			}
			return err
		}
		log.Info("Sync done")
		return nil
	}
}

func streamAction(c *cli.Context) error {
	id := c.Uint("connection")
	if id == 0 {
		return errors.New("--connection is required")
	}
	ctx, stop := signalContext()
	defer stop()
	a, err := bootstrap()
	if err != nil {
		return err
	}
	conn, err := a.Connections.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load connection %d: %w", id, err)
	}
	if _, err := a.Streams.Ensure(ctx, *conn); err != nil {
		return err
	}
	<-ctx.Done()
	a.Streams.Shutdown()

	if st, ok := a.Registry.Get(id); ok {
		return printJSON(st)
	}
	return nil
}

func structureAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := bootstrap()
	if err != nil {
		return err
	}

	if symbol := c.String("symbol"); symbol != "" {
		ms, computed, err := a.Structure.Refresh(ctx, symbol, c.String("timeframe"))
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"symbol": symbol, "computed": computed}).Info("Structure ready")
		return printJSON(ms)
	}

	report, err := a.Structure.RefreshAll(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func cleanupAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := bootstrap()
	if err != nil {
		return err
	}
	if c.Bool("dry-run") {
		a.Cleaner.Config.DryRun = true
	}
	report, err := a.Cleaner.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func serveAction(_ *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := bootstrap()
	if err != nil {
		return err
	}
	return server.StartServer(ctx, server.GetConfig().Port, server.NewRouter(a.Registry, a.Structures))
}

func keysAction(c *cli.Context) error {
	ctx, stop := signalContext()
	defer stop()
	a, err := bootstrap()
	if err != nil {
		return err
	}
	k := &keys.Keys{
		Cipher:      a.Options.Cipher,
		Connections: a.Connections,
		Config:      keys.GetConfig(),
	}
	conn, err := k.Set(ctx, c.Uint("user"), c.String("key"), c.String("secret"))
	if err != nil {
		return err
	}
	fmt.Printf("connection for user %d on %s stored\n", conn.UserID, conn.Exchange)
	return nil
}
