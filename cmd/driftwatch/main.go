package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/driftwatch/driftwatch/internal/auth"
	"github.com/driftwatch/driftwatch/internal/buildinfo"
	"github.com/driftwatch/driftwatch/internal/clientinfo"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/history"
	"github.com/driftwatch/driftwatch/internal/logx"
	"github.com/driftwatch/driftwatch/internal/miner"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/notify"
	"github.com/driftwatch/driftwatch/internal/pubsub"
)

// Exit codes.
const (
	exitOK       = 0
	exitFatal    = 1
	exitLocked   = 3
	exitSettings = 4
)

// shutdownGrace bounds how long a signalled process waits for the miner to
// unwind before giving up.
const shutdownGrace = 15 * time.Second

// verbosity implements a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(string) error {
	*v++
	return nil
}

// IsBoolFlag lets -v appear without a value.
func (v *verbosity) IsBoolFlag() bool { return true }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("driftwatch", flag.ExitOnError)
	var (
		showVersion = fs.Bool("version", false, "print the version and exit")
		logToFile   = fs.Bool("log", false, "also write the log to log.txt in the data dir")
		dump        = fs.Bool("dump", false, "print the campaigns that would be mined and exit")
		debugWS     = fs.Bool("debug-ws", false, "debug logging for websocket traffic")
		debugGQL    = fs.Bool("debug-gql", false, "debug logging for GQL traffic")
		verbose     verbosity
	)
	fs.Var(&verbose, "v", "increase verbosity (repeatable)")
	fs.Parse(args)

	if *showVersion {
		fmt.Printf("driftwatch %s (commit %s, built %s)\n",
			buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
		return exitOK
	}

	logx.SetLevel(logx.Level(verbose))
	if *debugWS {
		logx.ForceDebug("pubsub")
	}
	if *debugGQL {
		logx.ForceDebug("gql")
	}

	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		return exitFatal
	}
	if err := os.MkdirAll(envCfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: data dir: %v\n", err)
		return exitFatal
	}

	lock, err := acquireRunLock(envCfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		if errors.Is(err, errLockHeld) {
			return exitLocked
		}
		return exitFatal
	}
	defer lock.Release()

	settingsPath := filepath.Join(envCfg.DataDir, "settings.json")
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		return exitSettings
	}

	if *logToFile {
		f, err := os.OpenFile(filepath.Join(envCfg.DataDir, "log.txt"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "driftwatch: log file: %v\n", err)
			return exitFatal
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, f))
	}

	if err := gql.LoadHashOverrides(filepath.Join(envCfg.DataDir, "gql_hashes.yaml")); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: %v\n", err)
		return exitFatal
	}

	store, err := history.Open(envCfg.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: history: %v\n", err)
		return exitFatal
	}
	defer store.Close()
	if err := store.BeginRun(lock.runID, buildinfo.Version); err != nil {
		fmt.Fprintf(os.Stderr, "driftwatch: history: %v\n", err)
		return exitFatal
	}

	client := clientinfo.ByName(envCfg.ClientType)
	session := netutil.NewSession(netutil.SessionConfig{
		UserAgent:  client.UserAgent,
		CookiePath: filepath.Join(envCfg.DataDir, "cookies.json"),
		Quality:    func() int { return settings.ConnectionQuality },
		ProxyURL:   func() string { return settings.Proxy },
	})
	authState := auth.New(auth.Config{Client: client, Session: session})
	gqlClient := gql.NewClient(gql.ClientConfig{Session: session, Auth: authState})
	pool := pubsub.NewPool(pubsub.Config{
		Creds:    authState,
		ProxyURL: func() string { return settings.Proxy },
	})

	var notifier *notify.Telegram
	if envCfg.TelegramBotToken != "" {
		notifier = notify.NewTelegram(envCfg.TelegramBotToken, envCfg.TelegramChatID)
	}

	minerCfg := miner.Config{
		Session:  session,
		GQL:      gqlClient,
		Auth:     authState,
		Pool:     pool,
		Settings: settings,
		History:  store,
		Notifier: notifier,
	}
	if *dump {
		applyDumpMode(&minerCfg)
	}
	m := miner.New(minerCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flushDone := make(chan struct{})
	go flushLoop(ctx, store, envCfg.HistoryFlushInterval, flushDone)

	logx.Infof("main", "driftwatch %s starting (data dir %s)", buildinfo.Version, envCfg.DataDir)

	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-runDone:
	case <-ctx.Done():
		logx.Infof("main", "shutting down")
		select {
		case runErr = <-runDone:
		case <-time.After(shutdownGrace):
			logx.Errorf("main", "miner did not stop within %s", shutdownGrace)
			return exitFatal
		}
	}

	stop()
	<-flushDone
	if err := store.Flush(); err != nil {
		logx.Warnf("history", "final flush: %v", err)
	}
	if err := settings.Save(settingsPath); err != nil {
		logx.Warnf("main", "saving settings: %v", err)
	}
	if err := session.SaveCookies(); err != nil {
		logx.Warnf("main", "saving cookies: %v", err)
	}

	if runErr != nil {
		logx.Errorf("main", "%v", runErr)
		return exitFatal
	}
	return exitOK
}

// flushLoop periodically writes pending history rows until ctx ends. The
// final flush at shutdown picks up whatever is left.
func flushLoop(ctx context.Context, store *history.Store, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if store.Pending() == 0 {
				continue
			}
			if err := store.Flush(); err != nil {
				logx.Warnf("history", "flush: %v", err)
			}
		}
	}
}
