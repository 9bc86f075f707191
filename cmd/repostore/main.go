package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/provtrack/repostore/internal/config"
	"github.com/provtrack/repostore/internal/utils"
	"github.com/provtrack/repostore/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "repostore",
		Short:         "Repository-backed document store for the supplier tracker",
		Version:       version.Detailed(),
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// a missing .env is fine
			_ = godotenv.Load()
		},
	}
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "repostore config file")

	rootCmd.AddCommand(
		newConfigCmd(),
		newGetCmd(),
		newPutCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newDeleteCmd(),
		newListFilesCmd(),
		newPullCmd(),
		newPushCmd(),
		newBackupCmd(),
		newModeCmd(),
		newMigrateCmd(),
		newProbeCmd(),
		newStatusCmd(),
		newCacheCmd(),
		newDaemonCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func setupLogging(debug bool) func() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	// stdout carries command output, logs go to stderr
	stderrHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	handlers := []slog.Handler{stderrHandler}
	var logFile *lumberjack.Logger
	if err := utils.EnsureParent(config.DefaultLogFilePath); err == nil {
		logFile = &lumberjack.Logger{
			Filename:   config.DefaultLogFilePath,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		handlers = append(handlers, slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		fmt.Fprintf(os.Stderr, "log file disabled: %v\n", err)
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(handlers...)))
	return func() {
		if logFile != nil {
			logFile.Close()
		}
	}
}

func main() {
	closeLogs := setupLogging(os.Getenv("REPOSTORE_DEBUG") != "")
	defer closeLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("repostore", "error", err)
		stop()
		closeLogs()
		os.Exit(1)
	}
}
