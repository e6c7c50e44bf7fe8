package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reh3376/ignition-tools-sub006/internal/config"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/history"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/supervisor"
)

func newRunCmd() *cobra.Command {
	var (
		timeout  time.Duration
		retries  int
		shell    bool
		workDir  string
		envPairs []string
		critical bool
		quiet    bool
		recovery []string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Run a command under supervision",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("command to execute is required; use -- to separate flags from the command")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req := lib.CommandRequest{
				Command:       args[0],
				Args:          args[1:],
				WorkDir:       workDir,
				Timeout:       timeout,
				Shell:         shell,
				Critical:      critical,
				CaptureOutput: !quiet,
			}
			if shell {
				req.Command = strings.Join(args, " ")
				req.Args = nil
			}
			if retries >= 0 {
				req.MaxRetries = &retries
			}
			for _, pair := range envPairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("invalid --env value %q, want KEY=VALUE", pair)
				}
				if req.Env == nil {
					req.Env = make(map[string]string)
				}
				req.Env[k] = v
			}
			for _, name := range recovery {
				action, err := lib.ParseRecoveryAction(name)
				if err != nil {
					return err
				}
				req.RecoveryActions = append(req.RecoveryActions, action)
			}

			fc, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openHistory(fc)
			if err != nil {
				return err
			}
			defer store.Close()

			cfg := fc.SupervisorConfig()
			cfg.Logger = newLogger()
			sup, err := supervisor.New(cfg)
			if err != nil {
				return err
			}
			if err := sup.Start(); err != nil {
				return err
			}
			defer sup.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := sup.Submit(req)
			if err != nil {
				return err
			}

			if req.CaptureOutput {
				go pipe(e.SubscribeStdout(), os.Stdout)
				go pipe(e.SubscribeStderr(), os.Stderr)
			}

			if err := e.Wait(ctx); err != nil {
				// Interrupted: kill the process and seal the record.
				_ = sup.Kill(e.ID())
				waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = e.Wait(waitCtx)
			}

			status, _ := sup.GetStatus(e.ID())
			if err := store.Archive(status, time.Now()); err != nil {
				fmt.Fprintf(os.Stderr, "warning: history archive failed: %v\n", err)
			}
			printRunSummary(os.Stderr, status)

			if !status.State.Successful() {
				return fmt.Errorf("execution %s finished %s", status.ID, status.State)
			}
			return nil
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "execution timeout (default from config)")
	cmd.Flags().IntVarP(&retries, "retries", "r", -1, "recovery budget; -1 uses the config default")
	cmd.Flags().BoolVarP(&shell, "shell", "s", false, "run the command line through sh -c")
	cmd.Flags().StringVarP(&workDir, "workdir", "w", "", "working directory")
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "extra environment, KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&critical, "critical", false, "mark the command critical in escalation diagnostics")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "discard command output instead of streaming it")
	cmd.Flags().StringSliceVar(&recovery, "recovery", nil,
		"recovery actions in order: retry, kill_and_restart, adaptive_timeout, escalate, skip")

	return cmd
}

func pipe(ch <-chan []byte, w *os.File) {
	if ch == nil {
		return
	}
	for chunk := range ch {
		_, _ = w.Write(chunk)
	}
}

func openHistory(fc *config.FileConfig) (*history.Store, error) {
	path, err := fc.HistoryPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

func newLogger() *zap.Logger {
	if !config.Verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
