package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reglament/internal/app"
	"reglament/internal/config"
	"reglament/internal/store"
	"reglament/internal/transport/httpapi"
	logx "reglament/pkg/logx"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:           "reglament",
		Short:         "Scheduled operations and reminders delivered over Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd(), configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint("error:"), err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, bot and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			var reason app.StopReason
			select {
			case s := <-sigs:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), store.Config{
				Driver:       cfg.Storage.Driver,
				Path:         cfg.Storage.Path,
				DSN:          cfg.Storage.DSN,
				BusyTimeout:  busy,
				MaxOpenConns: cfg.Storage.MaxOpenConn,
			}, logx.NewConsole(cfg.Logging.Level))
			if err != nil {
				return err
			}
			fmt.Println(color.New(color.FgGreen).Sprint("schema up to date"), "driver="+cfg.Storage.Driver)
			return st.Close()
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <telegram_id>",
		Short: "Issue an API bearer token for a Telegram user",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tg, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || tg == 0 {
				return fmt.Errorf("invalid telegram id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ttl, err := config.ParseDurationField("auth.token_ttl", cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			auth, err := httpapi.NewAuth(cfg.Auth.JWTSecret, ttl)
			if err != nil {
				return err
			}
			tok, exp, err := auth.IssueToken(tg)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			fmt.Fprintln(os.Stderr, color.New(color.FgYellow).Sprint("expires"), exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Inspect the configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the config file",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := loadConfig(); err != nil {
				fmt.Printf("%s %s\n", color.New(color.FgRed).Sprint("INVALID"), cfgPath)
				return err
			}
			fmt.Printf("%s %s\n", color.New(color.FgGreen).Sprint("OK"), cfgPath)
			return nil
		},
	})
	return c
}
