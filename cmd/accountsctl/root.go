package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/notification"
	"github.com/goliatone/go-accounts/provider/auth0"
	"github.com/goliatone/go-accounts/repository"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"gopkg.in/yaml.v3"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		errObj := map[string]any{
			"error": err.Error(),
		}
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			errObj["text_code"] = richErr.TextCode
			errObj["category"] = string(richErr.Category)
			if len(richErr.Metadata) > 0 {
				errObj["metadata"] = richErr.Metadata
			}
		}
		fmt.Fprintln(os.Stderr, print.MaybePrettyJSON(errObj))
		return 1
	}
	return 0
}

// app holds the resources shared by every subcommand.
type app struct {
	config  *AppConfig
	out     io.Writer
	logger  *glog.BaseLogger
	db      *bun.DB
	sqlDB   *sql.DB
	redis   *redis.Client
	manager repository.Manager
	service *accounts.Service

	// auth0Options are appended when the auth0 identity store is built.
	auth0Options []auth0.IdentityStoreOption
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{})
}

func newRootCmdFor(a *app) *cobra.Command {
	var (
		cfgFile       string
		dsn           string
		output        string
		identityStore string
		verbose       bool
	)

	rootCmd := &cobra.Command{
		Use:           "accountsctl",
		Short:         "Provision and deprovision accounts",
		Long:          "Command-line interface for the account lifecycle: provisioning, deprovisioning and credential rotation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(viper.New(), cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.config = cfg
			a.out = cmd.OutOrStdout()
			a.logger = newLogger(cfg.Verbose)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./accounts.yaml)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", "", "Database DSN")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")
	rootCmd.PersistentFlags().StringVar(&identityStore, "identity-store", "", "Identity store (local, auth0)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Trace level logging")

	rootCmd.AddCommand(newMigrateCmd(a))
	rootCmd.AddCommand(newCreateCmd(a))
	rootCmd.AddCommand(newImportCmd(a))
	rootCmd.AddCommand(newDeleteCmd(a))
	rootCmd.AddCommand(newBulkDeleteCmd(a))
	rootCmd.AddCommand(newRotateCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

func newLogger(verbose bool) *glog.BaseLogger {
	if verbose {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("accountsctl"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
		)
	}

	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("accountsctl"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

func (a *app) openDB() error {
	if a.db != nil {
		return nil
	}

	sqlDB, err := sql.Open(sqliteshim.ShimName, a.config.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	a.sqlDB = sqlDB
	a.db = bun.NewDB(sqlDB, sqlitedialect.New())

	if _, err := a.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	return nil
}

// init opens the database and wires the service around the configured stores.
func (a *app) init(ctx context.Context) error {
	if a.service != nil {
		return nil
	}

	if err := a.openDB(); err != nil {
		return err
	}

	var storeOpts []repository.IdentityStoreOption
	if a.config.HashedIDs {
		storeOpts = append(storeOpts, repository.WithHashedIdentityIDs())
	}
	a.manager = repository.NewRepositoryManager(a.db, storeOpts...)
	if err := a.manager.Validate(); err != nil {
		return err
	}

	var identities accounts.IdentityStore = a.manager.Identities()
	if a.config.IdentityStore == identityStoreAuth0 {
		// the member profile trigger only sees local rows
		auth0Opts := append([]auth0.IdentityStoreOption{
			auth0.WithLogger(a.logger.GetLogger("auth0")),
			auth0.WithIdentityMirror(a.manager.Identities()),
		}, a.auth0Options...)

		store, err := auth0.NewIdentityStore(ctx, a.config.Auth0, auth0Opts...)
		if err != nil {
			return err
		}
		identities = store
	}

	opts := []accounts.ServiceOption{
		accounts.WithLogger(a.logger),
		accounts.WithLoggerProvider(a.logger),
		accounts.WithCleaners(a.manager.Cleaners()...),
		accounts.WithNotifier(a.notifier()),
	}

	if a.config.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.config.Redis.Addr,
			Password: a.config.Redis.Password,
			DB:       a.config.Redis.DB,
		})
		opts = append(opts, accounts.WithActivitySink(
			activitymap.NewStreamSink(a.redis, activitymap.WithStream(a.config.Redis.Stream)),
		))
	}

	a.service = accounts.NewService(identities, a.manager.Profiles(), a.config.Accounts, opts...)
	return nil
}

func (a *app) notifier() accounts.NotificationDispatcher {
	logDispatcher := notification.LogDispatcher{Logger: a.logger.GetLogger("notification")}
	if a.config.SMTP.Host == "" {
		return logDispatcher
	}

	if err := a.config.SMTP.Validate(); err != nil {
		a.logger.Warn("smtp disabled, invalid configuration", "error", err)
		return logDispatcher
	}

	return notification.Fanout{
		logDispatcher,
		notification.NewSMTPDispatcher(a.config.SMTP,
			notification.WithLogger(a.logger.GetLogger("smtp")),
		),
	}
}

func (a *app) close() error {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *app) print(v any) error {
	if a.config != nil && a.config.Output == "yaml" {
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output to YAML: %w", err)
		}
		_, err = fmt.Fprint(a.out, string(out))
		return err
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output to JSON: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(out))
	return err
}
