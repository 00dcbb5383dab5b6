package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	logrustash "github.com/bshuster-repo/logrus-logstash-hook"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var logger = logrus.New()

func initLogger(cfg *Config) {
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	if cfg.LogstashAddr != "" {
		conn, err := net.Dial("tcp", cfg.LogstashAddr)
		if err != nil {
			logger.WithError(err).WithField("addr", cfg.LogstashAddr).Warn("Logstash unreachable, shipping disabled")
			return
		}
		logger.AddHook(logrustash.New(conn, logrustash.DefaultFormatter(logrus.Fields{"type": "codeqna-api"})))
	}
}

func afterRequestLogging(start time.Time, r *http.Request) {
	duration := time.Since(start)

	entry := requestLogger(r).WithField("duration", duration)
	if duration > 2*time.Second {
		entry.Warn("Slow request detected")
	} else {
		entry.Info("Request completed quickly")
	}
}

func connectDB(cfg *Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gormCfg := &gorm.Config{TranslateError: true}

	if cfg.DBHost == "" {
		logger.WithField("path", cfg.Database).Info("Connecting to SQLite database")
		db, err = gorm.Open(sqlite.Open(cfg.Database), gormCfg)
	} else {
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		)
		logger.WithField("host", cfg.DBHost).Info("Connecting to PostgreSQL database")
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	}

	if err != nil {
		logger.WithError(err).Error("Failed to connect to the database")
		return nil, err
	}

	logger.Info("Database connection successful")
	return db, nil
}

func newRouter(api *API, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID)
	r.Handle("/metrics", metricsHandler)
	api.Routes(r)
	return r
}

func serve(cfg *Config) error {
	db, err := connectDB(cfg)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	metrics := InitMetrics(prometheus.DefaultRegisterer)
	limiter := newAuthLimiter(rate.Limit(cfg.AuthRate), cfg.AuthBurst, cfg.TrustedProxies)
	api := NewAPI(db, newSessionStore(cfg), metrics, limiter)

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           newRouter(api, promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.WithField("port", cfg.Port).Warn("Server starting")
	return srv.ListenAndServe()
}

func newRootCmd() *cobra.Command {
	var cfg *Config

	root := &cobra.Command{
		Use:           "codeqna-api",
		Short:         "CodeQnA forum API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = LoadConfig()
			if err != nil {
				return err
			}
			initLogger(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfg)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectDB(cfg)
			if err != nil {
				return err
			}
			if err := migrate(db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "promote <email>",
		Short: "Grant the admin role to a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectDB(cfg)
			if err != nil {
				return err
			}
			if err := promoteUser(db, args[0]); err != nil {
				return fmt.Errorf("promoting %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now an admin\n", args[0])
			return nil
		},
	})

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("codeqna-api failed")
		os.Exit(1)
	}
}
