package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/deskbridge/pkg/chatwoot"
	"github.com/platinummonkey/deskbridge/pkg/mappings"
	"github.com/platinummonkey/deskbridge/pkg/observability"
	"github.com/platinummonkey/deskbridge/pkg/sweep"
)

var (
	dbURL      = flag.String("db-url", getEnv("DESKBRIDGE_DATABASE_URL", "postgres://localhost/deskbridge?sslmode=disable"), "PostgreSQL connection URL")
	baseURL    = flag.String("chatwoot-url", getEnv("CHATWOOT_URL", ""), "Support platform base URL")
	token      = flag.String("chatwoot-token", getEnv("CHATWOOT_PLATFORM_API_KEY", ""), "Support platform API token")
	schedule   = flag.String("schedule", getEnv("DESKBRIDGE_SWEEP_SCHEDULE", "0 * * * *"), "Cron schedule for drift audits (default: every hour)")
	repair     = flag.Bool("repair", false, "Delete mapping rows whose platform counterpart is gone")
	runOnce    = flag.Bool("run-once", false, "Run one audit pass and exit")
	apiTimeout = flag.Duration("api-timeout", 30*time.Second, "Support platform API timeout")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *baseURL == "" || *token == "" {
		log.Fatal("chatwoot URL and token are required")
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}

	store := mappings.NewSQLStore(db, nil)
	platform := chatwoot.NewClient(*baseURL, *token,
		chatwoot.WithHTTPClient(&http.Client{Timeout: *apiTimeout}),
	)

	auditor := sweep.NewAuditor(store, platform,
		observability.NewLogger(observability.InfoLevel, os.Stdout),
		sweep.WithRepair(*repair),
	)

	if *runOnce {
		report, err := auditor.Run(context.Background())
		if err != nil {
			log.WithError(err).Fatal("Audit failed")
		}
		logReport(log, report)
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		log.Info("Starting drift audit")
		report, err := auditor.Run(context.Background())
		if err != nil {
			log.WithError(err).Error("Audit failed")
			return
		}
		logReport(log, report)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule audit")
	}

	c.Start()
	log.WithField("schedule", *schedule).Info("Sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down gracefully...")
	ctx := c.Stop()
	<-ctx.Done()
	log.Info("Sweeper stopped")
}

func logReport(log *logrus.Logger, report *sweep.Report) {
	entry := log.WithFields(logrus.Fields{
		"orgs_checked":  report.OrgsChecked,
		"users_checked": report.UsersChecked,
		"drifts":        len(report.Drifts),
	})
	if len(report.Drifts) > 0 {
		entry.Warn("Audit completed with drift")
		return
	}
	entry.Info("Audit completed clean")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
