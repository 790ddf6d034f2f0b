package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"citizen-reporting-system/pkg/config"
	"citizen-reporting-system/pkg/database"
	"citizen-reporting-system/pkg/escalation"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/server"
	"citizen-reporting-system/pkg/store"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		config.ListenFlag(":8085", "ESCALATION_SERVICE_ADDR"),
		config.JWTSecretFlag(),
		config.DurationFlag("sweep-interval", 5*time.Minute, "SWEEP_INTERVAL", "time between SLA sweeps"),
		config.DurationFlag("report-timeout", 10*time.Second, "SWEEP_REPORT_TIMEOUT", "budget for escalating one report"),
		config.DurationFlag("report-interval", time.Hour, "ESCALATION_REPORT_INTERVAL", "time between escalation reports"),
		&cli.BoolFlag{Name: "snapshots", Value: true, Sources: cli.EnvVars("ESCALATION_SNAPSHOTS"), Usage: "persist escalation reports to MongoDB"},
	}
	flags = append(flags, config.DatabaseFlags()...)
	flags = append(flags, config.RedisFlags()...)
	flags = append(flags, config.MongoFlags("escalation_db")...)

	cmd := &cli.Command{
		Name:   "escalation-service",
		Usage:  "Raises overdue reports and publishes SLA reports",
		Flags:  flags,
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	if err := config.Require(c, "jwt-secret"); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	driver, dsn, err := config.Database(c)
	if err != nil {
		return err
	}
	db, err := database.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(db)
	st := store.New(db)

	policy := report.DefaultSLAPolicy()
	if err := policy.Validate(); err != nil {
		return err
	}

	var opts []escalation.Option
	if addr := c.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: c.String("redis-password")})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		opts = append(opts, escalation.WithLocker(escalation.NewRedisLocker(client, escalation.DefaultLockKey)))
		log.Printf("[OK] Connected to Redis at %s, sweep lock enabled", addr)
	}

	scheduler := escalation.NewScheduler(st, escalation.Config{
		Interval:      c.Duration("sweep-interval"),
		ReportTimeout: c.Duration("report-timeout"),
		Policy:        policy,
	}, opts...)

	var sink escalation.SnapshotSink
	if c.Bool("snapshots") {
		uri, dbName := config.Mongo(c)
		mdb, err := database.ConnectMongo(ctx, uri, dbName)
		if err != nil {
			log.Printf("[WARN] Escalation reports will not be persisted: %v", err)
		} else {
			defer database.DisconnectMongo(mdb)
			sink = escalation.NewMongoSink(mdb)
		}
	}
	reporter := escalation.NewReporter(st, sink, c.Duration("report-interval"))

	middleware.RegisterMetrics()
	metrics.Register()

	scheduler.Start(ctx)
	defer scheduler.Close()
	reporter.Start(ctx)
	defer reporter.Close()

	ops := &opsAPI{scheduler: scheduler, reporter: reporter, store: st}
	handler := ops.routes(middleware.NewAuthenticator(c.String("jwt-secret")))

	log.Printf("[INFO] Escalation Service running on %s (sweep every %s)", c.String("listen"), c.Duration("sweep-interval"))
	return server.Run(ctx, server.New(c.String("listen"), handler))
}
