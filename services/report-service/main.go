package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"citizen-reporting-system/pkg/config"
	"citizen-reporting-system/pkg/database"
	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/lifecycle"
	"citizen-reporting-system/pkg/media"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/queue"
	"citizen-reporting-system/pkg/report"
	"citizen-reporting-system/pkg/security"
	"citizen-reporting-system/pkg/server"
	"citizen-reporting-system/pkg/store"

	"github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		config.ListenFlag(":8082", "REPORT_SERVICE_ADDR"),
		config.JWTSecretFlag(),
		config.AnonKeyFlag(),
		config.InternalTokenFlag(),
		config.DurationFlag("outbox-interval", time.Second, "OUTBOX_INTERVAL", "how often pending events are published"),
		config.DurationFlag("publish-timeout", 5*time.Second, "PUBLISH_TIMEOUT", "broker confirm timeout"),
	}
	flags = append(flags, config.DatabaseFlags()...)
	flags = append(flags, config.RabbitMQFlags()...)
	flags = append(flags, config.MinioFlags()...)

	cmd := &cli.Command{
		Name:   "report-service",
		Usage:  "Report Store owner: intake, lifecycle, tracking and event outbox",
		Flags:  flags,
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	if err := config.Require(c, "jwt-secret", "internal-token"); err != nil {
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
	log.Println("[INFO] Running Auto Migration...")
	if err := st.AutoMigrate(ctx); err != nil {
		return err
	}

	master, err := security.MasterKey(c.String("anon-enc-key"), c.String("jwt-secret"))
	if err != nil {
		return err
	}
	vault, err := security.NewVault(master)
	if err != nil {
		return err
	}
	svc := lifecycle.NewService(st, vault, report.DefaultSLAPolicy())

	conn, ch, err := queue.ConnectRabbitMQ(config.RabbitMQURL(c))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()
	defer ch.Close()
	if err := queue.DeclareTopology(ch); err != nil {
		return err
	}
	brokerClosed := queue.NotifyClosed(conn, ch)
	publisher, err := queue.NewPublisher(ch, c.Duration("publish-timeout"))
	if err != nil {
		return err
	}
	log.Println("[OK] Connected to RabbitMQ")

	dispatcher := events.NewOutboxDispatcher(st, publisher, c.Duration("outbox-interval"), 100)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	var uploader Uploader
	if cfg, ok := config.Minio(c); ok {
		mediaStore, err := media.New(cfg)
		if err != nil {
			return err
		}
		if err := mediaStore.EnsureBucket(ctx); err != nil {
			log.Printf("[WARN] Media bucket unavailable: %v", err)
		}
		uploader = mediaStore
		log.Printf("[OK] Media uploads enabled (bucket %s)", cfg.Bucket)
	} else {
		log.Println("[WARN] MINIO_ENDPOINT not set, media uploads disabled")
	}

	middleware.RegisterMetrics()
	metrics.Register()

	api := newAPI(svc, st, uploader)
	handler := api.routes(middleware.NewAuthenticator(c.String("jwt-secret")), c.String("internal-token"))

	srvErr := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Report Service running on %s", c.String("listen"))
		srvErr <- server.Run(ctx, server.New(c.String("listen"), handler))
	}()

	// broker loss ends the process; unpublished events stay pending in the outbox
	select {
	case err := <-brokerClosed:
		if err == nil {
			err = fmt.Errorf("%w: rabbitmq connection closed", report.ErrDependencyUnavailable)
		}
		log.Printf("[ERROR] %v, shutting down", err)
		cancel()
		<-srvErr
		return err
	case err := <-srvErr:
		cancel()
		return err
	}
}
