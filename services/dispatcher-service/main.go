package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"citizen-reporting-system/pkg/config"
	"citizen-reporting-system/pkg/dispatch"
	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/queue"
	"citizen-reporting-system/pkg/response"
	"citizen-reporting-system/pkg/routing"
	"citizen-reporting-system/pkg/server"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
)

const queueName = "dispatcher.report_created"

func main() {
	flags := []cli.Flag{
		config.ListenFlag(":8083", "DISPATCHER_SERVICE_ADDR"),
		config.InternalTokenFlag(),
		&cli.StringFlag{
			Name:    "report-service-url",
			Value:   "http://localhost:8082",
			Sources: cli.EnvVars("REPORT_SERVICE_URL"),
			Usage:   "base URL of the report service internal API",
		},
		config.DurationFlag("callback-timeout", 5*time.Second, "ROUTING_CALLBACK_TIMEOUT", "timeout of the routing callback"),
		config.DurationFlag("handler-timeout", 15*time.Second, "HANDLER_TIMEOUT", "per-event processing budget"),
	}
	flags = append(flags, config.RabbitMQFlags()...)

	cmd := &cli.Command{
		Name:   "dispatcher-service",
		Usage:  "Classifies new reports and routes them to a department",
		Flags:  flags,
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	if err := config.Require(c, "internal-token"); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, ch, err := queue.ConnectRabbitMQ(config.RabbitMQURL(c))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()
	defer ch.Close()
	if err := queue.DeclareTopology(ch); err != nil {
		return err
	}
	if err := queue.BindQueue(ch, queueName, events.ReportCreated); err != nil {
		return err
	}
	log.Println("[OK] Dispatcher Service connected to RabbitMQ")

	engine := routing.NewEngine(routing.DefaultConfig())
	assigner := dispatch.NewHTTPAssigner(c.String("report-service-url"), c.String("internal-token"), c.Duration("callback-timeout"))
	consumer := queue.NewConsumer(queueName, dispatch.NewHandler(engine, assigner).Handle, c.Duration("handler-timeout"))

	middleware.RegisterMetrics()
	metrics.Register()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Waiting for reports in queue '%s'", queueName)
		errCh <- consumer.Run(ctx, ch, 10)
	}()

	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware, middleware.LoggerMiddleware)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]interface{}{"status": "UP", "service": "dispatcher-service"})
	})
	r.Handle("/metrics", middleware.GetMetricsHandler())

	srvErr := make(chan error, 1)
	go func() { srvErr <- server.Run(ctx, server.New(c.String("listen"), r)) }()

	select {
	case err := <-errCh:
		cancel()
		<-srvErr
		return err
	case err := <-srvErr:
		cancel()
		return err
	}
}
