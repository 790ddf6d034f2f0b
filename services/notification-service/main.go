package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"citizen-reporting-system/pkg/config"
	"citizen-reporting-system/pkg/database"
	"citizen-reporting-system/pkg/events"
	"citizen-reporting-system/pkg/metrics"
	"citizen-reporting-system/pkg/middleware"
	"citizen-reporting-system/pkg/notification"
	"citizen-reporting-system/pkg/queue"
	"citizen-reporting-system/pkg/response"
	"citizen-reporting-system/pkg/server"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
)

const queueName = "notifications"

func main() {
	flags := []cli.Flag{
		config.ListenFlag(":8084", "NOTIFICATION_SERVICE_ADDR"),
		config.JWTSecretFlag(),
		config.DurationFlag("handler-timeout", 10*time.Second, "HANDLER_TIMEOUT", "per-event processing budget"),
	}
	flags = append(flags, config.RabbitMQFlags()...)
	flags = append(flags, config.MongoFlags("notification_db")...)

	cmd := &cli.Command{
		Name:   "notification-service",
		Usage:  "Fans report events out to citizens, officers and departments",
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

	uri, dbName := config.Mongo(c)
	mdb, err := database.ConnectMongo(ctx, uri, dbName)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer database.DisconnectMongo(mdb)
	inbox := notification.NewMongoInbox(mdb)
	if err := inbox.EnsureIndexes(ctx); err != nil {
		return err
	}

	log.Printf("[INFO] Connecting to RabbitMQ")
	conn, ch, err := queue.ConnectRabbitMQ(config.RabbitMQURL(c))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()
	defer ch.Close()
	if err := queue.DeclareTopology(ch); err != nil {
		return err
	}
	err = queue.BindQueue(ch, queueName,
		events.ReportStatusChanged,
		events.ReportEscalated,
		events.ReportAssigned,
		events.RoutingCompleted,
	)
	if err != nil {
		return err
	}
	log.Println("[OK] Connected to RabbitMQ")

	middleware.RegisterMetrics()
	metrics.Register()
	log.Println("[INFO] Prometheus metrics initialized")

	hub := notification.NewHub()
	go hub.Run(ctx)

	fanOut := notification.NewFanOut(inbox, hub)
	consumer := queue.NewConsumer(queueName, fanOut.Handle, c.Duration("handler-timeout"))
	consumerErr := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Listening to %s queue", queueName)
		consumerErr <- consumer.Run(ctx, ch, 20)
	}()

	auth := middleware.NewAuthenticator(c.String("jwt-secret"))
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Get("/notifications/subscribe", notification.SubscribeHandler(hub, auth))
	r.Get("/subscribe", notification.SubscribeHandler(hub, auth))
	r.Group(func(r chi.Router) {
		r.Use(middleware.MetricsMiddleware, middleware.LoggerMiddleware)
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			response.JSON(w, http.StatusOK, map[string]interface{}{
				"status":            "UP",
				"service":           "notification-service",
				"connected_clients": hub.ConnectedClients(),
			})
		})
		r.Handle("/metrics", middleware.GetMetricsHandler())
		r.With(auth.Require).Get("/notifications", inboxHandler(inbox))
	})

	srvErr := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Notification Service running on %s", c.String("listen"))
		srvErr <- server.Run(ctx, server.New(c.String("listen"), r))
	}()

	select {
	case err := <-consumerErr:
		cancel()
		<-srvErr
		return err
	case err := <-srvErr:
		cancel()
		return err
	}
}

// inboxHandler lists the caller's stored notifications.
func inboxHandler(inbox *notification.MongoInbox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.ClaimsFromContext(r.Context())
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		items, err := inbox.ListForRecipient(ctx, notification.UserRecipient(claims.UserID), 50)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "Failed to fetch notifications", "")
			return
		}
		response.Success(w, http.StatusOK, "Notifications fetched successfully", items)
	}
}
