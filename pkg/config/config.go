// Package config holds the command-line flags shared by the services. Every
// flag can also be set through the environment variable the deployment
// manifests already use.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"citizen-reporting-system/pkg/database"
	"citizen-reporting-system/pkg/media"

	"github.com/urfave/cli/v3"
)

func ListenFlag(value string, envVars ...string) cli.Flag {
	return &cli.StringFlag{
		Name:    "listen",
		Value:   value,
		Sources: cli.EnvVars(envVars...),
		Usage:   "HTTP listen address",
	}
}

func DatabaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "db-driver", Value: database.DriverPostgres, Sources: cli.EnvVars("DB_DRIVER"), Usage: "postgres or sqlite"},
		&cli.StringFlag{Name: "sqlite-path", Value: "./reports.sqlite", Sources: cli.EnvVars("SQLITE_PATH"), Usage: "SQLite file used when db-driver is sqlite"},
		&cli.StringFlag{Name: "postgres-host", Value: "localhost", Sources: cli.EnvVars("POSTGRES_HOST")},
		&cli.StringFlag{Name: "postgres-port", Value: "5434", Sources: cli.EnvVars("POSTGRES_PORT")},
		&cli.StringFlag{Name: "postgres-user", Value: "admin", Sources: cli.EnvVars("POSTGRES_USER")},
		&cli.StringFlag{Name: "postgres-password", Value: "password", Sources: cli.EnvVars("POSTGRES_PASSWORD")},
		&cli.StringFlag{Name: "postgres-db", Value: "report_db", Sources: cli.EnvVars("POSTGRES_DB")},
	}
}

// Database returns the gorm driver name and its DSN.
func Database(c *cli.Command) (driver, dsn string, err error) {
	switch driver = c.String("db-driver"); driver {
	case database.DriverPostgres:
		return driver, PostgresDSN(
			c.String("postgres-host"),
			c.String("postgres-user"),
			c.String("postgres-password"),
			c.String("postgres-db"),
			c.String("postgres-port"),
		), nil
	case database.DriverSQLite:
		return driver, c.String("sqlite-path"), nil
	default:
		return "", "", fmt.Errorf("unsupported db-driver %q", driver)
	}
}

func PostgresDSN(host, user, password, dbname, port string) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, user, password, dbname, port)
}

func RabbitMQFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "rabbitmq-url", Sources: cli.EnvVars("RABBITMQ_URL"), Usage: "full AMQP URL; overrides the host/port/user/pass flags"},
		&cli.StringFlag{Name: "rabbitmq-host", Value: "localhost", Sources: cli.EnvVars("RABBITMQ_HOST")},
		&cli.StringFlag{Name: "rabbitmq-port", Value: "5672", Sources: cli.EnvVars("RABBITMQ_PORT")},
		&cli.StringFlag{Name: "rabbitmq-user", Value: "guest", Sources: cli.EnvVars("RABBITMQ_USER")},
		&cli.StringFlag{Name: "rabbitmq-pass", Value: "guest", Sources: cli.EnvVars("RABBITMQ_PASS")},
	}
}

func RabbitMQURL(c *cli.Command) string {
	if u := c.String("rabbitmq-url"); u != "" {
		return u
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		url.QueryEscape(c.String("rabbitmq-user")),
		url.QueryEscape(c.String("rabbitmq-pass")),
		c.String("rabbitmq-host"),
		c.String("rabbitmq-port"),
	)
}

func MongoFlags(defaultDB string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "mongo-host", Value: "localhost", Sources: cli.EnvVars("MONGO_HOST")},
		&cli.StringFlag{Name: "mongo-port", Value: "27017", Sources: cli.EnvVars("MONGO_PORT")},
		&cli.StringFlag{Name: "mongo-user", Value: "admin", Sources: cli.EnvVars("MONGO_USER")},
		&cli.StringFlag{Name: "mongo-password", Value: "password", Sources: cli.EnvVars("MONGO_PASSWORD")},
		&cli.StringFlag{Name: "mongo-db", Value: defaultDB, Sources: cli.EnvVars("MONGO_DB")},
	}
}

// Mongo returns the connection URI and database name.
func Mongo(c *cli.Command) (uri, dbName string) {
	uri = fmt.Sprintf("mongodb://%s:%s@%s:%s",
		url.QueryEscape(c.String("mongo-user")),
		url.QueryEscape(c.String("mongo-password")),
		c.String("mongo-host"),
		c.String("mongo-port"),
	)
	return uri, c.String("mongo-db")
}

func RedisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "redis-addr", Sources: cli.EnvVars("REDIS_ADDR"), Usage: "enables the cross-instance sweep lock"},
		&cli.StringFlag{Name: "redis-password", Sources: cli.EnvVars("REDIS_PASSWORD")},
	}
}

func MinioFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "minio-endpoint", Sources: cli.EnvVars("MINIO_ENDPOINT"), Usage: "enables media uploads"},
		&cli.StringFlag{Name: "minio-access-key", Sources: cli.EnvVars("MINIO_ACCESS_KEY")},
		&cli.StringFlag{Name: "minio-secret-key", Sources: cli.EnvVars("MINIO_SECRET_KEY")},
		&cli.StringFlag{Name: "minio-bucket", Value: "report-media", Sources: cli.EnvVars("MINIO_BUCKET")},
		&cli.BoolFlag{Name: "minio-use-ssl", Sources: cli.EnvVars("MINIO_USE_SSL")},
		&cli.StringFlag{Name: "minio-public-url", Sources: cli.EnvVars("MINIO_PUBLIC_URL")},
	}
}

// Minio returns the media store config; ok is false when no endpoint is set.
func Minio(c *cli.Command) (cfg media.Config, ok bool) {
	cfg = media.Config{
		Endpoint:  c.String("minio-endpoint"),
		AccessKey: c.String("minio-access-key"),
		SecretKey: c.String("minio-secret-key"),
		Bucket:    c.String("minio-bucket"),
		UseSSL:    c.Bool("minio-use-ssl"),
		PublicURL: c.String("minio-public-url"),
	}
	return cfg, cfg.Endpoint != ""
}

func JWTSecretFlag() cli.Flag {
	return &cli.StringFlag{Name: "jwt-secret", Sources: cli.EnvVars("JWT_SECRET"), Usage: "HS256 key for bearer tokens"}
}

func InternalTokenFlag() cli.Flag {
	return &cli.StringFlag{Name: "internal-token", Sources: cli.EnvVars("INTERNAL_TOKEN"), Usage: "shared secret for service-to-service calls"}
}

func AnonKeyFlag() cli.Flag {
	return &cli.StringFlag{Name: "anon-enc-key", Sources: cli.EnvVars("ANON_ENC_KEY"), Usage: "master key for anonymous reporter identities"}
}

// Require fails when any of the named string flags is empty.
func Require(c *cli.Command, names ...string) error {
	var errs []error
	for _, name := range names {
		if c.String(name) == "" {
			errs = append(errs, fmt.Errorf("--%s is required", name))
		}
	}
	return errors.Join(errs...)
}

func DurationFlag(name string, value time.Duration, env, usage string) cli.Flag {
	return &cli.DurationFlag{Name: name, Value: value, Sources: cli.EnvVars(env), Usage: usage}
}
