package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection owns one broker connection and the single channel used on it.
// Close it when the process shuts down.
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// BuildURL assembles an AMQP URL from host-style settings. A host may carry
// an explicit port.
func BuildURL(host, user, password string) string {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     host,
		Port:     5672,
		Username: user,
		Password: password,
		Vhost:    "/",
	}
	if h, p, err := net.SplitHostPort(host); err == nil {
		if port, err := strconv.Atoi(p); err == nil {
			uri.Host, uri.Port = h, port
		}
	}
	return uri.String()
}

// Connect dials the broker, retrying a fixed number of times, and opens a
// channel on the resulting connection.
func Connect(ctx context.Context, url string, maxRetries int, delay time.Duration, logger *slog.Logger) (*Connection, error) {
	conn, err := connectWithRetry(ctx, url, maxRetries, delay, logger)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &Connection{conn: conn, channel: channel}, nil
}

// connectWithRetry attempts to connect to RabbitMQ with retries
func connectWithRetry(ctx context.Context, url string, maxRetries int, delay time.Duration, logger *slog.Logger) (*amqp.Connection, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		logger.Info("connecting to RabbitMQ", "attempt", i+1, "maxAttempts", maxRetries)
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("connected to RabbitMQ")
			return conn, nil
		}

		logger.Warn("failed to connect to RabbitMQ", "error", redact(err.Error(), url))
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %s", maxRetries, redact(err.Error(), url))
}

// Close closes the channel and then the connection.
func (c *Connection) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

// redact strips the password out of messages that may echo the URL.
func redact(msg, url string) string {
	uri, err := amqp.ParseURI(url)
	if err != nil || uri.Password == "" {
		return msg
	}
	return strings.ReplaceAll(msg, uri.Password, "****")
}

// RedactURL masks the password of an AMQP URL for logging.
func RedactURL(url string) string {
	uri, err := amqp.ParseURI(url)
	if err != nil {
		return "<invalid amqp url>"
	}
	if uri.Password != "" {
		uri.Password = "xxxxx"
	}
	return uri.String()
}
