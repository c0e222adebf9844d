package config

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// NewRabbitMQ dials the broker, retrying with backoff for up to a minute while it starts.
func NewRabbitMQ(cfg *Config) (*amqp.Connection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = time.Minute

	var conn *amqp.Connection
	err := backoff.Retry(func() error {
		c, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, b)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	return conn, nil
}
