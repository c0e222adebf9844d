package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
)

var _ publisher.DeadLetterPublisher = (*DeadLetterPublisher)(nil)

const DeadLetterQueue = "telemetry_dlq"

type DeadLetterPublisher struct {
	ch channel
}

func NewDeadLetterPublisher(conn *amqp.Connection) (*DeadLetterPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	return &DeadLetterPublisher{ch: ch}, nil
}

// PublishDeadLetter sends the raw payload to the default exchange, routed by queue name.
func (p *DeadLetterPublisher) PublishDeadLetter(ctx context.Context, payload []byte, reason string) error {
	return p.ch.PublishWithContext(ctx, "", DeadLetterQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Headers:     amqp.Table{"x-reject-reason": reason},
		Body:        payload,
	})
}
