package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
)

var _ publisher.TollPublisher = (*TollPublisher)(nil)

const (
	ExchangeName = "toll.events"
	QueueName    = "toll_status"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type TollPublisher struct {
	ch channel
}

func NewTollPublisher(conn *amqp.Connection) (*TollPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(QueueName, "", ExchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	return &TollPublisher{ch: ch}, nil
}

type statusMessage struct {
	TollID    int64             `json:"toll_id"`
	VehicleID string            `json:"vehicle_id"`
	GantryID  string            `json:"gantry_id"`
	Price     string            `json:"price"`
	Status    domain.TollStatus `json:"status"`
	Reference string            `json:"reference,omitempty"`
	Attempts  int               `json:"attempts"`
	Timestamp int64             `json:"timestamp"`
}

func (p *TollPublisher) PublishStatus(ctx context.Context, n *domain.Notification) error {
	msg := statusMessage{
		TollID:    n.TollID,
		VehicleID: n.DeviceID,
		GantryID:  n.GantryID,
		Price:     n.Price.StringFixed(2),
		Status:    n.Status,
		Reference: n.Reference,
		Attempts:  n.Attempts,
		Timestamp: n.Timestamp,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal toll status: %w", err)
	}

	// Consumers dedupe on message id. A toll revisits LEDGER_FAILED and SETTLING once per
	// attempt, so the attempt count is part of the id.
	return p.ch.PublishWithContext(ctx, ExchangeName, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID(n),
		Body:         body,
	})
}

func messageID(n *domain.Notification) string {
	return strconv.FormatInt(n.TollID, 10) + ":" + string(n.Status) + ":" + strconv.Itoa(n.Attempts)
}
