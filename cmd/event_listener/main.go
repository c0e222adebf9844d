package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/tollgate/config"
)

const (
	exchangeName = "toll.events"
	queueName    = "toll_status"
)

type statusMessage struct {
	TollID    int64  `json:"toll_id"`
	VehicleID string `json:"vehicle_id"`
	GantryID  string `json:"gantry_id"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Attempts  int    `json:"attempts"`
}

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbitmq channel: %v", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		log.Fatalf("declare exchange: %v", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		log.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		log.Fatalf("bind queue: %v", err)
	}
	if err := ch.Qos(32, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	// Manual ack: a message is acked only after it has been handled.
	msgs, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	logger.Info("waiting for toll status changes", "queue", queueName)

	// Delivery is at-least-once; the message id is "toll:status:attempts".
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				return
			}
			handle(logger, seen, msg)
		}
	}
}

func handle(logger *slog.Logger, seen map[string]struct{}, msg amqp.Delivery) {
	defer func() { _ = msg.Ack(false) }()

	if _, dup := seen[msg.MessageId]; dup && msg.MessageId != "" {
		return
	}

	var st statusMessage
	if err := json.Unmarshal(msg.Body, &st); err != nil {
		logger.Warn("undecodable toll status", "message_id", msg.MessageId, "error", err)
		return
	}
	seen[msg.MessageId] = struct{}{}

	logger.Info("toll status",
		"toll", st.TollID,
		"status", st.Status,
		"vehicle", st.VehicleID,
		"gantry", st.GantryID,
		"price", st.Price,
		"reference", st.Reference,
		"attempts", st.Attempts,
	)
}
