package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nandanugg/tollgate/module/core/domain"
	"github.com/nandanugg/tollgate/module/core/internal/metrics"
	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
)

const TopicPattern = "/fleet/vehicle/+/location"

type fixRouter interface {
	Route(ctx context.Context, fix domain.PositionFix) error
}

type locationMessage struct {
	VehicleID   string   `json:"vehicle_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Speed       float64  `json:"speed"`
	Timestamp   int64    `json:"timestamp"`
	TimestampMs int64    `json:"timestamp_ms"`
}

// LocationSubscriber feeds MQTT location messages into the fix router.
type LocationSubscriber struct {
	client      mqtt.Client
	router      fixRouter
	deadLetters publisher.DeadLetterPublisher
	logger      *slog.Logger
	ctx         context.Context
}

func NewLocationSubscriber(client mqtt.Client, router fixRouter, deadLetters publisher.DeadLetterPublisher, logger *slog.Logger) *LocationSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationSubscriber{
		client:      client,
		router:      router,
		deadLetters: deadLetters,
		logger:      logger,
		ctx:         context.Background(),
	}
}

// Start subscribes and returns; messages flow until ctx is done or Stop is called.
func (s *LocationSubscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	token := s.client.Subscribe(TopicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) Stop() {
	token := s.client.Unsubscribe(TopicPattern)
	token.WaitTimeout(2 * time.Second)
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	fix, err := decodeFix(msg.Payload())
	if err != nil {
		reject(s.ctx, s.logger, s.deadLetters, msg.Payload(), err)
		return
	}
	if err := s.router.Route(s.ctx, fix); err != nil {
		s.logger.Error("route fix", "device", fix.DeviceID, "error", err)
	}
}

func decodeFix(payload []byte) (domain.PositionFix, error) {
	var raw locationMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.PositionFix{}, fmt.Errorf("invalid location message: %v: %w", err, domain.ErrMalformedFix)
	}
	if err := validateLocationMessage(&raw); err != nil {
		return domain.PositionFix{}, fmt.Errorf("%v: %w", err, domain.ErrMalformedFix)
	}

	ts := time.Unix(raw.Timestamp, 0)
	if raw.TimestampMs > 0 {
		ts = time.UnixMilli(raw.TimestampMs)
	}
	return domain.PositionFix{
		DeviceID:  raw.VehicleID,
		Timestamp: ts.UTC(),
		Lat:       *raw.Latitude,
		Lon:       *raw.Longitude,
		Speed:     raw.Speed,
	}, nil
}

func validateLocationMessage(msg *locationMessage) error {
	if msg.VehicleID == "" {
		return fmt.Errorf("vehicle_id: required")
	}
	if msg.Latitude == nil || math.IsNaN(*msg.Latitude) || *msg.Latitude < -90 || *msg.Latitude > 90 {
		return fmt.Errorf("latitude: must be between -90 and 90")
	}
	if msg.Longitude == nil || math.IsNaN(*msg.Longitude) || *msg.Longitude < -180 || *msg.Longitude > 180 {
		return fmt.Errorf("longitude: must be between -180 and 180")
	}
	if msg.Timestamp <= 0 && msg.TimestampMs <= 0 {
		return fmt.Errorf("timestamp: must be positive")
	}
	return nil
}

func reject(ctx context.Context, logger *slog.Logger, dlq publisher.DeadLetterPublisher, payload []byte, err error) {
	metrics.FixesRejected.WithLabelValues("decode").Inc()
	logger.Warn("telemetry rejected", "error", err)
	if dlq == nil {
		return
	}
	if err := dlq.PublishDeadLetter(ctx, payload, err.Error()); err != nil {
		logger.Error("dead letter publish", "error", err)
	}
}
