package subscriber

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/nandanugg/tollgate/module/core/internal/repository/publisher"
)

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSubscriber reads telemetry keyed by device id. A partition carries all
// fixes of a device, in order.
type KafkaSubscriber struct {
	reader      kafkaReader
	router      fixRouter
	deadLetters publisher.DeadLetterPublisher
	logger      *slog.Logger
}

func NewKafkaSubscriber(reader kafkaReader, router fixRouter, deadLetters publisher.DeadLetterPublisher, logger *slog.Logger) *KafkaSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSubscriber{reader: reader, router: router, deadLetters: deadLetters, logger: logger}
}

// Run consumes until ctx is done. Offsets are committed after the fix is routed.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		fix, err := decodeFix(msg.Value)
		if err != nil {
			reject(ctx, s.logger, s.deadLetters, msg.Value, err)
		} else if err := s.router.Route(ctx, fix); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("route fix", "device", fix.DeviceID, "error", err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Warn("kafka commit", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}
