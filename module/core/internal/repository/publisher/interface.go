package publisher

import (
	"context"

	"github.com/nandanugg/tollgate/module/core/domain"
)

// TollPublisher delivers toll status changes at least once.
type TollPublisher interface {
	PublishStatus(ctx context.Context, n *domain.Notification) error
}

// DeadLetterPublisher parks telemetry payloads that could not be accepted.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, payload []byte, reason string) error
}
