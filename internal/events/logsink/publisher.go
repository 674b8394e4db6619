// Package logsink publishes events to the service log. It stands in for the
// Kafka publisher when no brokers are configured.
package logsink

import (
	"context"

	interfaces "github.com/sheikh-saqib/derived-accounts-ledger/internal/interfaces"
	"go.uber.org/zap"
)

type Publisher struct {
	logger *zap.Logger
}

func NewPublisher(logger *zap.Logger) *Publisher {
	return &Publisher{logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, key string, event any) error {
	p.logger.Info("event", zap.String("key", key), zap.Any("payload", event))
	return nil
}

var _ interfaces.EventPublisher = (*Publisher)(nil)
