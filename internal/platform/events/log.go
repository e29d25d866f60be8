package events

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/requestctx"
	"github.com/hanko-field/checkout/internal/services"
)

// LogNotifier records completions in the log only. It is the local development default.
type LogNotifier struct {
	fallback *zap.Logger
}

var _ services.OrderNotifier = LogNotifier{}

func NewLogNotifier(logger *zap.Logger) LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LogNotifier{fallback: logger}
}

func (n LogNotifier) OrderCompleted(ctx context.Context, order domain.Order) error {
	logger := requestctx.LoggerOr(ctx, n.fallback)
	logger.Info("order completed",
		zap.String("order_id", order.ID),
		zap.String("storefront", order.Storefront.String()),
		zap.String("user_id", order.UserID),
		zap.Int64("total", order.Total),
	)
	return nil
}

func (LogNotifier) Close() error { return nil }
