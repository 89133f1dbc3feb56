// Package notify содержит отправку уведомлений клиентам.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

// Sender описывает контракт отправки уведомлений. Все операции выполняются
// по принципу fire-and-forget: ошибки логируются и не влияют на результат
// вызвавшей операции.
type Sender interface {
	NotifyOrderCreated(ctx context.Context, order *model.Order, email string)
	NotifyStatusChanged(ctx context.Context, order *model.Order, email string)
	NotifyFulfilled(ctx context.Context, order *model.Order, email string)
}

// LogSender пишет уведомления в лог. Доставка писем выполняется внешним
// сервисом; здесь фиксируется только факт уведомления.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender создаёт отправитель уведомлений, пишущий в лог.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// NotifyOrderCreated уведомляет клиента о создании заказа.
func (s *LogSender) NotifyOrderCreated(ctx context.Context, order *model.Order, email string) {
	s.logger.Info("notify: order created",
		zap.String("tracking_code", order.TrackingCode),
		zap.String("email", email),
	)
}

// NotifyStatusChanged уведомляет клиента об изменении статуса заказа.
func (s *LogSender) NotifyStatusChanged(ctx context.Context, order *model.Order, email string) {
	s.logger.Info("notify: status changed",
		zap.String("tracking_code", order.TrackingCode),
		zap.String("status", string(order.Status)),
		zap.String("email", email),
	)
}

// NotifyFulfilled уведомляет клиента о готовности результатов заказа.
func (s *LogSender) NotifyFulfilled(ctx context.Context, order *model.Order, email string) {
	s.logger.Info("notify: order fulfilled",
		zap.String("tracking_code", order.TrackingCode),
		zap.String("email", email),
	)
}
