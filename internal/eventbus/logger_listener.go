package eventbus

import (
	"context"

	"github.com/annel0/voxel-terrain/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог на уровне DEBUG.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		logging.Debug("[EventBus] %s %s src=%s corr=%s size=%dB",
			ev.ID, ev.EventType, ev.Source, ev.CorrelationID, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на события ландшафта активирована")
	return sub, nil
}
