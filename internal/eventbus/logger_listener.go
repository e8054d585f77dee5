package eventbus

import (
	"context"

	"github.com/annel0/blockverse/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог
// компонента "events". Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	log := logging.GetComponentLogger("events")
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		log.Debug("%s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	log.Info("подписка на все события активирована")
	return sub, nil
}
