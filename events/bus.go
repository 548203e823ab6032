package events

import (
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bus fans ledger notifications out to subscribers. Publish delivers to the
// subscribers registered at the time of the call, in registration order.
type Bus struct {
	mu          *sync.Mutex
	subscribers []func(Event)
	logger      *logrus.Entry
}

func NewBus(logger *logrus.Entry) *Bus {
	b := new(Bus)
	b.mu = new(sync.Mutex)
	b.logger = logger
	if b.logger == nil {
		b.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return b
}

func (b *Bus) subscribe(sub func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	n := len(b.subscribers)
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs[:n] {
		sub(event)
	}
}

// SubscribeSync registers a subscriber that runs on the publishing goroutine.
// A panicking subscriber is logged and does not affect the others.
func SubscribeSync[T Event](b *Bus, sub func(T)) {
	b.subscribe(func(e Event) {
		et, ok := e.(T)
		if !ok {
			return
		}

		defer func() {
			err := recover()
			if err == nil {
				return
			}

			b.logger.WithFields(logrus.Fields{
				"event": e.EventName(),
				"error": err,
				"stack": string(debug.Stack()),
			}).Error("Subscriber panicked")
		}()

		sub(et)
	})
}

// SubscribeAsync registers a subscriber that runs on its own goroutine per
// event. Delivery order is not preserved.
func SubscribeAsync[T Event](b *Bus, sub func(T)) {
	b.subscribe(func(e Event) {
		et, ok := e.(T)
		if !ok {
			return
		}

		go func() {
			defer func() {
				err := recover()
				if err == nil {
					return
				}

				b.logger.WithFields(logrus.Fields{
					"event": e.EventName(),
					"error": err,
					"stack": string(debug.Stack()),
				}).Error("Subscriber panicked")
			}()

			sub(et)
		}()
	})
}
