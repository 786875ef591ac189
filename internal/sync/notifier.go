package sync

import "sync"

// Change announces that a reconciliation pass altered the local record set
// for one entity and owner. Consumers re-read through their [Tracker].
type Change struct {
	Entity  string
	OwnerID int64
	Stats   Stats
}

// subscriberBuffer bounds each subscriber channel. Delivery is best-effort:
// a full channel drops the notification rather than stalling the engine, so
// a slow consumer can never block reconciliation.
const subscriberBuffer = 16

// notifier fans Change events out to subscribers.
type notifier struct {
	mu   sync.Mutex
	subs map[int]chan Change
	next int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Change)}
}

// subscribe registers a new consumer. The returned cancel func unsubscribes
// and closes the channel.
func (n *notifier) subscribe() (<-chan Change, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Change, subscriberBuffer)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish delivers the change to every subscriber without blocking.
func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- c:
		default: // subscriber is behind; drop
		}
	}
}
