package bus

import "time"

// Event is one domain occurrence published on the bus. Kinds in use are
// dot-namespaced:
//
//	net.up, net.down                  connectivity edges
//	queue.enqueued, queue.sent,
//	queue.dropped                     offline queue activity
//	message.status_changed,
//	message.batch_delivered,
//	message.edited                    per-message lifecycle
//	conversation.refreshed            poller reload results
//	presence.*                        realtime hints from the carrier
//	transport.delivered               loopback carrier deliveries
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
