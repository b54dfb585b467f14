package model

import "github.com/google/uuid"

// Address is the public identifier of a watched blockchain account.
type Address = string

// SubscriberID identifies a party that receives notifications for an address.
// The Telegram notifier treats it as a chat id.
type SubscriberID = int64

// -----------------------------------------------------------------------------
// Inbound Types
// -----------------------------------------------------------------------------

// TransactionEvent is a logs notification after the owning wallet was resolved.
type TransactionEvent struct {
	Address    Address  // Wallet the notification is attributed to
	Signature  string   // Transaction signature (base58)
	Failed     bool     // true if the upstream reported a non-null err
	Logs       []string // Program log lines
	ConnID     int      // Connection the notification arrived on
	ReceivedAt int64    // Local receive timestamp (µs since epoch)
}

// -----------------------------------------------------------------------------
// Journal Types
// -----------------------------------------------------------------------------

// Delivery records one attempt to hand a notification to a subscriber.
type Delivery struct {
	ID          uuid.UUID    // Primary key
	Subscriber  SubscriberID // Recipient
	Address     Address      // Wallet the notification is about
	Signature   string       // Transaction signature
	DeliveredAt int64        // Attempt timestamp (µs since epoch)
	Error       string       // Empty on success
}

// NewDelivery creates a Delivery with a fresh id.
func NewDelivery(sub SubscriberID, ev TransactionEvent, deliveredAt int64, err error) Delivery {
	d := Delivery{
		ID:          uuid.New(),
		Subscriber:  sub,
		Address:     ev.Address,
		Signature:   ev.Signature,
		DeliveredAt: deliveredAt,
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

// Succeeded reports whether the delivery attempt succeeded.
func (d Delivery) Succeeded() bool {
	return d.Error == ""
}
