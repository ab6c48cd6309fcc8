package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeNewAuction
	EventTypeNewUser
	EventTypeNewSellOrder
	EventTypeCancellationSellOrder
	EventTypeClaimedFromOrder
	EventTypeAuctionCleared
)

// EventEnvelope wraps every event in the indexed log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the projector
	Sequence int64

	// Stable idempotency key (txHash:logIndex)
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Auction context (nullable for registration events)
	AuctionID *uint64

	// Block timestamp of the originating log (NOT wall-clock)
	Timestamp time.Time

	// Chain ordering key for validation
	SourceSequence int64

	// SHA-256 of derived state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all chain-event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// AuctionID returns the auction context (nil for registration events)
	AuctionID() *uint64

	// SourceSequence returns the chain ordering key
	SourceSequence() int64

	// EventTimestamp returns the block timestamp of the log
	EventTimestamp() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeNewAuction:
		return "NewAuction"
	case EventTypeNewUser:
		return "NewUser"
	case EventTypeNewSellOrder:
		return "NewSellOrder"
	case EventTypeCancellationSellOrder:
		return "CancellationSellOrder"
	case EventTypeClaimedFromOrder:
		return "ClaimedFromOrder"
	case EventTypeAuctionCleared:
		return "AuctionCleared"
	default:
		return "Unknown"
	}
}
