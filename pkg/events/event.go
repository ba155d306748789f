// Package events carries settlement records from the engine to observers.
// Nothing inside the engine consumes them.
package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type Kind string

const (
	KindSingleMatched    Kind = "single_matched"
	KindDivisibleMatched Kind = "divisible_matched"
	KindBookMatched      Kind = "book_matched"
	KindBookBatchMatched Kind = "book_batch_matched"
	KindOrderCancelled   Kind = "order_cancelled"
)

type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// Leg is one order touched by a settlement or cancellation. Amount is the
// quantity consumed by this call (the floor for cancellations) and Fill is
// the fingerprint's fill once the call committed.
type Leg struct {
	Fingerprint common.Hash    `json:"fingerprint"`
	Maker       common.Address `json:"maker"`
	Role        Role           `json:"role"`
	Amount      *big.Int       `json:"amount"`
	Fill        *big.Int       `json:"fill"`
	Units       []*big.Int     `json:"units,omitempty"`
}

type Event struct {
	ID           uuid.UUID      `json:"id"`
	Kind         Kind           `json:"kind"`
	Executor     common.Address `json:"executor"`
	Currency     common.Address `json:"currency"`
	Asset        common.Address `json:"asset"`
	Legs         []Leg          `json:"legs"`
	Gross        *big.Int       `json:"gross,omitempty"`
	Commission   *big.Int       `json:"commission,omitempty"`
	CommissionTo common.Address `json:"commissionTo"`
	DAppID       *big.Int       `json:"dAppId,omitempty"`
	Timestamp    int64          `json:"timestamp"`
}

// Fingerprints lists the leg fingerprints in order.
func (e Event) Fingerprints() []common.Hash {
	out := make([]common.Hash, len(e.Legs))
	for i, l := range e.Legs {
		out[i] = l.Fingerprint
	}
	return out
}

// Key is the partitioning key used by brokers: the first leg's fingerprint,
// or the event id for an empty event.
func (e Event) Key() []byte {
	if len(e.Legs) > 0 {
		return []byte(e.Legs[0].Fingerprint.Hex())
	}
	return []byte(e.ID.String())
}
