package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

// API request and response types for REST endpoints and WebSocket messages

// ==============================
// REST Request Types
// ==============================

// MatchSingleRequest is the payload for POST /api/v1/settle/single
type MatchSingleRequest struct {
	Sell       order.Signed[order.Single] `json:"sell"`
	Buy        order.Signed[order.Single] `json:"buy"`
	Commission commission.Info            `json:"commission"`
}

// MatchDivisibleRequest is the payload for POST /api/v1/settle/divisible
type MatchDivisibleRequest struct {
	Buy        order.Signed[order.DivisibleBuyer]    `json:"buy"`
	Sellers    []order.Signed[order.DivisibleSeller] `json:"sellers"` // one per ticket, same order
	Commission commission.Info                       `json:"commission"`
}

// MatchBookRequest is the payload for POST /api/v1/settle/book
type MatchBookRequest struct {
	Sell       order.Signed[order.BookSeller] `json:"sell"`
	Buy        order.Signed[order.BookBuyer]  `json:"buy"`
	Commission commission.Info                `json:"commission"`
}

// MatchBookBatchRequest is the payload for POST /api/v1/settle/book-batch
type MatchBookBatchRequest struct {
	Sell       order.Signed[order.BookSeller]  `json:"sell"`
	Buys       []order.Signed[order.BookBuyer] `json:"buys"` // filled in array order
	Commission commission.Info                 `json:"commission"`
}

// CancelRequest is the payload for the cancel endpoints. Floor is ignored
// by binary cancellations (single orders, divisible buyers).
type CancelRequest[T order.Order] struct {
	Order order.Signed[T] `json:"order"`
	Floor *big.Int        `json:"floor,omitempty"`
}

// ExecutorRequest is the payload for POST /api/v1/executors
type ExecutorRequest struct {
	Address common.Address `json:"address"`
	Enabled bool           `json:"enabled"`
}

// VerifyRequest is the payload for POST /api/v1/signatures/verify
type VerifyRequest struct {
	Fingerprint common.Hash    `json:"fingerprint"`
	Signer      common.Address `json:"signer"`
	Signature   hexutil.Bytes  `json:"signature"`
}

// ==============================
// REST Response Types
// ==============================

// SettlementResponse is returned by every accepted settle/cancel call
type SettlementResponse struct {
	Status string        `json:"status"` // "committed"
	Event  *events.Event `json:"event"`
}

// DomainInfo describes the signing domain orders must be signed under
type DomainInfo struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
	Separator         common.Hash    `json:"separator"`
}

// HashResponse is returned by POST /api/v1/hash/{kind}
type HashResponse struct {
	Kind        order.Kind  `json:"kind"`
	Fingerprint common.Hash `json:"fingerprint"`
	Digest      common.Hash `json:"digest"` // what the maker's wallet signs
}

// FillInfo is the committed fill state of one fingerprint
type FillInfo struct {
	Fingerprint common.Hash `json:"fingerprint"`
	Fill        *big.Int    `json:"fill"`
	Fulfilled   bool        `json:"fulfilled"` // fill is non-zero
}

// VerifyResponse is returned by POST /api/v1/signatures/verify
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// ExecutorsResponse lists the executor set, owner first
type ExecutorsResponse struct {
	Owner     common.Address   `json:"owner"`
	Executors []common.Address `json:"executors"`
}

// NodeStatus is returned by GET /api/v1/status
type NodeStatus struct {
	Engine        common.Address `json:"engine"`
	MempoolSize   int            `json:"mempoolSize"`   // Pending requests
	DroppedEvents uint64         `json:"droppedEvents"` // Events the bus could not queue
	WSClients     int            `json:"wsClients"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"` // stable code, e.g. "orderExpired"
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["settlements", "kind:book_matched", "order:0x..."]
}

// SettlementUpdate is pushed for every committed call
type SettlementUpdate struct {
	Type  string       `json:"type"` // "settlement"
	Event events.Event `json:"event"`
}
