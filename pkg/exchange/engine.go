// Package exchange settles signed off-chain orders against each other.
//
// Every entry point runs in two phases. The staging phase checks the
// executor gate, order linkage, timing windows and maker signatures, then
// reserves fill capacity in the ledger and plans the asset transfers. The
// transfer phase executes the plan. A failure anywhere reverts both the
// ledger reservations and every transfer already made, so a call either
// commits completely or leaves no trace.
//
// Fill reservations are staged before any transfer runs. An asset ledger
// that calls back into the engine during a transfer observes the reserved
// capacity and cannot settle the same fingerprint twice.
//
// An Engine is not safe for concurrent use; calls are serialized by the
// node's sequencer. Query methods only read committed state.
package exchange

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/auth"
	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/ledger"
	"github.com/uhyunpark/hypersettle/pkg/order"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

// Observer is told about every rejected call.
type Observer interface {
	ObserveRejection(op, code string)
}

type Config struct {
	Domain crypto.Domain
	Gate   auth.Gate
	// Auth defaults to EIP-712 signatures under Domain.
	Auth     auth.Authenticator
	Ledger   *ledger.Ledger
	Assets   asset.Registry
	Clock    util.Clock
	Events   events.Emitter
	Observer Observer
	Logger   *zap.SugaredLogger
}

type Engine struct {
	domain   crypto.Domain
	gate     auth.Gate
	auth     auth.Authenticator
	ledger   *ledger.Ledger
	assets   asset.Registry
	clock    util.Clock
	emitter  events.Emitter
	observer Observer
	log      *zap.SugaredLogger

	// depth counts nested entry point calls made from inside a transfer.
	// Only the outermost call commits.
	depth   int
	pending []events.Event
}

func New(cfg Config) (*Engine, error) {
	if cfg.Gate == nil || cfg.Ledger == nil || cfg.Assets == nil {
		return nil, errors.New("exchange: gate, ledger and assets are required")
	}
	e := &Engine{
		domain:   cfg.Domain,
		gate:     cfg.Gate,
		auth:     cfg.Auth,
		ledger:   cfg.Ledger,
		assets:   cfg.Assets,
		clock:    cfg.Clock,
		emitter:  cfg.Events,
		observer: cfg.Observer,
		log:      util.OrNop(cfg.Logger),
	}
	if e.auth == nil {
		a, err := auth.NewEIP712Authenticator(cfg.Domain)
		if err != nil {
			return nil, err
		}
		e.auth = a
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	return e, nil
}

func (e *Engine) Domain() crypto.Domain { return e.domain }

// Address is the identity the engine uses as spender and operator on the
// asset ledgers. Makers approve it to move their assets.
func (e *Engine) Address() common.Address { return e.domain.VerifyingContract }

func (e *Engine) HashSingle(o order.Single) common.Hash                   { return o.Hash() }
func (e *Engine) HashDivisibleSeller(o order.DivisibleSeller) common.Hash { return o.Hash() }
func (e *Engine) HashDivisibleBuyer(o order.DivisibleBuyer) common.Hash   { return o.Hash() }
func (e *Engine) HashBookSeller(o order.BookSeller) common.Hash           { return o.Hash() }
func (e *Engine) HashBookBuyer(o order.BookBuyer) common.Hash             { return o.Hash() }

// FillOf returns the committed fill of fp. Unknown fingerprints are zero.
func (e *Engine) FillOf(fp common.Hash) (*big.Int, error) {
	return e.ledger.Committed(fp)
}

// IsFulfilled reports whether a single-unit fingerprint is used or
// cancelled.
func (e *Engine) IsFulfilled(fp common.Hash) (bool, error) {
	fill, err := e.ledger.Committed(fp)
	if err != nil {
		return false, err
	}
	return fill.Sign() > 0, nil
}

func (e *Engine) ValidateSignature(fp common.Hash, signer common.Address, signature []byte) bool {
	return e.auth.Verify(fp, signer, signature)
}

// call is the staged state of one entry point invocation.
type call struct {
	now       int64
	spender   common.Address
	transfers []transfer
	event     events.Event
}

type transfer struct {
	desc string
	run  func() error
}

func (c *call) move(desc string, run func() error) {
	c.transfers = append(c.transfers, transfer{desc: desc, run: run})
}

// pay plans a currency transfer. Zero amounts are skipped.
func (c *call) pay(desc string, token asset.Fungible, from, to common.Address, amount *big.Int) {
	if amount.Sign() == 0 {
		return
	}
	spender := c.spender
	c.move(desc, func() error { return token.TransferFrom(spender, from, to, amount) })
}

// proceeds plans the buyer's payment for gross: the net to the seller and
// the commission to its recipient.
func (c *call) proceeds(token asset.Fungible, buyer, seller common.Address, gross *big.Int, info commission.Info) {
	fee, net := info.Split(gross)
	c.pay("buyer to seller", token, buyer, seller, net)
	c.pay("commission", token, buyer, info.To, fee)
	c.event.Gross.Add(c.event.Gross, gross)
	c.event.Commission.Add(c.event.Commission, fee)
}

func (c *call) leg(fp common.Hash, maker common.Address, role events.Role, amount, fill *big.Int) *events.Leg {
	c.event.Legs = append(c.event.Legs, events.Leg{
		Fingerprint: fp,
		Maker:       maker,
		Role:        role,
		Amount:      new(big.Int).Set(amount),
		Fill:        new(big.Int).Set(fill),
	})
	return &c.event.Legs[len(c.event.Legs)-1]
}

func (c *call) trade(kind events.Kind, currency, assetAddr common.Address, info commission.Info) {
	c.event.Kind = kind
	c.event.Currency = currency
	c.event.Asset = assetAddr
	c.event.Gross = new(big.Int)
	c.event.Commission = new(big.Int)
	c.event.CommissionTo = info.To
	if info.DAppID != nil {
		c.event.DAppID = new(big.Int).Set(info.DAppID)
	}
}

// execute runs stage and then the transfers it planned, committing both
// the ledger and the asset registry when the outermost call succeeds. A
// durable registry's changes are written in the same store batch as the
// fills.
func (e *Engine) execute(op string, caller common.Address, stage func(c *call) error) (*events.Event, error) {
	if !e.gate.IsExecutor(caller) {
		err := fmt.Errorf("%w: %s", ErrExecutorForbidden, caller.Hex())
		e.reject(op, caller, err)
		return nil, err
	}

	e.depth++
	defer func() { e.depth-- }()

	ledgerSnap := e.ledger.Snapshot()
	assetSnap := e.assets.Snapshot()
	pendingMark := len(e.pending)
	fail := func(err error) (*events.Event, error) {
		e.assets.RevertToSnapshot(assetSnap)
		if e.depth == 1 {
			e.ledger.Discard()
		} else {
			e.ledger.RevertToSnapshot(ledgerSnap)
		}
		e.pending = e.pending[:pendingMark]
		e.reject(op, caller, err)
		return nil, err
	}

	now := e.clock.Now()
	c := &call{
		now:     now.Unix(),
		spender: e.Address(),
		event: events.Event{
			ID:        uuid.New(),
			Executor:  caller,
			Timestamp: now.Unix(),
		},
	}
	if err := stage(c); err != nil {
		return fail(err)
	}
	for _, t := range c.transfers {
		if err := t.run(); err != nil {
			return fail(fmt.Errorf("%s: %w", t.desc, transferErr(err)))
		}
	}

	e.pending = append(e.pending, c.event)
	if e.depth == 1 {
		var state map[string][]byte
		if d, ok := e.assets.(asset.Durable); ok {
			state = d.Changes()
		}
		if err := e.ledger.CommitWith(state); err != nil {
			return fail(err)
		}
		e.assets.Commit()
		if e.emitter != nil {
			for _, ev := range e.pending {
				e.emitter.Emit(ev)
			}
		}
		e.pending = e.pending[:0]
	}

	e.log.Infow("call_committed",
		"op", op,
		"executor", caller.Hex(),
		"event_id", c.event.ID,
		"fingerprints", fingerprintHexes(c.event.Legs),
		"gross", c.event.Gross,
		"commission", c.event.Commission,
		"nested", e.depth > 1)
	ev := c.event
	return &ev, nil
}

func (e *Engine) reject(op string, caller common.Address, err error) {
	code := Code(err)
	e.log.Debugw("call_rejected", "op", op, "executor", caller.Hex(), "code", code, "err", err)
	if e.observer != nil {
		e.observer.ObserveRejection(op, code)
	}
}

// authenticate fingerprints o and checks its maker's signature.
func (e *Engine) authenticate(o order.Order, signature []byte) (common.Hash, error) {
	fp := o.Hash()
	if !e.auth.Verify(fp, o.MakerAddress(), signature) {
		return fp, fmt.Errorf("%w: %s order %s by %s", ErrInvalidSignature, o.Kind(), fp.Hex(), o.MakerAddress().Hex())
	}
	return fp, nil
}

func validate(orders ...order.Order) error {
	for _, o := range orders {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	return nil
}

func validateCommission(info commission.Info) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// checkWindow enforces listing <= now <= expiration. A zero or nil
// expiration never expires.
func checkWindow(now int64, fp common.Hash, listing, expiration *big.Int) error {
	t := big.NewInt(now)
	if listing != nil && listing.Cmp(t) > 0 {
		return fmt.Errorf("%w: %s listed at %s, now %d", ErrOrderNotListed, fp.Hex(), listing, now)
	}
	if expiration != nil && expiration.Sign() != 0 && t.Cmp(expiration) > 0 {
		return fmt.Errorf("%w: %s expired at %s, now %d", ErrOrderExpired, fp.Hex(), expiration, now)
	}
	return nil
}

func (e *Engine) fungible(addr common.Address) (asset.Fungible, error) {
	f, err := e.assets.Fungible(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return f, nil
}

func (e *Engine) nonFungible(addr common.Address) (asset.NonFungible, error) {
	n, err := e.assets.NonFungible(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return n, nil
}

func (e *Engine) multiToken(addr common.Address) (asset.MultiToken, error) {
	m, err := e.assets.MultiToken(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return m, nil
}

func fingerprintHexes(legs []events.Leg) []string {
	out := make([]string, len(legs))
	for i, l := range legs {
		out[i] = l.Fingerprint.Hex()
	}
	return out
}

func role(isSeller bool) events.Role {
	if isSeller {
		return events.RoleSeller
	}
	return events.RoleBuyer
}

// cancelled records a cancellation event for fp.
func (c *call) cancelled(fp common.Hash, maker common.Address, r events.Role, floor *big.Int) {
	c.event.Kind = events.KindOrderCancelled
	c.leg(fp, maker, r, floor, floor)
}
