package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

var one = big.NewInt(1)

// MatchSingle swaps one non-fungible unit from the seller for the buyer's
// currency. Both fingerprints are consumed; the seller receives the price
// minus commission.
func (e *Engine) MatchSingle(caller common.Address, sell, buy order.Signed[order.Single], info commission.Info) (*events.Event, error) {
	return e.execute("match_single", caller, func(c *call) error {
		if err := validateCommission(info); err != nil {
			return err
		}
		s, b := sell.Order, buy.Order
		if err := validate(s, b); err != nil {
			return err
		}
		if !s.IsSeller {
			return invalid("seller order %s is not a sell order", s.Hash().Hex())
		}
		if b.IsSeller {
			return invalid("buyer order %s is not a buy order", b.Hash().Hex())
		}
		switch {
		case s.Currency != b.Currency:
			return invalid("currency mismatch: %s != %s", s.Currency.Hex(), b.Currency.Hex())
		case s.Price.Cmp(b.Price) != 0:
			return invalid("price mismatch: %s != %s", s.Price, b.Price)
		case s.Asset != b.Asset:
			return invalid("asset mismatch: %s != %s", s.Asset.Hex(), b.Asset.Hex())
		case s.TokenID.Cmp(b.TokenID) != 0:
			return invalid("token id mismatch: %s != %s", s.TokenID, b.TokenID)
		}

		sellFp, err := e.authenticate(s, sell.Signature)
		if err != nil {
			return err
		}
		buyFp, err := e.authenticate(b, buy.Signature)
		if err != nil {
			return err
		}
		if err := checkWindow(c.now, sellFp, s.ListingTime, s.ExpirationTime); err != nil {
			return err
		}
		if err := checkWindow(c.now, buyFp, b.ListingTime, b.ExpirationTime); err != nil {
			return err
		}

		currency, err := e.fungible(s.Currency)
		if err != nil {
			return err
		}
		nft, err := e.nonFungible(s.Asset)
		if err != nil {
			return err
		}

		if err := e.ledger.MarkUsed(sellFp); err != nil {
			return capacityErr(err, ErrOrderAlreadyUsed)
		}
		if err := e.ledger.MarkUsed(buyFp); err != nil {
			return capacityErr(err, ErrOrderAlreadyUsed)
		}

		c.trade(events.KindSingleMatched, s.Currency, s.Asset, info)
		c.leg(sellFp, s.Maker, events.RoleSeller, one, one).Units = []*big.Int{new(big.Int).Set(s.TokenID)}
		c.leg(buyFp, b.Maker, events.RoleBuyer, one, one)

		c.proceeds(currency, b.Maker, s.Maker, s.Price, info)
		spender, tokenID := c.spender, new(big.Int).Set(s.TokenID)
		c.move("asset to buyer", func() error {
			return nft.TransferFrom(spender, s.Maker, b.Maker, tokenID)
		})
		return nil
	})
}

// CancelSingle marks a single-asset order used so it can never settle.
// The maker's order signature must accompany the request.
func (e *Engine) CancelSingle(caller common.Address, o order.Signed[order.Single]) (*events.Event, error) {
	return e.execute("cancel_single", caller, func(c *call) error {
		if err := validate(o.Order); err != nil {
			return err
		}
		fp, err := e.authenticate(o.Order, o.Signature)
		if err != nil {
			return err
		}
		if err := e.ledger.CancelUsed(fp); err != nil {
			return cancelErr(err)
		}
		c.cancelled(fp, o.Order.Maker, role(o.Order.IsSeller), one)
		return nil
	})
}
