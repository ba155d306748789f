package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

// MatchDivisible fills a buyer order from the seller orders it lists.
// sellers[i] must fingerprint to buy.Tickets[i] and supplies Amounts[i]
// units. The sum of all leg prices must equal the buyer's total price.
// Commission is split per leg.
func (e *Engine) MatchDivisible(caller common.Address, buy order.Signed[order.DivisibleBuyer], sellers []order.Signed[order.DivisibleSeller], info commission.Info) (*events.Event, error) {
	return e.execute("match_divisible", caller, func(c *call) error {
		if err := validateCommission(info); err != nil {
			return err
		}
		b := buy.Order
		n := len(b.Tickets)
		if n == 0 || len(b.Amounts) != n || len(sellers) != n {
			return invalid("leg count mismatch: %d tickets, %d amounts, %d seller orders", n, len(b.Amounts), len(sellers))
		}
		if err := validate(b); err != nil {
			return err
		}

		buyFp, err := e.authenticate(b, buy.Signature)
		if err != nil {
			return err
		}
		used, err := e.ledger.IsUsed(buyFp)
		if err != nil {
			return err
		}
		if used {
			return fmt.Errorf("%w: buyer order %s", ErrOrderAlreadyUsed, buyFp.Hex())
		}

		currency, err := e.fungible(b.Currency)
		if err != nil {
			return err
		}
		ledger1155, err := e.multiToken(b.Asset)
		if err != nil {
			return err
		}

		c.trade(events.KindDivisibleMatched, b.Currency, b.Asset, info)
		total := new(big.Int)
		type plannedLeg struct {
			seller common.Address
			amount *big.Int
			price  *big.Int
		}
		planned := make([]plannedLeg, 0, n)

		for i, signed := range sellers {
			s := signed.Order
			if err := validate(s); err != nil {
				return fmt.Errorf("leg %d: %w", i, err)
			}
			switch {
			case s.Currency != b.Currency:
				return invalid("leg %d: currency mismatch: %s != %s", i, s.Currency.Hex(), b.Currency.Hex())
			case s.Asset != b.Asset:
				return invalid("leg %d: asset mismatch: %s != %s", i, s.Asset.Hex(), b.Asset.Hex())
			case s.TokenID.Cmp(b.TokenID) != 0:
				return invalid("leg %d: token id mismatch: %s != %s", i, s.TokenID, b.TokenID)
			}
			fp := s.Hash()
			if fp != b.Tickets[i] {
				return invalid("leg %d: seller order %s is not ticket %s", i, fp.Hex(), b.Tickets[i].Hex())
			}
			if err := checkWindow(c.now, fp, s.ListingTime, s.ExpirationTime); err != nil {
				return fmt.Errorf("leg %d: %w", i, err)
			}
			if _, err := e.authenticate(s, signed.Signature); err != nil {
				return fmt.Errorf("leg %d: %w", i, err)
			}
			amount := b.Amounts[i]
			if amount.Sign() == 0 {
				return invalid("leg %d: zero amount", i)
			}
			fill, err := e.ledger.Reserve(fp, amount, s.Stock)
			if err != nil {
				return fmt.Errorf("leg %d: %w", i, capacityErr(err, ErrSoldOut))
			}
			price := new(big.Int).Mul(s.PricePerUnit, amount)
			total.Add(total, price)
			c.leg(fp, s.Seller, events.RoleSeller, amount, fill)
			planned = append(planned, plannedLeg{seller: s.Seller, amount: new(big.Int).Set(amount), price: price})
		}

		if total.Cmp(b.TotalPrice) != 0 {
			return invalid("total price mismatch: legs sum to %s, buyer pays %s", total, b.TotalPrice)
		}
		if err := e.ledger.MarkUsed(buyFp); err != nil {
			return capacityErr(err, ErrOrderAlreadyUsed)
		}
		c.leg(buyFp, b.Buyer, events.RoleBuyer, total, one)

		spender, tokenID := c.spender, new(big.Int).Set(b.TokenID)
		for i, p := range planned {
			c.proceeds(currency, b.Buyer, p.seller, p.price, info)
			c.move(fmt.Sprintf("leg %d asset to buyer", i), func() error {
				return ledger1155.SafeTransferFrom(spender, p.seller, b.Buyer, tokenID, p.amount)
			})
		}
		return nil
	})
}

// CancelDivisibleSeller raises the seller order's fill to floor, which must
// exceed the current fill and stay within the stock.
func (e *Engine) CancelDivisibleSeller(caller common.Address, o order.Signed[order.DivisibleSeller], floor *big.Int) (*events.Event, error) {
	return e.execute("cancel_divisible_seller", caller, func(c *call) error {
		if err := validate(o.Order); err != nil {
			return err
		}
		fp, err := e.authenticate(o.Order, o.Signature)
		if err != nil {
			return err
		}
		if err := e.ledger.Cancel(fp, floor, o.Order.Stock); err != nil {
			return cancelErr(err)
		}
		c.cancelled(fp, o.Order.Seller, events.RoleSeller, floor)
		return nil
	})
}

// CancelDivisibleBuyer consumes a buyer order before it settles.
func (e *Engine) CancelDivisibleBuyer(caller common.Address, o order.Signed[order.DivisibleBuyer]) (*events.Event, error) {
	return e.execute("cancel_divisible_buyer", caller, func(c *call) error {
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
		c.cancelled(fp, o.Order.Buyer, events.RoleBuyer, one)
		return nil
	})
}
