package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

// MatchBook fills a quantity buyer from a quantity seller. The buyer gets
// as many units as both sides still have room for.
func (e *Engine) MatchBook(caller common.Address, sell order.Signed[order.BookSeller], buy order.Signed[order.BookBuyer], info commission.Info) (*events.Event, error) {
	return e.execute("match_book", caller, func(c *call) error {
		return e.stageBook(c, events.KindBookMatched, sell, []order.Signed[order.BookBuyer]{buy}, info)
	})
}

// MatchBookBatch fills buyers from one seller in array order. Seller stock
// is consumed cumulatively; any failing buyer fails the whole batch.
func (e *Engine) MatchBookBatch(caller common.Address, sell order.Signed[order.BookSeller], buys []order.Signed[order.BookBuyer], info commission.Info) (*events.Event, error) {
	return e.execute("match_book_batch", caller, func(c *call) error {
		return e.stageBook(c, events.KindBookBatchMatched, sell, buys, info)
	})
}

func (e *Engine) stageBook(c *call, kind events.Kind, sell order.Signed[order.BookSeller], buys []order.Signed[order.BookBuyer], info commission.Info) error {
	if err := validateCommission(info); err != nil {
		return err
	}
	if len(buys) == 0 {
		return invalid("no buyer orders")
	}
	s := sell.Order
	if err := validate(s); err != nil {
		return err
	}
	sellFp, err := e.authenticate(s, sell.Signature)
	if err != nil {
		return err
	}
	if err := checkWindow(c.now, sellFp, s.ListingTime, nil); err != nil {
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
	// Registries without item ids cannot be checked against ItemID.
	items, _ := nft.(asset.ItemRegistry)

	stock := s.Stock()
	c.trade(kind, s.Currency, s.Asset, info)
	c.leg(sellFp, s.Maker, events.RoleSeller, new(big.Int), new(big.Int))
	delivered := new(big.Int)

	for i, signed := range buys {
		b := signed.Order
		if err := validate(b); err != nil {
			return fmt.Errorf("buyer %d: %w", i, err)
		}
		switch {
		case b.Currency != s.Currency:
			return invalid("buyer %d: currency mismatch: %s != %s", i, b.Currency.Hex(), s.Currency.Hex())
		case b.PerPrice.Cmp(s.PerPrice) != 0:
			return invalid("buyer %d: price mismatch: %s != %s", i, b.PerPrice, s.PerPrice)
		case b.Asset != s.Asset:
			return invalid("buyer %d: asset mismatch: %s != %s", i, b.Asset.Hex(), s.Asset.Hex())
		}
		buyFp, err := e.authenticate(b, signed.Signature)
		if err != nil {
			return fmt.Errorf("buyer %d: %w", i, err)
		}
		if err := checkWindow(c.now, buyFp, b.ListingTime, nil); err != nil {
			return fmt.Errorf("buyer %d: %w", i, err)
		}

		sellerRem, err := e.ledger.Remaining(sellFp, stock)
		if err != nil {
			return err
		}
		buyerRem, err := e.ledger.Remaining(buyFp, b.PurchaseAmount)
		if err != nil {
			return err
		}
		if sellerRem.Sign() == 0 {
			return fmt.Errorf("%w: buyer %d: seller order %s has no stock left", ErrOutOfStock, i, sellFp.Hex())
		}
		if buyerRem.Sign() == 0 {
			return fmt.Errorf("%w: buyer %d: buyer order %s is filled", ErrOutOfStock, i, buyFp.Hex())
		}
		qty := sellerRem
		if buyerRem.Cmp(qty) < 0 {
			qty = buyerRem
		}

		start := new(big.Int).Sub(stock, sellerRem).Int64()
		units := make([]*big.Int, 0, qty.Int64())
		for _, id := range s.TokenIDs[start : start+qty.Int64()] {
			units = append(units, new(big.Int).Set(id))
		}
		if items != nil {
			for _, id := range units {
				item, err := items.ItemOf(id)
				if err != nil {
					return invalid("buyer %d: token %s: %v", i, id, err)
				}
				if item != b.ItemID {
					return invalid("buyer %d: token %s is item %d, want %d", i, id, item, b.ItemID)
				}
			}
		}

		if _, err := e.ledger.Reserve(sellFp, qty, stock); err != nil {
			return capacityErr(err, ErrOutOfStock)
		}
		buyFill, err := e.ledger.Reserve(buyFp, qty, b.PurchaseAmount)
		if err != nil {
			return capacityErr(err, ErrOutOfStock)
		}
		delivered.Add(delivered, qty)
		c.leg(buyFp, b.Maker, events.RoleBuyer, qty, buyFill).Units = units

		c.proceeds(currency, b.Maker, s.Maker, new(big.Int).Mul(s.PerPrice, qty), info)
		spender, buyer := c.spender, b.Maker
		for _, id := range units {
			c.move(fmt.Sprintf("token %s to buyer %d", id, i), func() error {
				return nft.TransferFrom(spender, s.Maker, buyer, id)
			})
		}
	}

	sellerFill, err := e.ledger.Filled(sellFp)
	if err != nil {
		return err
	}
	c.event.Legs[0].Amount.Set(delivered)
	c.event.Legs[0].Fill.Set(sellerFill)
	return nil
}

// CancelBookSeller raises the seller order's fill to floor, at most its
// number of token ids.
func (e *Engine) CancelBookSeller(caller common.Address, o order.Signed[order.BookSeller], floor *big.Int) (*events.Event, error) {
	return e.execute("cancel_book_seller", caller, func(c *call) error {
		if err := validate(o.Order); err != nil {
			return err
		}
		fp, err := e.authenticate(o.Order, o.Signature)
		if err != nil {
			return err
		}
		if err := e.ledger.Cancel(fp, floor, o.Order.Stock()); err != nil {
			return cancelErr(err)
		}
		c.cancelled(fp, o.Order.Maker, events.RoleSeller, floor)
		return nil
	})
}

// CancelBookBuyer raises the buyer order's fill to floor, at most its
// purchase amount.
func (e *Engine) CancelBookBuyer(caller common.Address, o order.Signed[order.BookBuyer], floor *big.Int) (*events.Event, error) {
	return e.execute("cancel_book_buyer", caller, func(c *call) error {
		if err := validate(o.Order); err != nil {
			return err
		}
		fp, err := e.authenticate(o.Order, o.Signature)
		if err != nil {
			return err
		}
		if err := e.ledger.Cancel(fp, floor, o.Order.PurchaseAmount); err != nil {
			return cancelErr(err)
		}
		c.cancelled(fp, o.Order.Maker, events.RoleBuyer, floor)
		return nil
	})
}
