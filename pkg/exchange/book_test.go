package exchange

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/order"
)

const itemID = 123

type bookCase struct {
	*fixture
	seller    *crypto.Signer
	sellOrder order.BookSeller
}

// newBookCase mints stock units of item 123 to a seller offering all of
// them at 100 each.
func newBookCase(t *testing.T, stock int) *bookCase {
	f := newFixture(t)
	c := &bookCase{fixture: f, seller: newKey(t)}
	ids := make([]*big.Int, stock)
	for i := range ids {
		ids[i] = n(int64(i))
		require.NoError(t, f.nft.Mint(c.seller.Address(), ids[i], itemID))
	}
	f.nft.SetApprovalForAll(c.seller.Address(), engineAddr, true)
	f.world.Commit()
	c.sellOrder = order.BookSeller{
		Maker:       c.seller.Address(),
		ListingTime: n(f.now - 5*day),
		Currency:    currencyAddr,
		PerPrice:    n(100),
		Asset:       nftAddr,
		TokenIDs:    ids,
		Salt:        n(0),
	}
	return c
}

func (c *bookCase) buyer(funds, purchase int64) (*crypto.Signer, order.BookBuyer) {
	k := newKey(c.t)
	c.fund(k.Address(), funds)
	return k, order.BookBuyer{
		Maker:          k.Address(),
		ListingTime:    n(c.now - 5*day),
		Currency:       currencyAddr,
		PerPrice:       n(100),
		Asset:          nftAddr,
		ItemID:         itemID,
		PurchaseAmount: n(purchase),
		Salt:           n(0),
	}
}

func (c *bookCase) sell() order.Signed[order.BookSeller] {
	return sign(c.fixture, c.seller, c.sellOrder)
}

func (c *bookCase) owned(holder common.Address) int {
	count := 0
	for _, id := range c.sellOrder.TokenIDs {
		if owner, err := c.nft.OwnerOf(id); err == nil && owner == holder {
			count++
		}
	}
	return count
}

func TestMatchBook(t *testing.T) {
	c := newBookCase(t, 5)
	k, b := c.buyer(1000, 100)

	ev, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k, b), c.info(500))
	require.NoError(t, err)

	assert.Equal(t, int64(500), c.balance(k.Address()))
	assert.Equal(t, int64(475), c.balance(c.seller.Address()))
	assert.Equal(t, int64(25), c.balance(recipient))
	assert.Equal(t, 5, c.owned(k.Address()))
	assert.Equal(t, int64(5), c.fill(c.sellOrder.Hash()))
	assert.Equal(t, int64(5), c.fill(b.Hash()))

	assert.Equal(t, events.KindBookMatched, ev.Kind)
	require.Len(t, ev.Legs, 2)
	assert.Equal(t, events.RoleSeller, ev.Legs[0].Role)
	assert.Equal(t, int64(5), ev.Legs[0].Amount.Int64())
	assert.Len(t, ev.Legs[1].Units, 5)
}

func TestMatchBookSequentialDelivery(t *testing.T) {
	c := newBookCase(t, 5)
	k1, b1 := c.buyer(1000, 3)
	k2, b2 := c.buyer(1000, 5)

	_, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k1, b1), c.info(500))
	require.NoError(t, err)
	ev, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k2, b2), c.info(500))
	require.NoError(t, err)

	for i, want := range []common.Address{k1.Address(), k1.Address(), k1.Address(), k2.Address(), k2.Address()} {
		owner, err := c.nft.OwnerOf(n(int64(i)))
		require.NoError(t, err)
		assert.Equal(t, want, owner, "token %d", i)
	}
	assert.Equal(t, []*big.Int{n(3), n(4)}, ev.Legs[1].Units)
	assert.Equal(t, int64(2), c.fill(b2.Hash()))
	assert.Equal(t, int64(5), c.fill(c.sellOrder.Hash()))

	_, err = c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k2, b2), c.info(500))
	require.ErrorIs(t, err, ErrOutOfStock)
}

func TestMatchBookRejections(t *testing.T) {
	cases := []struct {
		name   string
		funds  int64
		mutate func(c *bookCase, b *order.BookBuyer)
		want   error
	}{
		{"wrong item id", 1000, func(_ *bookCase, b *order.BookBuyer) { b.ItemID = 111 }, ErrInvalidRequest},
		{"different currency", 1000, func(_ *bookCase, b *order.BookBuyer) { b.Currency = common.HexToAddress("0xbeef") }, ErrInvalidRequest},
		{"different per price", 1000, func(_ *bookCase, b *order.BookBuyer) { b.PerPrice = n(90) }, ErrInvalidRequest},
		{"different nft address", 1000, func(_ *bookCase, b *order.BookBuyer) { b.Asset = common.HexToAddress("0xbeef") }, ErrInvalidRequest},
		{"buyer not listed", 1000, func(c *bookCase, b *order.BookBuyer) { b.ListingTime = n(c.now + 1) }, ErrOrderNotListed},
		{"seller not listed", 1000, func(c *bookCase, _ *order.BookBuyer) { c.sellOrder.ListingTime = n(c.now + 1) }, ErrOrderNotListed},
		{"not enough buyer token", 100, func(_ *bookCase, _ *order.BookBuyer) {}, ErrTransferNoFund},
		{"duplicate token ids", 1000, func(c *bookCase, _ *order.BookBuyer) {
			c.sellOrder.TokenIDs[1] = c.sellOrder.TokenIDs[0]
		}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newBookCase(t, 5)
			k, b := c.buyer(tc.funds, 100)
			tc.mutate(c, &b)

			_, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k, b), c.info(500))
			require.ErrorIs(t, err, tc.want)

			assert.Zero(t, c.fill(c.sellOrder.Hash()))
			assert.Zero(t, c.fill(b.Hash()))
			assert.Equal(t, tc.funds, c.balance(k.Address()))
			assert.Equal(t, 0, c.owned(k.Address()))
		})
	}
}

func TestMatchBookOutOfStock(t *testing.T) {
	t.Run("buyer", func(t *testing.T) {
		c := newBookCase(t, 5)
		k, b := c.buyer(1000, 100)
		signed := sign(c.fixture, k, b)
		_, err := c.engine.CancelBookBuyer(c.executor(), signed, n(100))
		require.NoError(t, err)

		_, err = c.engine.MatchBook(c.executor(), c.sell(), signed, c.info(500))
		require.ErrorIs(t, err, ErrOutOfStock)
	})
	t.Run("seller", func(t *testing.T) {
		c := newBookCase(t, 5)
		k, b := c.buyer(1000, 100)
		_, err := c.engine.CancelBookSeller(c.executor(), c.sell(), n(5))
		require.NoError(t, err)

		_, err = c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k, b), c.info(500))
		require.ErrorIs(t, err, ErrOutOfStock)
	})
	t.Run("seller partially cancelled", func(t *testing.T) {
		c := newBookCase(t, 5)
		k, b := c.buyer(1000, 100)
		_, err := c.engine.CancelBookSeller(c.executor(), c.sell(), n(3))
		require.NoError(t, err)

		ev, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k, b), c.info(500))
		require.NoError(t, err)
		assert.Equal(t, []*big.Int{n(3), n(4)}, ev.Legs[1].Units)
	})
}

func TestCancelBookFloors(t *testing.T) {
	c := newBookCase(t, 5)
	k, b := c.buyer(1000, 100)
	buyer := sign(c.fixture, k, b)
	seller := c.sell()

	_, err := c.engine.CancelBookBuyer(c.executor(), buyer, n(50))
	require.NoError(t, err)
	_, err = c.engine.CancelBookBuyer(c.executor(), buyer, n(40))
	require.ErrorIs(t, err, ErrCancelConflict, "lower buyer floor")
	_, err = c.engine.CancelBookBuyer(c.executor(), buyer, n(101))
	require.ErrorIs(t, err, ErrCancelConflict, "buyer floor above purchase amount")

	_, err = c.engine.CancelBookSeller(c.executor(), seller, n(4))
	require.NoError(t, err)
	_, err = c.engine.CancelBookSeller(c.executor(), seller, n(3))
	require.ErrorIs(t, err, ErrCancelConflict, "lower seller floor")
	_, err = c.engine.CancelBookSeller(c.executor(), seller, n(6))
	require.ErrorIs(t, err, ErrCancelConflict, "seller floor above stock")

	_, err = c.engine.CancelBookSeller(c.seller.Address(), seller, n(5))
	require.ErrorIs(t, err, ErrExecutorForbidden)
	_, err = c.engine.CancelBookBuyer(k.Address(), buyer, n(60))
	require.ErrorIs(t, err, ErrExecutorForbidden)

	assert.Equal(t, int64(50), c.fill(b.Hash()))
	assert.Equal(t, int64(4), c.fill(c.sellOrder.Hash()))
}

func TestMatchBookCommissionAndGate(t *testing.T) {
	c := newBookCase(t, 5)
	k, b := c.buyer(1000, 100)
	buyer := sign(c.fixture, k, b)

	info := c.info(500)
	info.To = common.Address{}
	_, err := c.engine.MatchBook(c.executor(), c.sell(), buyer, info)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.engine.MatchBook(c.executor(), c.sell(), buyer, c.info(10001))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.engine.MatchBook(c.seller.Address(), c.sell(), buyer, c.info(500))
	require.ErrorIs(t, err, ErrExecutorForbidden)
	assert.Zero(t, c.fill(c.sellOrder.Hash()))
}

// plainRegistry hides item ids from the engine.
type plainRegistry struct{ *asset.World }

type plainCollection struct{ asset.NonFungible }

func (r plainRegistry) NonFungible(addr common.Address) (asset.NonFungible, error) {
	nft, err := r.World.NonFungible(addr)
	if err != nil {
		return nil, err
	}
	return plainCollection{nft}, nil
}

func TestMatchBookWithoutItemRegistry(t *testing.T) {
	c := newBookCase(t, 5)
	c.newEngine(plainRegistry{c.world})
	k, b := c.buyer(1000, 2)
	b.ItemID = 111

	_, err := c.engine.MatchBook(c.executor(), c.sell(), sign(c.fixture, k, b), c.info(500))
	require.NoError(t, err)
	assert.Equal(t, 2, c.owned(k.Address()))
}

type batch struct {
	keys   []*crypto.Signer
	orders []order.BookBuyer
}

func (c *bookCase) batch(funds []int64, purchases []int64) batch {
	var out batch
	for i := range purchases {
		k, b := c.buyer(funds[i], purchases[i])
		out.keys = append(out.keys, k)
		out.orders = append(out.orders, b)
	}
	return out
}

func (c *bookCase) signedBatch(bt batch) []order.Signed[order.BookBuyer] {
	out := make([]order.Signed[order.BookBuyer], len(bt.orders))
	for i := range bt.orders {
		out[i] = sign(c.fixture, bt.keys[i], bt.orders[i])
	}
	return out
}

func TestMatchBookBatch(t *testing.T) {
	c := newBookCase(t, 25)
	bt := c.batch([]int64{1000, 1000, 1000, 1000, 1000}, []int64{5, 5, 5, 5, 5})

	ev, err := c.engine.MatchBookBatch(c.executor(), c.sell(), c.signedBatch(bt), c.info(500))
	require.NoError(t, err)

	assert.Equal(t, int64(2375), c.balance(c.seller.Address()))
	assert.Equal(t, int64(125), c.balance(recipient))
	assert.Equal(t, int64(25), c.fill(c.sellOrder.Hash()))
	for i, b := range bt.orders {
		assert.Equal(t, int64(5), c.fill(b.Hash()), "buyer %d", i)
		assert.Equal(t, int64(500), c.balance(bt.keys[i].Address()), "buyer %d", i)
		assert.Equal(t, 5, c.owned(bt.keys[i].Address()), "buyer %d", i)
	}
	assert.Equal(t, events.KindBookBatchMatched, ev.Kind)
	require.Len(t, ev.Legs, 6)
	assert.Equal(t, int64(25), ev.Legs[0].Fill.Int64())
	assert.Equal(t, int64(2500), ev.Gross.Int64())
	assert.Equal(t, int64(125), ev.Commission.Int64())
	require.Len(t, c.emitted, 1)
}

func TestMatchBookBatchCapsLastBuyer(t *testing.T) {
	c := newBookCase(t, 25)
	bt := c.batch([]int64{2000, 1000, 1000, 1000, 1000}, []int64{15, 4, 1, 3, 6})

	_, err := c.engine.MatchBookBatch(c.executor(), c.sell(), c.signedBatch(bt), c.info(500))
	require.NoError(t, err)

	wantFills := []int64{15, 4, 1, 3, 2}
	wantBalances := []int64{500, 600, 900, 700, 800}
	for i, b := range bt.orders {
		assert.Equal(t, wantFills[i], c.fill(b.Hash()), "buyer %d", i)
		assert.Equal(t, wantBalances[i], c.balance(bt.keys[i].Address()), "buyer %d", i)
		assert.Equal(t, int(wantFills[i]), c.owned(bt.keys[i].Address()), "buyer %d", i)
	}
	assert.Equal(t, int64(25), c.fill(c.sellOrder.Hash()))
	assert.Equal(t, int64(2375), c.balance(c.seller.Address()))
	assert.Equal(t, int64(125), c.balance(recipient))
}

// The last buyer asks for 6 but only 2 units remain; commission is taken
// on the 200 delivered, not the 600 requested.
func TestMatchBookBatchCommissionOnDeliveredUnits(t *testing.T) {
	c := newBookCase(t, 25)
	bt := c.batch([]int64{3000, 1000}, []int64{23, 6})

	ev, err := c.engine.MatchBookBatch(c.executor(), c.sell(), c.signedBatch(bt), c.info(500))
	require.NoError(t, err)

	assert.Equal(t, int64(2), c.fill(bt.orders[1].Hash()))
	assert.Equal(t, int64(800), c.balance(bt.keys[1].Address()))
	assert.Equal(t, int64(2500), ev.Gross.Int64())
	assert.Equal(t, int64(125), ev.Commission.Int64())
	assert.Equal(t, int64(125), c.balance(recipient))
	assert.Equal(t, int64(2375), c.balance(c.seller.Address()))
}

func TestMatchBookBatchIsAtomic(t *testing.T) {
	cases := []struct {
		name      string
		funds     []int64
		purchases []int64
		mutate    func(c *bookCase, bt batch)
		want      error
	}{
		{"last buyer cannot pay", []int64{1000, 1000, 1000, 1000, 100}, []int64{5, 5, 5, 5, 5}, nil, ErrTransferNoFund},
		{"buyer after stock runs out", []int64{1000, 1000, 1000, 1000, 1000, 1000}, []int64{5, 5, 5, 5, 5, 1}, nil, ErrOutOfStock},
		{"middle buyer signed by someone else", []int64{1000, 1000, 1000}, []int64{5, 5, 5}, func(_ *bookCase, bt batch) {
			bt.keys[1] = bt.keys[0]
		}, ErrInvalidSignature},
		{"middle buyer wants another item", []int64{1000, 1000, 1000}, []int64{5, 5, 5}, func(_ *bookCase, bt batch) {
			bt.orders[1].ItemID = 7
		}, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newBookCase(t, 25)
			bt := c.batch(tc.funds, tc.purchases)
			if tc.mutate != nil {
				tc.mutate(c, bt)
			}

			_, err := c.engine.MatchBookBatch(c.executor(), c.sell(), c.signedBatch(bt), c.info(500))
			require.ErrorIs(t, err, tc.want)

			assert.Zero(t, c.fill(c.sellOrder.Hash()))
			assert.Zero(t, c.balance(c.seller.Address()))
			assert.Zero(t, c.balance(recipient))
			assert.Equal(t, 25, c.owned(c.seller.Address()))
			for i, b := range bt.orders {
				assert.Zero(t, c.fill(b.Hash()), "buyer %d", i)
				assert.Equal(t, tc.funds[i], c.balance(b.Maker), "buyer %d", i)
			}
			assert.Empty(t, c.emitted)
			assert.Zero(t, c.ledger.Pending())
		})
	}
}

func TestMatchBookBatchRequiresBuyers(t *testing.T) {
	c := newBookCase(t, 5)
	_, err := c.engine.MatchBookBatch(c.executor(), c.sell(), nil, c.info(500))
	require.ErrorIs(t, err, ErrInvalidRequest)
}
