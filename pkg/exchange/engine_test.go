package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypersettle/pkg/asset"
	"github.com/uhyunpark/hypersettle/pkg/auth"
	"github.com/uhyunpark/hypersettle/pkg/commission"
	"github.com/uhyunpark/hypersettle/pkg/crypto"
	"github.com/uhyunpark/hypersettle/pkg/events"
	"github.com/uhyunpark/hypersettle/pkg/ledger"
	"github.com/uhyunpark/hypersettle/pkg/order"
	"github.com/uhyunpark/hypersettle/pkg/util"
)

const day = int64(24 * 60 * 60)

var (
	engineAddr   = common.HexToAddress("0x00000000000000000000000000000000000e4e41")
	currencyAddr = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
	nftAddr      = common.HexToAddress("0x00000000000000000000000000000000000000f7")
	multiAddr    = common.HexToAddress("0x0000000000000000000000000000000000001155")
	recipient    = common.HexToAddress("0x000000000000000000000000000000000000fee5")
)

type rejection struct{ op, code string }

type fixture struct {
	t        *testing.T
	engine   *Engine
	world    *asset.World
	ledger   *ledger.Ledger
	roles    *auth.Roles
	clock    *util.ManualClock
	domain   crypto.Domain
	owner    *crypto.Signer
	now      int64
	currency *asset.FungibleToken
	nft      *asset.Collection
	multi    *asset.MultiTokenLedger

	emitted  []events.Event
	rejected []rejection
}

func (f *fixture) ObserveRejection(op, code string) {
	f.rejected = append(f.rejected, rejection{op, code})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, now: 1_700_000_000}
	f.owner = newKey(t)
	f.domain = crypto.DefaultDomain()
	f.domain.VerifyingContract = engineAddr
	f.clock = util.NewManualClock(time.Unix(f.now, 0))
	f.world = asset.NewWorld()
	f.currency = f.world.DeployFungible(currencyAddr)
	f.nft = f.world.DeployCollection(nftAddr)
	f.multi = f.world.DeployMultiToken(multiAddr)
	f.ledger = ledger.New(ledger.NewMemStore())
	f.roles = auth.NewRoles(f.owner.Address())
	f.newEngine(f.world)
	return f
}

func (f *fixture) newEngine(assets asset.Registry) {
	eng, err := New(Config{
		Domain:   f.domain,
		Gate:     f.roles,
		Ledger:   f.ledger,
		Assets:   assets,
		Clock:    f.clock,
		Events:   events.EmitterFunc(func(ev events.Event) { f.emitted = append(f.emitted, ev) }),
		Observer: f,
	})
	require.NoError(f.t, err)
	f.engine = eng
}

func (f *fixture) executor() common.Address { return f.owner.Address() }

func (f *fixture) info(bps uint64) commission.Info {
	return commission.Info{To: recipient, BasisPoints: bps, DAppID: big.NewInt(0)}
}

// fund mints currency to holder and approves the engine for it.
func (f *fixture) fund(holder common.Address, amount int64) {
	f.currency.Mint(holder, big.NewInt(amount))
	f.currency.Approve(holder, engineAddr, big.NewInt(1_000_000_000))
	f.world.Commit()
}

func (f *fixture) balance(holder common.Address) int64 {
	return f.currency.BalanceOf(holder).Int64()
}

func (f *fixture) fill(fp common.Hash) int64 {
	v, err := f.engine.FillOf(fp)
	require.NoError(f.t, err)
	return v.Int64()
}

func newKey(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

func sign[T order.Order](f *fixture, s *crypto.Signer, o T) order.Signed[T] {
	f.t.Helper()
	signed, err := order.Sign(s, f.domain, o)
	require.NoError(f.t, err)
	return signed
}

func n(v int64) *big.Int { return big.NewInt(v) }

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{Domain: crypto.DefaultDomain()})
	require.Error(t, err)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "internal", Code(assert.AnError))
	assert.Equal(t, "soldOut", Code(capacityErr(ledger.ErrCapacityExceeded, ErrSoldOut)))
	assert.Equal(t, "cancelConflict", Code(cancelErr(ledger.ErrCancelConflict)))
	assert.Equal(t, "transferNoFund", Code(transferErr(asset.ErrInsufficientAllowance)))
	assert.Equal(t, "transferNoFund", Code(transferErr(asset.ErrInsufficientBalance)))
	assert.Equal(t, "transferRejected", Code(transferErr(asset.ErrNotOwner)))
	assert.Equal(t, "invalidRequest", Code(invalid("bad %d", 1)))
}

func TestCheckWindow(t *testing.T) {
	fp := common.HexToHash("0x01")
	now := int64(1000)
	require.NoError(t, checkWindow(now, fp, n(1000), n(1000)))
	require.NoError(t, checkWindow(now, fp, n(0), n(0)))
	require.NoError(t, checkWindow(now, fp, nil, nil))
	require.ErrorIs(t, checkWindow(now, fp, n(1001), n(0)), ErrOrderNotListed)
	require.ErrorIs(t, checkWindow(now, fp, n(0), n(999)), ErrOrderExpired)
}

func TestValidateSignatureQuery(t *testing.T) {
	f := newFixture(t)
	seller := newKey(t)
	o := order.Single{
		IsSeller: true, Maker: seller.Address(),
		ListingTime: n(0), ExpirationTime: n(0),
		Currency: currencyAddr, Price: n(100), Asset: nftAddr, TokenID: n(0), Salt: n(0),
	}
	signed := sign(f, seller, o)
	fp := f.engine.HashSingle(o)

	assert.True(t, f.engine.ValidateSignature(fp, seller.Address(), signed.Signature))
	assert.False(t, f.engine.ValidateSignature(fp, f.executor(), signed.Signature))

	other := f.domain
	other.ChainID = big.NewInt(1)
	foreign, err := order.Sign(seller, other, o)
	require.NoError(t, err)
	assert.False(t, f.engine.ValidateSignature(fp, seller.Address(), foreign.Signature))

	fill, err := f.engine.FillOf(fp)
	require.NoError(t, err)
	assert.Zero(t, fill.Sign())
}

type brokenStore struct{ *ledger.MemStore }

func (brokenStore) Write(map[common.Hash]*big.Int, map[string][]byte) error {
	return errors.New("disk full")
}

func TestCommitWritesAssetChangesWithFills(t *testing.T) {
	c := newSingleCase(t)
	store := ledger.NewMemStore()
	c.ledger = ledger.New(store)
	c.newEngine(c.world)

	_, err := c.match()
	require.NoError(t, err)

	prefix := "world/bal/" + currencyAddr.Hex() + "/"
	balances := map[string]string{}
	require.NoError(t, store.ScanState(prefix, func(key string, value []byte) error {
		balances[key] = string(value)
		return nil
	}))
	assert.Equal(t, "900", balances[prefix+c.buyer.Address().Hex()])
	assert.Equal(t, "95", balances[prefix+c.seller.Address().Hex()])
	assert.Equal(t, "5", balances[prefix+recipient.Hex()])

	used, err := store.Get(c.sellOrder.Hash())
	require.NoError(t, err)
	assert.Equal(t, int64(1), used.Int64())
}

func TestCommitFailureRevertsTransfers(t *testing.T) {
	c := newSingleCase(t)
	c.ledger = ledger.New(brokenStore{ledger.NewMemStore()})
	c.newEngine(c.world)

	_, err := c.match()
	require.Error(t, err)

	assert.Equal(t, int64(1000), c.balance(c.buyer.Address()))
	assert.Equal(t, int64(0), c.balance(c.seller.Address()))
	owner, err := c.nft.OwnerOf(n(0))
	require.NoError(t, err)
	assert.Equal(t, c.seller.Address(), owner)
	assert.Empty(t, c.emitted)
}
