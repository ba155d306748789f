package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

var BookSellerFields = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "listingTime", Type: "uint256"},
	{Name: "currencyAddress", Type: "address"},
	{Name: "perPrice", Type: "uint256"},
	{Name: "nftAddress", Type: "address"},
	{Name: "nftTokenIds", Type: "uint256[]"},
	{Name: "salt", Type: "uint256"},
}

var BookBuyerFields = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "listingTime", Type: "uint256"},
	{Name: "currencyAddress", Type: "address"},
	{Name: "perPrice", Type: "uint256"},
	{Name: "nftAddress", Type: "address"},
	{Name: "itemId", Type: "uint64"},
	{Name: "purchaseAmount", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
}

var (
	bookSellerTypeHash = crypto.TypeHash(PrimaryType, BookSellerFields)
	bookBuyerTypeHash  = crypto.TypeHash(PrimaryType, BookBuyerFields)
)

// BookSeller offers a pool of interchangeable token ids at PerPrice each.
// Units are delivered in list order; the fill counts delivered units.
type BookSeller struct {
	Maker       common.Address `json:"maker"`
	ListingTime *big.Int       `json:"listingTime"`
	Currency    common.Address `json:"currencyAddress"`
	PerPrice    *big.Int       `json:"perPrice"`
	Asset       common.Address `json:"nftAddress"`
	TokenIDs    []*big.Int     `json:"nftTokenIds"`
	Salt        *big.Int       `json:"salt"`
}

func (o BookSeller) Kind() Kind                   { return KindBookSeller }
func (o BookSeller) MakerAddress() common.Address { return o.Maker }

// Stock is the number of offered token ids.
func (o BookSeller) Stock() *big.Int { return big.NewInt(int64(len(o.TokenIDs))) }

func (o BookSeller) Hash() common.Hash {
	return crypto.NewStructEncoder(bookSellerTypeHash).
		Address(o.Maker).
		Uint(o.ListingTime).
		Address(o.Currency).
		Uint(o.PerPrice).
		Address(o.Asset).
		UintArray(o.TokenIDs).
		Uint(o.Salt).
		Sum()
}

func (o BookSeller) TypedData(domain crypto.Domain) apitypes.TypedData {
	return domain.TypedData(PrimaryType, BookSellerFields, apitypes.TypedDataMessage{
		"maker":           o.Maker.Hex(),
		"listingTime":     decimal(o.ListingTime),
		"currencyAddress": o.Currency.Hex(),
		"perPrice":        decimal(o.PerPrice),
		"nftAddress":      o.Asset.Hex(),
		"nftTokenIds":     decimals(o.TokenIDs),
		"salt":            decimal(o.Salt),
	})
}

func (o BookSeller) Validate() error {
	if err := firstErr(
		checkAddress("maker", o.Maker),
		checkAddress("currencyAddress", o.Currency),
		checkAddress("nftAddress", o.Asset),
		checkUint("listingTime", o.ListingTime),
		checkUint("perPrice", o.PerPrice),
		checkUint("salt", o.Salt),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(o.TokenIDs))
	for i, id := range o.TokenIDs {
		if err := checkUint(fmt.Sprintf("nftTokenIds[%d]", i), id); err != nil {
			return err
		}
		if _, dup := seen[id.String()]; dup {
			return fmt.Errorf("%w: nftTokenIds[%d] repeats token %s", ErrMalformed, i, id)
		}
		seen[id.String()] = struct{}{}
	}
	return nil
}

// BookBuyer wants PurchaseAmount units of item ItemID at PerPrice each. It
// may be filled across several settlements.
type BookBuyer struct {
	Maker          common.Address `json:"maker"`
	ListingTime    *big.Int       `json:"listingTime"`
	Currency       common.Address `json:"currencyAddress"`
	PerPrice       *big.Int       `json:"perPrice"`
	Asset          common.Address `json:"nftAddress"`
	ItemID         uint64         `json:"itemId"`
	PurchaseAmount *big.Int       `json:"purchaseAmount"`
	Salt           *big.Int       `json:"salt"`
}

func (o BookBuyer) Kind() Kind                   { return KindBookBuyer }
func (o BookBuyer) MakerAddress() common.Address { return o.Maker }

func (o BookBuyer) Hash() common.Hash {
	return crypto.NewStructEncoder(bookBuyerTypeHash).
		Address(o.Maker).
		Uint(o.ListingTime).
		Address(o.Currency).
		Uint(o.PerPrice).
		Address(o.Asset).
		Uint64(o.ItemID).
		Uint(o.PurchaseAmount).
		Uint(o.Salt).
		Sum()
}

func (o BookBuyer) TypedData(domain crypto.Domain) apitypes.TypedData {
	return domain.TypedData(PrimaryType, BookBuyerFields, apitypes.TypedDataMessage{
		"maker":           o.Maker.Hex(),
		"listingTime":     decimal(o.ListingTime),
		"currencyAddress": o.Currency.Hex(),
		"perPrice":        decimal(o.PerPrice),
		"nftAddress":      o.Asset.Hex(),
		"itemId":          fmt.Sprintf("%d", o.ItemID),
		"purchaseAmount":  decimal(o.PurchaseAmount),
		"salt":            decimal(o.Salt),
	})
}

func (o BookBuyer) Validate() error {
	return firstErr(
		checkAddress("maker", o.Maker),
		checkAddress("currencyAddress", o.Currency),
		checkAddress("nftAddress", o.Asset),
		checkUint("listingTime", o.ListingTime),
		checkUint("perPrice", o.PerPrice),
		checkUint("purchaseAmount", o.PurchaseAmount),
		checkUint("salt", o.Salt),
	)
}
