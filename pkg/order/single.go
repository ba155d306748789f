package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

// SingleFields is the EIP-712 schema of a single-asset order.
var SingleFields = []apitypes.Type{
	{Name: "isSeller", Type: "uint256"},
	{Name: "maker", Type: "address"},
	{Name: "listingTime", Type: "uint256"},
	{Name: "expirationTime", Type: "uint256"},
	{Name: "tokenAddress", Type: "address"},
	{Name: "tokenAmount", Type: "uint256"},
	{Name: "nftAddress", Type: "address"},
	{Name: "nftTokenId", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
}

var singleTypeHash = crypto.TypeHash(PrimaryType, SingleFields)

// Single swaps one non-fungible unit for a fixed currency amount. A seller
// order and a buyer order with identical terms settle exactly once.
type Single struct {
	IsSeller       bool           `json:"isSeller"`
	Maker          common.Address `json:"maker"`
	ListingTime    *big.Int       `json:"listingTime"`
	ExpirationTime *big.Int       `json:"expirationTime"` // 0 = never
	Currency       common.Address `json:"tokenAddress"`
	Price          *big.Int       `json:"tokenAmount"`
	Asset          common.Address `json:"nftAddress"`
	TokenID        *big.Int       `json:"nftTokenId"`
	Salt           *big.Int       `json:"salt"`
}

func (o Single) Kind() Kind                   { return KindSingle }
func (o Single) MakerAddress() common.Address { return o.Maker }

func (o Single) Hash() common.Hash {
	return crypto.NewStructEncoder(singleTypeHash).
		Bool(o.IsSeller).
		Address(o.Maker).
		Uint(o.ListingTime).
		Uint(o.ExpirationTime).
		Address(o.Currency).
		Uint(o.Price).
		Address(o.Asset).
		Uint(o.TokenID).
		Uint(o.Salt).
		Sum()
}

func (o Single) TypedData(domain crypto.Domain) apitypes.TypedData {
	isSeller := "0"
	if o.IsSeller {
		isSeller = "1"
	}
	return domain.TypedData(PrimaryType, SingleFields, apitypes.TypedDataMessage{
		"isSeller":       isSeller,
		"maker":          o.Maker.Hex(),
		"listingTime":    decimal(o.ListingTime),
		"expirationTime": decimal(o.ExpirationTime),
		"tokenAddress":   o.Currency.Hex(),
		"tokenAmount":    decimal(o.Price),
		"nftAddress":     o.Asset.Hex(),
		"nftTokenId":     decimal(o.TokenID),
		"salt":           decimal(o.Salt),
	})
}

func (o Single) Validate() error {
	return firstErr(
		checkAddress("maker", o.Maker),
		checkAddress("tokenAddress", o.Currency),
		checkAddress("nftAddress", o.Asset),
		checkUint("listingTime", o.ListingTime),
		checkUint("expirationTime", o.ExpirationTime),
		checkUint("tokenAmount", o.Price),
		checkUint("nftTokenId", o.TokenID),
		checkUint("salt", o.Salt),
	)
}
