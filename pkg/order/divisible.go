package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/hypersettle/pkg/crypto"
)

var DivisibleSellerFields = []apitypes.Type{
	{Name: "sellerAddress", Type: "address"},
	{Name: "listingTime", Type: "uint256"},
	{Name: "expirationTime", Type: "uint256"},
	{Name: "tokenAddress", Type: "address"},
	{Name: "tokenAmount", Type: "uint256"},
	{Name: "ftAddress", Type: "address"},
	{Name: "ftTokenId", Type: "uint256"},
	{Name: "ftAmounts", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
}

var DivisibleBuyerFields = []apitypes.Type{
	{Name: "buyerAddress", Type: "address"},
	{Name: "ftAddress", Type: "address"},
	{Name: "ftTokenId", Type: "uint256"},
	{Name: "ticketIds", Type: "bytes32[]"},
	{Name: "amounts", Type: "uint256[]"},
	{Name: "tokenAddress", Type: "address"},
	{Name: "totalPrice", Type: "uint256"},
	{Name: "salt", Type: "uint256"},
}

var (
	divisibleSellerTypeHash = crypto.TypeHash(PrimaryType, DivisibleSellerFields)
	divisibleBuyerTypeHash  = crypto.TypeHash(PrimaryType, DivisibleBuyerFields)
)

// DivisibleSeller offers Stock units of a semi-fungible token at
// PricePerUnit each. Its fill is a cumulative count up to Stock.
type DivisibleSeller struct {
	Seller         common.Address `json:"sellerAddress"`
	ListingTime    *big.Int       `json:"listingTime"`
	ExpirationTime *big.Int       `json:"expirationTime"`
	Currency       common.Address `json:"tokenAddress"`
	PricePerUnit   *big.Int       `json:"tokenAmount"`
	Asset          common.Address `json:"ftAddress"`
	TokenID        *big.Int       `json:"ftTokenId"`
	Stock          *big.Int       `json:"ftAmounts"`
	Salt           *big.Int       `json:"salt"`
}

func (o DivisibleSeller) Kind() Kind                   { return KindDivisibleSeller }
func (o DivisibleSeller) MakerAddress() common.Address { return o.Seller }

func (o DivisibleSeller) Hash() common.Hash {
	return crypto.NewStructEncoder(divisibleSellerTypeHash).
		Address(o.Seller).
		Uint(o.ListingTime).
		Uint(o.ExpirationTime).
		Address(o.Currency).
		Uint(o.PricePerUnit).
		Address(o.Asset).
		Uint(o.TokenID).
		Uint(o.Stock).
		Uint(o.Salt).
		Sum()
}

func (o DivisibleSeller) TypedData(domain crypto.Domain) apitypes.TypedData {
	return domain.TypedData(PrimaryType, DivisibleSellerFields, apitypes.TypedDataMessage{
		"sellerAddress":  o.Seller.Hex(),
		"listingTime":    decimal(o.ListingTime),
		"expirationTime": decimal(o.ExpirationTime),
		"tokenAddress":   o.Currency.Hex(),
		"tokenAmount":    decimal(o.PricePerUnit),
		"ftAddress":      o.Asset.Hex(),
		"ftTokenId":      decimal(o.TokenID),
		"ftAmounts":      decimal(o.Stock),
		"salt":           decimal(o.Salt),
	})
}

func (o DivisibleSeller) Validate() error {
	return firstErr(
		checkAddress("sellerAddress", o.Seller),
		checkAddress("tokenAddress", o.Currency),
		checkAddress("ftAddress", o.Asset),
		checkUint("listingTime", o.ListingTime),
		checkUint("expirationTime", o.ExpirationTime),
		checkUint("tokenAmount", o.PricePerUnit),
		checkUint("ftTokenId", o.TokenID),
		checkUint("ftAmounts", o.Stock),
		checkUint("salt", o.Salt),
	)
}

// DivisibleBuyer draws Amounts[i] units from the seller order whose
// fingerprint is Tickets[i]. It settles once, in a single call, and pays
// exactly TotalPrice across all legs.
type DivisibleBuyer struct {
	Buyer      common.Address `json:"buyerAddress"`
	Asset      common.Address `json:"ftAddress"`
	TokenID    *big.Int       `json:"ftTokenId"`
	Tickets    []common.Hash  `json:"ticketIds"`
	Amounts    []*big.Int     `json:"amounts"`
	Currency   common.Address `json:"tokenAddress"`
	TotalPrice *big.Int       `json:"totalPrice"`
	Salt       *big.Int       `json:"salt"`
}

func (o DivisibleBuyer) Kind() Kind                   { return KindDivisibleBuyer }
func (o DivisibleBuyer) MakerAddress() common.Address { return o.Buyer }

func (o DivisibleBuyer) Hash() common.Hash {
	return crypto.NewStructEncoder(divisibleBuyerTypeHash).
		Address(o.Buyer).
		Address(o.Asset).
		Uint(o.TokenID).
		Bytes32Array(o.Tickets).
		UintArray(o.Amounts).
		Address(o.Currency).
		Uint(o.TotalPrice).
		Uint(o.Salt).
		Sum()
}

func (o DivisibleBuyer) TypedData(domain crypto.Domain) apitypes.TypedData {
	return domain.TypedData(PrimaryType, DivisibleBuyerFields, apitypes.TypedDataMessage{
		"buyerAddress": o.Buyer.Hex(),
		"ftAddress":    o.Asset.Hex(),
		"ftTokenId":    decimal(o.TokenID),
		"ticketIds":    hexes(o.Tickets),
		"amounts":      decimals(o.Amounts),
		"tokenAddress": o.Currency.Hex(),
		"totalPrice":   decimal(o.TotalPrice),
		"salt":         decimal(o.Salt),
	})
}

func (o DivisibleBuyer) Validate() error {
	if err := firstErr(
		checkAddress("buyerAddress", o.Buyer),
		checkAddress("ftAddress", o.Asset),
		checkAddress("tokenAddress", o.Currency),
		checkUint("ftTokenId", o.TokenID),
		checkUint("totalPrice", o.TotalPrice),
		checkUint("salt", o.Salt),
	); err != nil {
		return err
	}
	for i, a := range o.Amounts {
		if err := checkUint(fmt.Sprintf("amounts[%d]", i), a); err != nil {
			return err
		}
	}
	return nil
}
