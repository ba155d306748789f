package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Domain is the EIP-712 domain an engine instance signs under. It binds
// every signature to one deployment on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the devnet marketplace domain.
func DefaultDomain() Domain {
	return Domain{
		Name:              "Marketplace",
		Version:           "1.0",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// DomainTypes is the EIP712Domain type list used by every order family.
var DomainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TypedDataDomain converts d into the apitypes representation wallets expect.
func (d Domain) TypedDataDomain() apitypes.TypedDataDomain {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Separator computes hashStruct(EIP712Domain).
func (d Domain) Separator() (common.Hash, error) {
	typedData := apitypes.TypedData{
		Types:  apitypes.Types{"EIP712Domain": DomainTypes},
		Domain: d.TypedDataDomain(),
	}
	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(separator), nil
}

// Digest is keccak256("\x19\x01" || separator || structHash), the value
// makers actually sign.
func Digest(separator, structHash common.Hash) common.Hash {
	return keccak([]byte{0x19, 0x01}, separator.Bytes(), structHash.Bytes())
}

// TypedData assembles a complete eth_signTypedData_v4 payload for one message.
func (d Domain) TypedData(primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": DomainTypes,
			primaryType:    fields,
		},
		PrimaryType: primaryType,
		Domain:      d.TypedDataDomain(),
		Message:     message,
	}
}

// HashTypedData returns the struct hash and the signing digest of typedData.
func HashTypedData(typedData apitypes.TypedData) (structHash, digest common.Hash, err error) {
	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}

	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	structHash = common.BytesToHash(messageHash)
	return structHash, Digest(common.BytesToHash(separator), structHash), nil
}

// TypedDataJSON renders typedData for wallet signing (eth_signTypedData_v4).
func TypedDataJSON(typedData apitypes.TypedData) (string, error) {
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
