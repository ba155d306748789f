package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var testFields = []apitypes.Type{
	{Name: "maker", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "itemId", Type: "uint64"},
	{Name: "ids", Type: "uint256[]"},
	{Name: "tickets", Type: "bytes32[]"},
}

func TestEncodeType(t *testing.T) {
	got := EncodeType("Order", testFields)
	want := "Order(address maker,uint256 amount,uint64 itemId,uint256[] ids,bytes32[] tickets)"
	if got != want {
		t.Errorf("EncodeType = %s, want %s", got, want)
	}
}

func TestStructEncoderMatchesApitypes(t *testing.T) {
	maker := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ticket := common.HexToHash("0x1234")

	domain := DefaultDomain()
	typedData := domain.TypedData("Order", testFields, apitypes.TypedDataMessage{
		"maker":   maker.Hex(),
		"amount":  "1000",
		"itemId":  "123",
		"ids":     []interface{}{"0", "1", "2"},
		"tickets": []interface{}{ticket.Hex()},
	})

	structHash, digest, err := HashTypedData(typedData)
	if err != nil {
		t.Fatalf("failed to hash typed data: %v", err)
	}

	fast := NewStructEncoder(TypeHash("Order", testFields)).
		Address(maker).
		Uint(big.NewInt(1000)).
		Uint64(123).
		UintArray([]*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(2)}).
		Bytes32Array([]common.Hash{ticket}).
		Sum()
	if fast != structHash {
		t.Errorf("struct hash = %s, want %s", fast.Hex(), structHash.Hex())
	}

	separator, err := domain.Separator()
	if err != nil {
		t.Fatalf("failed to hash domain: %v", err)
	}
	if got := Digest(separator, fast); got != digest {
		t.Errorf("digest = %s, want %s", got.Hex(), digest.Hex())
	}
}

func TestSeparatorBindsDomain(t *testing.T) {
	base := DefaultDomain()
	baseSep, err := base.Separator()
	if err != nil {
		t.Fatalf("failed to hash domain: %v", err)
	}

	variants := map[string]Domain{
		"name":     {Name: "OrderBook", Version: base.Version, ChainID: base.ChainID, VerifyingContract: base.VerifyingContract},
		"version":  {Name: base.Name, Version: "2.0", ChainID: base.ChainID, VerifyingContract: base.VerifyingContract},
		"chain":    {Name: base.Name, Version: base.Version, ChainID: big.NewInt(1), VerifyingContract: base.VerifyingContract},
		"contract": {Name: base.Name, Version: base.Version, ChainID: base.ChainID, VerifyingContract: common.HexToAddress("0x01")},
	}
	for name, d := range variants {
		t.Run(name, func(t *testing.T) {
			sep, err := d.Separator()
			if err != nil {
				t.Fatalf("failed to hash domain: %v", err)
			}
			if sep == baseSep {
				t.Errorf("separator unchanged after altering %s", name)
			}
		})
	}
}

func TestSignTypedRecovers(t *testing.T) {
	signer, _ := GenerateKey()
	domain := DefaultDomain()
	structHash := common.HexToHash("0xbeef")

	sig, err := signer.SignTyped(domain, structHash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	separator, _ := domain.Separator()
	recovered, err := RecoverAddress(Digest(separator, structHash).Bytes(), sig)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}
