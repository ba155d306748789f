package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
	if len(signer.PublicKeyHex()) != 130 {
		t.Errorf("public key hex length = %d, want 130", len(signer.PublicKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("settle me")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != SignatureLength {
		t.Errorf("signature length = %d, want %d", len(signature), SignatureLength)
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestRecoverAddressAcceptsWalletV(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256Hash([]byte("wallet")).Bytes()

	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	walletSig := append([]byte(nil), signature...)
	walletSig[64] += 27

	recovered, err := RecoverAddress(hash, walletSig)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
	if walletSig[64] < 27 {
		t.Error("NormalizeSignature mutated its input")
	}
}

func TestRecoverAddressRejectsHighS(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256Hash([]byte("malleable")).Bytes()
	signature, _ := signer.Sign(hash)

	// (r, n-s, v^1) recovers the same key on raw ecrecover.
	s := new(big.Int).SetBytes(signature[32:64])
	highS := new(big.Int).Sub(eth_crypto.S256().Params().N, s)
	flipped := make([]byte, SignatureLength)
	copy(flipped[:32], signature[:32])
	copy(flipped[32:64], common.LeftPadBytes(highS.Bytes(), 32))
	flipped[64] = signature[64] ^ 1

	if _, err := RecoverAddress(hash, flipped); err == nil {
		t.Error("high-S signature should be rejected")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("invalid signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("invalid hash should not verify")
	}
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	b, _ := GenerateSalt()
	if a.Cmp(b) == 0 {
		t.Error("generated identical salts")
	}
}
