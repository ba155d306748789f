package crypto

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/sha3"
)

// StructEncoder computes hashStruct for flat EIP-712 structs without going
// through the reflective apitypes encoder. Fields must be appended in the
// declared order.
type StructEncoder struct {
	buf []byte
}

// EncodeType renders "Name(type1 name1,type2 name2,...)".
func EncodeType(primaryType string, fields []apitypes.Type) string {
	var b strings.Builder
	b.WriteString(primaryType)
	b.WriteByte('(')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Type)
		b.WriteByte(' ')
		b.WriteString(f.Name)
	}
	b.WriteByte(')')
	return b.String()
}

// TypeHash is keccak256(EncodeType(primaryType, fields)).
func TypeHash(primaryType string, fields []apitypes.Type) common.Hash {
	return keccak([]byte(EncodeType(primaryType, fields)))
}

func NewStructEncoder(typeHash common.Hash) *StructEncoder {
	e := &StructEncoder{buf: make([]byte, 0, 32*10)}
	e.buf = append(e.buf, typeHash.Bytes()...)
	return e
}

// Uint appends a uint256 word. nil encodes as zero.
func (e *StructEncoder) Uint(v *big.Int) *StructEncoder {
	e.buf = append(e.buf, uintWord(v)...)
	return e
}

func (e *StructEncoder) Uint64(v uint64) *StructEncoder {
	return e.Uint(new(big.Int).SetUint64(v))
}

func (e *StructEncoder) Bool(v bool) *StructEncoder {
	if v {
		return e.Uint64(1)
	}
	return e.Uint64(0)
}

func (e *StructEncoder) Address(a common.Address) *StructEncoder {
	e.buf = append(e.buf, common.LeftPadBytes(a.Bytes(), 32)...)
	return e
}

func (e *StructEncoder) Bytes32(h common.Hash) *StructEncoder {
	e.buf = append(e.buf, h.Bytes()...)
	return e
}

// UintArray appends keccak256 of the concatenated element words.
func (e *StructEncoder) UintArray(vs []*big.Int) *StructEncoder {
	parts := make([][]byte, len(vs))
	for i, v := range vs {
		parts[i] = uintWord(v)
	}
	return e.Bytes32(keccak(parts...))
}

func (e *StructEncoder) Bytes32Array(hs []common.Hash) *StructEncoder {
	parts := make([][]byte, len(hs))
	for i, h := range hs {
		parts[i] = h.Bytes()
	}
	return e.Bytes32(keccak(parts...))
}

func (e *StructEncoder) Sum() common.Hash {
	return keccak(e.buf)
}

func uintWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(v))
}

func keccak(parts ...[]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
