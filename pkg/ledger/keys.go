package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema:
//   "fill:{fingerprint}" -> fillRecord (JSON)
//   "state:{key}"        -> raw record owned by the caller
const (
	prefixFill  = "fill:"
	prefixState = "state:"
)

// fillKey returns the key for a fingerprint's fill state
// Example: "fill:0x3f1c...9a"
func fillKey(fp common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixFill, fp.Hex()))
}

func stateKey(key string) []byte {
	return []byte(prefixState + key)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func fingerprintFromKey(key []byte) (common.Hash, error) {
	if len(key) != len(prefixFill)+66 { // "0x" + 64 hex chars
		return common.Hash{}, fmt.Errorf("invalid fill key length: %d", len(key))
	}
	return common.HexToHash(string(key[len(prefixFill):])), nil
}
