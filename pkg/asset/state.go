package asset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// State record schema, relative to the store's state space:
//
//	"world/seeded"                               -> "1"
//	"world/deploy/{contract}"                    -> kind
//	"world/bal/{token}/{owner}"                  -> decimal amount
//	"world/alw/{token}/{owner}/{spender}"        -> decimal amount
//	"world/nft/{collection}/{tokenId}"           -> tokenRecord (JSON)
//	"world/opr/{contract}/{owner}/{operator}"    -> "true" | "false"
//	"world/mtb/{contract}/{tokenId}/{owner}"     -> decimal amount
const (
	prefixWorld  = "world/"
	prefixDeploy = prefixWorld + "deploy/"
	keySeeded    = prefixWorld + "seeded"

	kindFungible   = "fungible"
	kindCollection = "collection"
	kindMultiToken = "multitoken"
)

// StateReader scans persisted state records in key order.
type StateReader interface {
	ScanState(prefix string, fn func(key string, value []byte) error) error
}

type tokenRecord struct {
	Owner common.Address `json:"owner"`
	Item  uint64         `json:"item"`
}

func balanceKey(token, owner common.Address) string {
	return fmt.Sprintf("%sbal/%s/%s", prefixWorld, token.Hex(), owner.Hex())
}

func allowanceKey(token, owner, spender common.Address) string {
	return fmt.Sprintf("%salw/%s/%s/%s", prefixWorld, token.Hex(), owner.Hex(), spender.Hex())
}

func tokenKey(collection common.Address, tokenID string) string {
	return fmt.Sprintf("%snft/%s/%s", prefixWorld, collection.Hex(), tokenID)
}

func operatorKey(contract, owner, operator common.Address) string {
	return fmt.Sprintf("%sopr/%s/%s/%s", prefixWorld, contract.Hex(), owner.Hex(), operator.Hex())
}

func multiBalanceKey(contract common.Address, tokenID string, owner common.Address) string {
	return fmt.Sprintf("%smtb/%s/%s/%s", prefixWorld, contract.Hex(), tokenID, owner.Hex())
}

func amountValue(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return []byte(v.String())
}

func tokenValue(owner common.Address, item uint64) []byte {
	b, _ := json.Marshal(tokenRecord{Owner: owner, Item: item})
	return b
}

// touchDeploy marks a deployment record. Callers hold w.mu.
func (w *World) touchDeploy(addr common.Address, kind string) {
	w.touch(prefixDeploy+addr.Hex(), func() []byte { return []byte(kind) })
}

// LoadWorld rebuilds a World from records previously produced by Changes.
// ok is false when r holds no world at all.
func LoadWorld(r StateReader) (w *World, ok bool, err error) {
	seeded := false
	err = r.ScanState(keySeeded, func(key string, _ []byte) error {
		seeded = seeded || key == keySeeded
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("load world: %w", err)
	}

	w = NewWorld()
	deployed := 0
	err = r.ScanState(prefixDeploy, func(key string, value []byte) error {
		addr, err := parseAddress(strings.TrimPrefix(key, prefixDeploy))
		if err != nil {
			return err
		}
		switch string(value) {
		case kindFungible:
			w.DeployFungible(addr)
		case kindCollection:
			w.DeployCollection(addr)
		case kindMultiToken:
			w.DeployMultiToken(addr)
		default:
			return fmt.Errorf("contract %s: unknown kind %q", addr.Hex(), value)
		}
		deployed++
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("load deployments: %w", err)
	}
	if deployed == 0 && !seeded {
		return nil, false, nil
	}

	err = r.ScanState(prefixWorld, func(key string, value []byte) error {
		if key == keySeeded || strings.HasPrefix(key, prefixDeploy) {
			return nil
		}
		if err := w.restore(strings.Split(strings.TrimPrefix(key, prefixWorld), "/"), value); err != nil {
			return fmt.Errorf("record %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("load world: %w", err)
	}

	w.mu.Lock()
	w.journal = w.journal[:0]
	w.dirty = make(map[string]func() []byte)
	w.mu.Unlock()
	return w, true, nil
}

// restore applies one record without journaling it.
func (w *World) restore(parts []string, value []byte) error {
	addrs := func(n int) ([]common.Address, error) {
		out := make([]common.Address, 0, n)
		for _, p := range parts[1 : n+1] {
			a, err := parseAddress(p)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	}

	switch {
	case parts[0] == "bal" && len(parts) == 3:
		a, err := addrs(2)
		if err != nil {
			return err
		}
		t, ok := w.fungibles[a[0]]
		if !ok {
			return ErrUnknownAsset
		}
		v, err := parseAmount(value)
		if err != nil {
			return err
		}
		t.balances[a[1]] = v

	case parts[0] == "alw" && len(parts) == 4:
		a, err := addrs(3)
		if err != nil {
			return err
		}
		t, ok := w.fungibles[a[0]]
		if !ok {
			return ErrUnknownAsset
		}
		v, err := parseAmount(value)
		if err != nil {
			return err
		}
		if t.allowances[a[1]] == nil {
			t.allowances[a[1]] = make(map[common.Address]*big.Int)
		}
		t.allowances[a[1]][a[2]] = v

	case parts[0] == "nft" && len(parts) == 3:
		a, err := addrs(1)
		if err != nil {
			return err
		}
		c, ok := w.nfts[a[0]]
		if !ok {
			return ErrUnknownAsset
		}
		var rec tokenRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return err
		}
		c.owners[parts[2]] = rec.Owner
		c.items[parts[2]] = rec.Item

	case parts[0] == "opr" && len(parts) == 4:
		a, err := addrs(3)
		if err != nil {
			return err
		}
		approved, err := strconv.ParseBool(string(value))
		if err != nil {
			return err
		}
		var ops map[common.Address]map[common.Address]bool
		if c, ok := w.nfts[a[0]]; ok {
			ops = c.operators
		} else if m, ok := w.multis[a[0]]; ok {
			ops = m.operators
		} else {
			return ErrUnknownAsset
		}
		if ops[a[1]] == nil {
			ops[a[1]] = make(map[common.Address]bool)
		}
		ops[a[1]][a[2]] = approved

	case parts[0] == "mtb" && len(parts) == 4:
		m, ok := w.multis[common.HexToAddress(parts[1])]
		if !ok {
			return ErrUnknownAsset
		}
		owner, err := parseAddress(parts[3])
		if err != nil {
			return err
		}
		v, err := parseAmount(value)
		if err != nil {
			return err
		}
		if m.balances[parts[2]] == nil {
			m.balances[parts[2]] = make(map[common.Address]*big.Int)
		}
		m.balances[parts[2]][owner] = v

	default:
		return fmt.Errorf("unknown record type %q", parts[0])
	}
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(b []byte) (*big.Int, error) {
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", b)
	}
	return v, nil
}
