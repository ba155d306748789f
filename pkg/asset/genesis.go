package asset

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Genesis seeds a World with deployed assets, balances and approvals.
type Genesis struct {
	Fungibles   []FungibleGenesis   `json:"fungibles"`
	Collections []CollectionGenesis `json:"collections"`
	MultiTokens []MultiTokenGenesis `json:"multiTokens"`
}

type FungibleGenesis struct {
	Address    common.Address                           `json:"address"`
	Balances   map[common.Address]*math.HexOrDecimal256 `json:"balances"`
	Allowances []AllowanceGenesis                       `json:"allowances"`
}

// AllowanceGenesis grants spender an allowance over owner's balance. An
// omitted amount is unlimited.
type AllowanceGenesis struct {
	Owner   common.Address        `json:"owner"`
	Spender common.Address        `json:"spender"`
	Amount  *math.HexOrDecimal256 `json:"amount,omitempty"`
}

type CollectionGenesis struct {
	Address   common.Address    `json:"address"`
	Tokens    []TokenGenesis    `json:"tokens"`
	Operators []OperatorGenesis `json:"operators"`
}

type TokenGenesis struct {
	ID     *math.HexOrDecimal256 `json:"id"`
	Owner  common.Address        `json:"owner"`
	ItemID uint64                `json:"itemId"`
}

type OperatorGenesis struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
}

type MultiTokenGenesis struct {
	Address   common.Address        `json:"address"`
	Balances  []MultiBalanceGenesis `json:"balances"`
	Operators []OperatorGenesis     `json:"operators"`
}

type MultiBalanceGenesis struct {
	Owner  common.Address        `json:"owner"`
	ID     *math.HexOrDecimal256 `json:"id"`
	Amount *math.HexOrDecimal256 `json:"amount"`
}

// LoadGenesis reads a genesis document from path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return &g, nil
}

// Build deploys every asset in g into a fresh World. The returned world has
// an empty journal; every seeded record is still reported by Changes so it
// can be persisted before the first settlement.
func (g *Genesis) Build() (*World, error) {
	w := NewWorld()
	for _, f := range g.Fungibles {
		t := w.DeployFungible(f.Address)
		for owner, amount := range f.Balances {
			if amount == nil {
				continue
			}
			t.Mint(owner, (*big.Int)(amount))
		}
		for _, a := range f.Allowances {
			amount := math.MaxBig256
			if a.Amount != nil {
				amount = (*big.Int)(a.Amount)
			}
			t.Approve(a.Owner, a.Spender, amount)
		}
	}
	for _, c := range g.Collections {
		col := w.DeployCollection(c.Address)
		for _, tok := range c.Tokens {
			if tok.ID == nil {
				return nil, fmt.Errorf("collection %s: token without id", c.Address.Hex())
			}
			if err := col.Mint(tok.Owner, (*big.Int)(tok.ID), tok.ItemID); err != nil {
				return nil, fmt.Errorf("collection %s: %w", c.Address.Hex(), err)
			}
		}
		for _, op := range c.Operators {
			col.SetApprovalForAll(op.Owner, op.Operator, true)
		}
	}
	for _, m := range g.MultiTokens {
		led := w.DeployMultiToken(m.Address)
		for _, b := range m.Balances {
			if b.ID == nil || b.Amount == nil {
				return nil, fmt.Errorf("multi-token %s: balance without id or amount", m.Address.Hex())
			}
			led.Mint(b.Owner, (*big.Int)(b.ID), (*big.Int)(b.Amount))
		}
		for _, op := range m.Operators {
			led.SetApprovalForAll(op.Owner, op.Operator, true)
		}
	}
	w.mu.Lock()
	w.journal = w.journal[:0]
	w.mu.Unlock()
	return w, nil
}
