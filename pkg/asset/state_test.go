package asset

import (
	"math/big"
	"sort"
	"strings"
	"testing"
)

// memState is a StateReader that applies Changes the way a store would.
type memState map[string][]byte

func (m memState) apply(changes map[string][]byte) {
	for k, v := range changes {
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
}

func (m memState) ScanState(prefix string, fn func(key string, value []byte) error) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func TestLoadWorldEmpty(t *testing.T) {
	w, ok, err := LoadWorld(memState{})
	if err != nil || ok || w != nil {
		t.Fatalf("LoadWorld(empty) = %v, %v, %v; want nil, false, nil", w, ok, err)
	}
}

func TestWorldChangesRoundTrip(t *testing.T) {
	state := memState{}
	w := NewWorld()
	tok := w.DeployFungible(currency)
	col := w.DeployCollection(nftAddr)
	mt := w.DeployMultiToken(multi)
	tok.Mint(alice, big.NewInt(100))
	tok.Approve(alice, engine, big.NewInt(70))
	if err := col.Mint(alice, big.NewInt(1), 9); err != nil {
		t.Fatal(err)
	}
	col.SetApprovalForAll(alice, engine, true)
	mt.Mint(alice, big.NewInt(3), big.NewInt(10))
	mt.SetApprovalForAll(alice, engine, true)
	state.apply(w.Changes())
	w.Commit()

	if len(w.Changes()) != 0 {
		t.Fatalf("changes after commit = %d, want 0", len(w.Changes()))
	}

	if err := tok.TransferFrom(engine, alice, bob, big.NewInt(40)); err != nil {
		t.Fatal(err)
	}
	if err := col.TransferFrom(engine, alice, bob, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if err := mt.SafeTransferFrom(engine, alice, bob, big.NewInt(3), big.NewInt(4)); err != nil {
		t.Fatal(err)
	}

	// A reverted leg is persisted at its restored value.
	snap := w.Snapshot()
	if err := tok.TransferFrom(engine, alice, bob, big.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	w.RevertToSnapshot(snap)

	state.apply(w.Changes())
	w.Commit()

	got, ok, err := LoadWorld(state)
	if err != nil || !ok {
		t.Fatalf("LoadWorld = %v, %v", ok, err)
	}
	gtok, err := got.FungibleToken(currency)
	if err != nil {
		t.Fatal(err)
	}
	if b := gtok.BalanceOf(alice); b.Int64() != 60 {
		t.Errorf("alice = %s, want 60", b)
	}
	if b := gtok.BalanceOf(bob); b.Int64() != 40 {
		t.Errorf("bob = %s, want 40", b)
	}
	if a := gtok.Allowance(alice, engine); a.Int64() != 30 {
		t.Errorf("allowance = %s, want 30", a)
	}

	gcol, err := got.Collection(nftAddr)
	if err != nil {
		t.Fatal(err)
	}
	if owner, _ := gcol.OwnerOf(big.NewInt(1)); owner != bob {
		t.Errorf("nft owner = %s, want bob", owner.Hex())
	}
	if item, _ := gcol.ItemOf(big.NewInt(1)); item != 9 {
		t.Errorf("item = %d, want 9", item)
	}

	gmt, err := got.MultiTokenLedger(multi)
	if err != nil {
		t.Fatal(err)
	}
	if b := gmt.BalanceOf(alice, big.NewInt(3)); b.Int64() != 6 {
		t.Errorf("multi alice = %s, want 6", b)
	}
	if b := gmt.BalanceOf(bob, big.NewInt(3)); b.Int64() != 4 {
		t.Errorf("multi bob = %s, want 4", b)
	}

	// Operator approvals survive: the engine can still move alice's units.
	if err := gmt.SafeTransferFrom(engine, alice, bob, big.NewInt(3), big.NewInt(1)); err != nil {
		t.Errorf("operator approval lost: %v", err)
	}
	if n := len(got.Changes()); n != 2 {
		t.Errorf("loaded world reports %d changes, want the two balances just moved", n)
	}
}

func TestGenesisBuildReportsSeededRecords(t *testing.T) {
	g := &Genesis{Fungibles: []FungibleGenesis{{Address: currency}}}
	w, err := g.Build()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := w.Changes()[prefixDeploy+currency.Hex()]; !ok {
		t.Error("genesis deployment not reported by Changes")
	}
	if w.Snapshot() != 0 {
		t.Errorf("journal = %d, want empty", w.Snapshot())
	}
}

func TestLoadWorldWithoutContracts(t *testing.T) {
	state := memState{}
	state.apply(NewWorld().Changes())

	w, ok, err := LoadWorld(state)
	if err != nil || !ok {
		t.Fatalf("LoadWorld = %v, %v; want a restored empty world", ok, err)
	}
	if _, err := w.Fungible(currency); err == nil {
		t.Error("empty world resolved a contract")
	}
}
