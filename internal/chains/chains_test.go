package chains

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "chains"), slog.Default())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg
}

func customChain(chainID uint64, name string) types.ChainConfig {
	return types.ChainConfig{
		ChainID: chainID,
		Name:    name,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x1111111111111111111111111111111111111111",
			ArchivalBlock:          500_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0x2222222222222222222222222222222222222222",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 500_000,
		},
	}
}

func TestRegistry_SeedsPresets(t *testing.T) {
	reg := newTestRegistry(t)

	chains, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chains) != len(presets) {
		t.Fatalf("got %d chains, want %d presets", len(chains), len(presets))
	}
	for i := 1; i < len(chains); i++ {
		if chains[i-1].ChainID >= chains[i].ChainID {
			t.Fatalf("chains not sorted by id: %d before %d", chains[i-1].ChainID, chains[i].ChainID)
		}
	}

	eth, err := reg.Get(1)
	if err != nil {
		t.Fatalf("get ethereum: %v", err)
	}
	if !eth.IsPreset || eth.Name != "Ethereum" {
		t.Errorf("ethereum preset = %+v", eth)
	}
}

func TestRegistry_CustomChainLifecycle(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.SaveCustom(customChain(31337, "Anvil")); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := reg.Get(31337)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsPreset {
		t.Error("custom chain saved as preset")
	}
	if got.Name != "Anvil" {
		t.Errorf("name = %q, want Anvil", got.Name)
	}

	updated := customChain(99999, "Anvil Fork") // body chain id is ignored
	if err := reg.Update(31337, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = reg.Get(31337)
	if got.Name != "Anvil Fork" || got.ChainID != 31337 {
		t.Errorf("after update: %+v", got)
	}

	if err := reg.Delete(31337); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Get(31337); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestRegistry_PresetsAreProtected(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.Delete(1); !errors.Is(err, ErrPreset) {
		t.Errorf("delete preset = %v, want ErrPreset", err)
	}
	if err := reg.SaveCustom(customChain(1, "Fake Ethereum")); !errors.Is(err, ErrPreset) {
		t.Errorf("shadow preset = %v, want ErrPreset", err)
	}
	if err := reg.Update(137, customChain(137, "Fake Polygon")); !errors.Is(err, ErrPreset) {
		t.Errorf("update preset = %v, want ErrPreset", err)
	}
}

func TestRegistry_SkipsInvalidFiles(t *testing.T) {
	reg := newTestRegistry(t)

	bad := filepath.Join(reg.dir, "custom_666.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	chains, err := reg.List()
	if err != nil {
		t.Fatalf("list with bad file: %v", err)
	}
	if len(chains) != len(presets) {
		t.Errorf("got %d chains, want presets only", len(chains))
	}
}

func TestRegistry_RandomParams(t *testing.T) {
	reg := newTestRegistry(t)

	eth, _ := reg.Get(1)
	for i := 0; i < 20; i++ {
		params, err := reg.RandomParams(1)
		if err != nil {
			t.Fatalf("random params: %v", err)
		}
		if params.ArchivalBlock < eth.DefaultParams.ArchivalBlock/2 ||
			params.ArchivalBlock >= eth.DefaultParams.ArchivalBlock {
			t.Errorf("archival block %d outside [%d, %d)",
				params.ArchivalBlock, eth.DefaultParams.ArchivalBlock/2, eth.DefaultParams.ArchivalBlock)
		}
		if params.ArchivalLogsStartBlock != params.ArchivalBlock {
			t.Error("archival logs start should track the archival block")
		}
		if params.KnownAddress != eth.DefaultParams.KnownAddress {
			t.Error("known address should come from chain defaults")
		}
	}

	if _, err := reg.RandomParams(424242); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown chain = %v, want ErrNotFound", err)
	}
}
