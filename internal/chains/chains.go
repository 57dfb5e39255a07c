// Package chains manages chain configurations: built-in presets plus
// user-saved custom chains persisted as JSON files.
package chains

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

var (
	// ErrNotFound is returned when no chain matches the requested ID.
	ErrNotFound = errors.New("chain not found")

	// ErrPreset is returned when a write operation targets a preset chain.
	ErrPreset = errors.New("preset chains cannot be modified")
)

// presets are the built-in chain configurations. They are written to the
// chains directory on first use so users can inspect them, but remain
// protected from modification and deletion.
var presets = []types.ChainConfig{
	{
		ChainID:  1,
		Name:     "Ethereum",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x00000000219ab540356cBB839Cbe05303d7705Fa",
			ArchivalBlock:          10_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 10_000_000,
		},
		PublicRPCs: []string{"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
	},
	{
		ChainID:  10,
		Name:     "Optimism",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x4200000000000000000000000000000000000016",
			ArchivalBlock:          50_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0x4200000000000000000000000000000000000006",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 50_000_000,
		},
		PublicRPCs: []string{"https://mainnet.optimism.io"},
	},
	{
		ChainID:  100,
		Name:     "Gnosis",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x9C58BAcC331c9aa871AFD802DB6379a98e80CEdb",
			ArchivalBlock:          20_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0xe91D153E0b41518A2Ce8Dd3D7944Fa863463a97d",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 20_000_000,
		},
		PublicRPCs: []string{"https://rpc.gnosischain.com"},
	},
	{
		ChainID:  137,
		Name:     "Polygon",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x0000000000000000000000000000000000001010",
			ArchivalBlock:          30_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 30_000_000,
		},
		PublicRPCs: []string{"https://polygon-rpc.com"},
	},
	{
		ChainID:  8453,
		Name:     "Base",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x4200000000000000000000000000000000000016",
			ArchivalBlock:          5_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0x4200000000000000000000000000000000000006",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 5_000_000,
		},
		PublicRPCs: []string{"https://mainnet.base.org"},
	},
	{
		ChainID:  42161,
		Name:     "Arbitrum One",
		IsPreset: true,
		DefaultParams: types.TestParams{
			KnownAddress:           "0x489ee077994B6658eAfA855C308275EAd8097C4A",
			ArchivalBlock:          100_000_000,
			RecentBlockOffset:      100,
			LogsTokenContract:      "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
			LogsRangeSmall:         1_000,
			LogsRangeLarge:         10_000,
			ArchivalLogsStartBlock: 100_000_000,
		},
		PublicRPCs: []string{"https://arb1.arbitrum.io/rpc"},
	},
}

// Registry stores chain configurations under a directory, one JSON file
// per chain. Presets are seeded on construction.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// NewRegistry creates the chains directory and seeds the presets that
// are not already on disk.
func NewRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chains directory: %w", err)
	}

	r := &Registry{dir: dir, logger: logger}
	for _, preset := range presets {
		path := filepath.Join(dir, presetFilename(preset.Name))
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := r.write(path, preset); err != nil {
			return nil, fmt.Errorf("seed preset %s: %w", preset.Name, err)
		}
	}
	return r, nil
}

func presetFilename(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_")) + ".json"
}

func customFilename(chainID uint64) string {
	return fmt.Sprintf("custom_%d.json", chainID)
}

func (r *Registry) write(path string, cfg types.ChainConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// List returns every chain configuration, sorted by chain ID. Files
// that fail to parse are skipped with a warning.
func (r *Registry) List() ([]types.ChainConfig, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read chains directory: %w", err)
	}

	var chains []types.ChainConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("failed to read chain file", "path", path, "error", err)
			continue
		}
		var cfg types.ChainConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			r.logger.Warn("skipping invalid chain file", "path", path, "error", err)
			continue
		}
		chains = append(chains, cfg)
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].ChainID < chains[j].ChainID })
	return chains, nil
}

// Get returns the chain configuration for the given ID.
func (r *Registry) Get(chainID uint64) (*types.ChainConfig, error) {
	chains, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range chains {
		if chains[i].ChainID == chainID {
			return &chains[i], nil
		}
	}
	return nil, ErrNotFound
}

// SaveCustom persists a user-defined chain. A custom chain may not
// shadow a preset's chain ID.
func (r *Registry) SaveCustom(cfg types.ChainConfig) error {
	existing, err := r.Get(cfg.ChainID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil && existing.IsPreset {
		return ErrPreset
	}

	cfg.IsPreset = false
	return r.write(filepath.Join(r.dir, customFilename(cfg.ChainID)), cfg)
}

// Update replaces a custom chain configuration in place. The chain ID
// in the body is ignored; the stored ID wins.
func (r *Registry) Update(chainID uint64, cfg types.ChainConfig) error {
	existing, err := r.Get(chainID)
	if err != nil {
		return err
	}
	if existing.IsPreset {
		return ErrPreset
	}
	cfg.ChainID = chainID
	return r.SaveCustom(cfg)
}

// Delete removes a custom chain. Presets are protected.
func (r *Registry) Delete(chainID uint64) error {
	cfg, err := r.Get(chainID)
	if err != nil {
		return err
	}
	if cfg.IsPreset {
		return ErrPreset
	}
	return os.Remove(filepath.Join(r.dir, customFilename(chainID)))
}

// RandomParams derives a randomized but valid parameter set from the
// chain's defaults. The archival block is jittered within the archive
// range so repeated runs do not always hit the same cached blocks.
func (r *Registry) RandomParams(chainID uint64) (*types.TestParams, error) {
	cfg, err := r.Get(chainID)
	if err != nil {
		return nil, err
	}

	params := cfg.DefaultParams
	if params.ArchivalBlock > 1 {
		lo := params.ArchivalBlock / 2
		params.ArchivalBlock = lo + rand.Uint64N(params.ArchivalBlock-lo)
		params.ArchivalLogsStartBlock = params.ArchivalBlock
	}
	return &params, nil
}
