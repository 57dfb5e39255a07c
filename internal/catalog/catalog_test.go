package catalog

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

func testParams() types.TestParams {
	return types.TestParams{
		KnownAddress:           "0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045",
		ArchivalBlock:          1000000,
		RecentBlockOffset:      100,
		LogsTokenContract:      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		LogsRangeSmall:         1000,
		LogsRangeLarge:         10000,
		ArchivalLogsStartBlock: 12000000,
	}
}

func TestBuild_AllTests(t *testing.T) {
	cases, err := Build(testParams(), 20000000, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cases) != 13 {
		t.Fatalf("got %d cases, want 13", len(cases))
	}

	// ids are unique and in catalog order
	seen := make(map[int]bool)
	for _, tc := range cases {
		if seen[tc.ID] {
			t.Errorf("duplicate test id %d", tc.ID)
		}
		seen[tc.ID] = true
	}

	// concurrency set only for load tests
	for _, tc := range cases {
		if tc.Category == types.CategoryLoad && tc.Concurrency <= 0 {
			t.Errorf("test %d: load test without concurrency", tc.ID)
		}
		if tc.Category != types.CategoryLoad && tc.Concurrency != 0 {
			t.Errorf("test %d: non-load test has concurrency %d", tc.ID, tc.Concurrency)
		}
	}
}

func TestBuild_HexEncoding(t *testing.T) {
	cases, err := Build(testParams(), 20000000, []int{5}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cases) != 1 {
		t.Fatalf("got %d cases, want 1", len(cases))
	}

	// archival balance query carries the hex-encoded archival block
	if got := cases[0].Params[1]; got != "0xf4240" {
		t.Errorf("archival block param = %v, want 0xf4240", got)
	}
}

func TestBuild_DerivedRanges(t *testing.T) {
	const head = 20000000
	cases, err := Build(testParams(), head, []int{8, 9}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	byID := make(map[int]types.TestCase)
	for _, tc := range cases {
		byID[tc.ID] = tc
	}

	// recent window ends 10 below head and spans the small range backward
	filter := byID[8].Params[0].(map[string]interface{})
	if filter["toBlock"] != "0x1312cf6" { // 19999990
		t.Errorf("recent toBlock = %v, want 0x1312cf6", filter["toBlock"])
	}
	if filter["fromBlock"] != "0x131290e" { // 19998990
		t.Errorf("recent fromBlock = %v, want 0x131290e", filter["fromBlock"])
	}
	if topics := filter["topics"].([]interface{}); topics[0] != TransferTopic {
		t.Errorf("topic = %v, want transfer topic", topics[0])
	}

	// archival window spans forward from the configured start
	filter = byID[9].Params[0].(map[string]interface{})
	if filter["fromBlock"] != "0xb71b00" { // 12000000
		t.Errorf("archival fromBlock = %v, want 0xb71b00", filter["fromBlock"])
	}
	if filter["toBlock"] != "0xb71ee8" { // 12001000
		t.Errorf("archival toBlock = %v, want 0xb71ee8", filter["toBlock"])
	}
}

func TestBuild_NameAnnotation(t *testing.T) {
	cases, err := Build(testParams(), 20000000, []int{10}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	name := cases[0].Name
	if strings.Contains(name, "large range") {
		t.Errorf("name %q still contains the placeholder range label", name)
	}
	if !strings.Contains(name, "[19,989,990→19,999,990]") {
		t.Errorf("name %q missing resolved block window", name)
	}
}

func TestBuild_EnabledFilter(t *testing.T) {
	cases, err := Build(testParams(), 20000000, []int{1, 3, 12}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cases) != 3 {
		t.Fatalf("got %d cases, want 3", len(cases))
	}
	for _, tc := range cases {
		if tc.ID != 1 && tc.ID != 3 && tc.ID != 12 {
			t.Errorf("unexpected test id %d", tc.ID)
		}
	}

	// empty but non-nil set drops everything
	cases, err = Build(testParams(), 20000000, []int{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cases) != 0 {
		t.Errorf("got %d cases with empty enabled set, want 0", len(cases))
	}
}

func TestBuild_LoadConcurrency(t *testing.T) {
	conc := map[types.TestCategory]int{
		types.CategorySimple:  80,
		types.CategoryComplex: 10,
	}
	cases, err := Build(testParams(), 20000000, []int{12, 13}, conc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cases[0].Concurrency != 80 {
		t.Errorf("simple tier concurrency = %d, want 80", cases[0].Concurrency)
	}
	if cases[1].Concurrency != 10 {
		t.Errorf("complex tier concurrency = %d, want 10", cases[1].Concurrency)
	}

	// defaults apply when the map leaves a tier unset
	cases, err = Build(testParams(), 20000000, []int{13}, map[types.TestCategory]int{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if cases[0].Concurrency != 25 {
		t.Errorf("default complex concurrency = %d, want 25", cases[0].Concurrency)
	}
}

func TestBuild_UnresolvedPlaceholder(t *testing.T) {
	defs := Definitions()
	// Sanity: the resolver rejects templates referencing unknown keys.
	_, err := substitute(defs[0].ID, "{no_such_key}", map[string]string{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if cfgErr.Placeholder != "{no_such_key}" {
		t.Errorf("placeholder = %q", cfgErr.Placeholder)
	}
}

func TestBuild_ParamsAreJSONSerializable(t *testing.T) {
	cases, err := Build(testParams(), 20000000, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, tc := range cases {
		if _, err := json.Marshal(tc.Params); err != nil {
			t.Errorf("test %d: params not serializable: %v", tc.ID, err)
		}
	}
}

func TestFilter(t *testing.T) {
	cases, err := Build(testParams(), 20000000, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	simple := Filter(cases, []types.TestCategory{types.CategorySimple}, nil)
	for _, tc := range simple {
		if tc.Category != types.CategorySimple {
			t.Errorf("test %d leaked category %s", tc.ID, tc.Category)
		}
	}
	if len(simple) != 5 {
		t.Errorf("got %d simple tests, want 5", len(simple))
	}

	archival := Filter(cases, nil, []types.TestLabel{types.LabelArchival})
	if len(archival) != 4 {
		t.Errorf("got %d archival tests, want 4", len(archival))
	}

	// nil selectors keep everything
	if got := Filter(cases, nil, nil); len(got) != len(cases) {
		t.Errorf("nil selectors dropped tests: %d != %d", len(got), len(cases))
	}
}

func TestGroupDigits(t *testing.T) {
	cases := map[uint64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		12000000: "12,000,000",
	}
	for n, want := range cases {
		if got := groupDigits(n); got != want {
			t.Errorf("groupDigits(%d) = %q, want %q", n, got, want)
		}
	}
}
