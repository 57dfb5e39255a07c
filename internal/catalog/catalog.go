// Package catalog holds the benchmark test templates and resolves them
// into executable test cases.
//
// The battery sticks to methods that need no complex setup: no balanceOf
// (needs an ERC20 holder), no getTransaction* (needs a tx hash), no
// trace/debug (often unsupported).
package catalog

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// TransferTopic is the ERC20 Transfer event signature topic.
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// ConfigurationError reports a placeholder that survived resolution.
// A request containing literal placeholder syntax is never executed.
type ConfigurationError struct {
	TestID      int
	Placeholder string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("test %d: unresolved placeholder %q", e.TestID, e.Placeholder)
}

// Definition is one unresolved test template.
type Definition struct {
	ID        int
	Name      string
	Category  types.TestCategory
	Label     types.TestLabel
	Method    string
	Template  []interface{}
	RangeSize string             // "small" or "large" for range queries
	LoadTier  types.TestCategory // concurrency tier for load tests
}

// Definitions returns the built-in test battery in execution order.
func Definitions() []Definition {
	return []Definition{
		{ID: 1, Name: "eth_blockNumber", Category: types.CategorySimple, Label: types.LabelLatest,
			Method: "eth_blockNumber", Template: []interface{}{}},
		{ID: 2, Name: "eth_chainId", Category: types.CategorySimple, Label: types.LabelLatest,
			Method: "eth_chainId", Template: []interface{}{}},
		{ID: 3, Name: "eth_gasPrice", Category: types.CategorySimple, Label: types.LabelLatest,
			Method: "eth_gasPrice", Template: []interface{}{}},
		{ID: 4, Name: "eth_getBalance (latest)", Category: types.CategorySimple, Label: types.LabelLatest,
			Method: "eth_getBalance", Template: []interface{}{"{known_address}", "latest"}},
		{ID: 5, Name: "eth_getBalance (archival)", Category: types.CategorySimple, Label: types.LabelArchival,
			Method: "eth_getBalance", Template: []interface{}{"{known_address}", "{archival_block_hex}"}},
		{ID: 6, Name: "eth_getBlockByNumber (latest)", Category: types.CategoryMedium, Label: types.LabelLatest,
			Method: "eth_getBlockByNumber", Template: []interface{}{"{recent_block_hex}", true}},
		{ID: 7, Name: "eth_getBlockByNumber (archival)", Category: types.CategoryMedium, Label: types.LabelArchival,
			Method: "eth_getBlockByNumber", Template: []interface{}{"{archival_block_hex}", true}},
		{ID: 8, Name: "eth_getLogs small range (latest)", Category: types.CategoryComplex, Label: types.LabelLatest,
			Method: "eth_getLogs", RangeSize: "small",
			Template: []interface{}{map[string]interface{}{
				"address":   "{logs_token_contract}",
				"fromBlock": "{logs_recent_start_hex}",
				"toBlock":   "{logs_recent_end_hex}",
				"topics":    []interface{}{"{transfer_topic}"},
			}}},
		{ID: 9, Name: "eth_getLogs small range (archival)", Category: types.CategoryComplex, Label: types.LabelArchival,
			Method: "eth_getLogs", RangeSize: "small",
			Template: []interface{}{map[string]interface{}{
				"address":   "{logs_token_contract}",
				"fromBlock": "{logs_archival_start_hex}",
				"toBlock":   "{logs_archival_end_small_hex}",
				"topics":    []interface{}{"{transfer_topic}"},
			}}},
		{ID: 10, Name: "eth_getLogs large range (latest)", Category: types.CategoryComplex, Label: types.LabelLatest,
			Method: "eth_getLogs", RangeSize: "large",
			Template: []interface{}{map[string]interface{}{
				"address":   "{logs_token_contract}",
				"fromBlock": "{logs_recent_start_large_hex}",
				"toBlock":   "{logs_recent_end_hex}",
				"topics":    []interface{}{"{transfer_topic}"},
			}}},
		{ID: 11, Name: "eth_getLogs large range (archival)", Category: types.CategoryComplex, Label: types.LabelArchival,
			Method: "eth_getLogs", RangeSize: "large",
			Template: []interface{}{map[string]interface{}{
				"address":   "{logs_token_contract}",
				"fromBlock": "{logs_archival_start_hex}",
				"toBlock":   "{logs_archival_end_large_hex}",
				"topics":    []interface{}{"{transfer_topic}"},
			}}},
		{ID: 12, Name: "eth_blockNumber burst", Category: types.CategoryLoad, Label: types.LabelLatest,
			Method: "eth_blockNumber", Template: []interface{}{}, LoadTier: types.CategorySimple},
		{ID: 13, Name: "eth_getLogs burst", Category: types.CategoryLoad, Label: types.LabelLatest,
			Method: "eth_getLogs", LoadTier: types.CategoryComplex,
			Template: []interface{}{map[string]interface{}{
				"address":   "{logs_token_contract}",
				"fromBlock": "{logs_recent_start_hex}",
				"toBlock":   "{logs_recent_end_hex}",
				"topics":    []interface{}{"{transfer_topic}"},
			}}},
	}
}

// DefaultLoadConcurrency is used when the job config leaves a tier unset.
var DefaultLoadConcurrency = map[types.TestCategory]int{
	types.CategorySimple:  50,
	types.CategoryMedium:  50,
	types.CategoryComplex: 25,
}

// Build resolves the test battery against concrete parameters and the
// live chain head. A nil enabledIDs set keeps every test; a non-nil set
// drops ids absent from it.
func Build(params types.TestParams, currentBlock uint64, enabledIDs []int, loadConcurrency map[types.TestCategory]int) ([]types.TestCase, error) {
	recentBlock := saturatingSub(currentBlock, params.RecentBlockOffset)

	// Range queries end 10 blocks below head to dodge reorg churn.
	logsRecentEnd := saturatingSub(currentBlock, 10)
	logsRecentStartSmall := saturatingSub(logsRecentEnd, params.LogsRangeSmall)
	logsRecentStartLarge := saturatingSub(logsRecentEnd, params.LogsRangeLarge)

	logsArchivalStart := params.ArchivalLogsStartBlock
	logsArchivalEndSmall := logsArchivalStart + params.LogsRangeSmall
	logsArchivalEndLarge := logsArchivalStart + params.LogsRangeLarge

	subs := map[string]string{
		"known_address":               params.KnownAddress,
		"archival_block_hex":          hexutil.EncodeUint64(params.ArchivalBlock),
		"recent_block_hex":            hexutil.EncodeUint64(recentBlock),
		"logs_token_contract":         params.LogsTokenContract,
		"transfer_topic":              TransferTopic,
		"logs_recent_start_hex":       hexutil.EncodeUint64(logsRecentStartSmall),
		"logs_recent_start_large_hex": hexutil.EncodeUint64(logsRecentStartLarge),
		"logs_recent_end_hex":         hexutil.EncodeUint64(logsRecentEnd),
		"logs_archival_start_hex":     hexutil.EncodeUint64(logsArchivalStart),
		"logs_archival_end_small_hex": hexutil.EncodeUint64(logsArchivalEndSmall),
		"logs_archival_end_large_hex": hexutil.EncodeUint64(logsArchivalEndLarge),
	}

	// Resolved windows per test id, used to annotate test names.
	blockRanges := map[int][2]uint64{
		8:  {logsRecentStartSmall, logsRecentEnd},
		9:  {logsArchivalStart, logsArchivalEndSmall},
		10: {logsRecentStartLarge, logsRecentEnd},
		11: {logsArchivalStart, logsArchivalEndLarge},
	}

	var enabled map[int]bool
	if enabledIDs != nil {
		enabled = make(map[int]bool, len(enabledIDs))
		for _, id := range enabledIDs {
			enabled[id] = true
		}
	}

	var cases []types.TestCase
	for _, defn := range Definitions() {
		if enabled != nil && !enabled[defn.ID] {
			continue
		}

		resolved, err := substitute(defn.ID, defn.Template, subs)
		if err != nil {
			return nil, err
		}
		rpcParams, ok := resolved.([]interface{})
		if !ok {
			return nil, fmt.Errorf("test %d: template is not a parameter list", defn.ID)
		}

		name := defn.Name
		if window, ok := blockRanges[defn.ID]; ok {
			annotation := fmt.Sprintf("[%s→%s]", groupDigits(window[0]), groupDigits(window[1]))
			name = strings.Replace(name, defn.RangeSize+" range", annotation, 1)
		}

		tc := types.TestCase{
			ID:       defn.ID,
			Name:     name,
			Category: defn.Category,
			Label:    defn.Label,
			Method:   defn.Method,
			Params:   rpcParams,
		}

		if defn.Category == types.CategoryLoad {
			tc.Tier = defn.LoadTier
			conc, ok := loadConcurrency[defn.LoadTier]
			if !ok || conc <= 0 {
				conc = DefaultLoadConcurrency[defn.LoadTier]
			}
			tc.Concurrency = conc
		}

		cases = append(cases, tc)
	}

	return cases, nil
}

// Filter keeps only cases matching the requested categories and labels.
// Nil or empty selectors match everything.
func Filter(cases []types.TestCase, categories []types.TestCategory, labels []types.TestLabel) []types.TestCase {
	catSet := make(map[types.TestCategory]bool, len(categories))
	for _, c := range categories {
		catSet[c] = true
	}
	labelSet := make(map[types.TestLabel]bool, len(labels))
	for _, l := range labels {
		labelSet[l] = true
	}

	var out []types.TestCase
	for _, tc := range cases {
		if len(catSet) > 0 && !catSet[tc.Category] {
			continue
		}
		if len(labelSet) > 0 && !labelSet[tc.Label] {
			continue
		}
		out = append(out, tc)
	}
	return out
}

// substitute walks the template and replaces "{placeholder}" strings.
// An unmapped placeholder is a configuration fault, not a literal value.
func substitute(testID int, template interface{}, subs map[string]string) (interface{}, error) {
	switch v := template.(type) {
	case string:
		if strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}") {
			key := v[1 : len(v)-1]
			val, ok := subs[key]
			if !ok {
				return nil, &ConfigurationError{TestID: testID, Placeholder: v}
			}
			return val, nil
		}
		return v, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			resolved, err := substitute(testID, item, subs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := substitute(testID, item, subs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// groupDigits formats n with thousands separators for test names.
func groupDigits(n uint64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
