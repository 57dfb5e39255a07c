package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

func TestRPC_Precedence(t *testing.T) {
	cases := []struct {
		code int
		msg  string
		want types.ErrorCategory
	}{
		{3, "execution reverted", types.ErrExecutionReverted},
		// revert wins even when the message also mentions a limit
		{3, "execution reverted: gas limit for logs", types.ErrExecutionReverted},
		{-32602, "bad params", types.ErrInvalidParams},
		{0, "Invalid argument 0", types.ErrInvalidParams},
		{0, "invalid params: missing field", types.ErrInvalidParams},
		{-32601, "whatever", types.ErrUnsupported},
		{0, "the method eth_getLogs does not exist", types.ErrUnsupported},
		{0, "trace_block is not supported", types.ErrUnsupported},
		{0, "method not found", types.ErrUnsupported},
		{0, "block range is too wide", types.ErrBlockRangeLimit},
		{0, "query returned too many results", types.ErrBlockRangeLimit},
		{0, "range exceeds 10000 blocks", types.ErrBlockRangeLimit},
		{0, "log query limit reached", types.ErrBlockRangeLimit},
		{0, "out of memory", types.ErrRateLimit},
		{0, "insufficient resources", types.ErrRateLimit},
		{-32000, "something odd happened", types.ErrRPCError},
	}

	for _, tc := range cases {
		if got := RPC(tc.code, tc.msg); got != tc.want {
			t.Errorf("RPC(%d, %q) = %s, want %s", tc.code, tc.msg, got, tc.want)
		}
	}
}

func TestRPC_Pure(t *testing.T) {
	// Same (code, message) pair must always yield the same category.
	for i := 0; i < 10; i++ {
		if got := RPC(-32000, "query returned too many results"); got != types.ErrBlockRangeLimit {
			t.Fatalf("iteration %d: got %s, want %s", i, got, types.ErrBlockRangeLimit)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(429); got != types.ErrRateLimit {
		t.Errorf("HTTPStatus(429) = %s, want rate_limit", got)
	}
	if got := HTTPStatus(503); got != types.ErrRPCError {
		t.Errorf("HTTPStatus(503) = %s, want rpc_error", got)
	}
}

func TestTransport(t *testing.T) {
	if got := Transport(context.DeadlineExceeded); got != types.ErrTimeout {
		t.Errorf("deadline exceeded = %s, want timeout", got)
	}
	if got := Transport(fmt.Errorf("request failed: %w", context.DeadlineExceeded)); got != types.ErrTimeout {
		t.Errorf("wrapped deadline = %s, want timeout", got)
	}
	if got := Transport(errors.New("dial tcp 127.0.0.1:9: connection refused")); got != types.ErrConnection {
		t.Errorf("refused = %s, want connection", got)
	}
	if got := Transport(errors.New("lookup rpc.example: no such host")); got != types.ErrConnection {
		t.Errorf("no such host = %s, want connection", got)
	}
	if got := Transport(errors.New("tls handshake exploded")); got != types.ErrUnknown {
		t.Errorf("unclassifiable = %s, want unknown", got)
	}
}

func TestFaultAttribution_Disjoint(t *testing.T) {
	all := []types.ErrorCategory{
		types.ErrTimeout, types.ErrRateLimit, types.ErrConnection,
		types.ErrUnsupported, types.ErrInvalidParams, types.ErrExecutionReverted,
		types.ErrBlockRangeLimit, types.ErrRPCError, types.ErrUnknown,
	}
	for _, c := range all {
		if ProviderFault(c) && ParamFault(c) {
			t.Errorf("%s attributed to both provider and params", c)
		}
	}
	if !ProviderFault(types.ErrTimeout) || !ProviderFault(types.ErrRPCError) {
		t.Error("timeout and rpc_error should be provider faults")
	}
	if !ParamFault(types.ErrBlockRangeLimit) || !ParamFault(types.ErrExecutionReverted) {
		t.Error("block_range_limit and execution_reverted should be param faults")
	}
	if ProviderFault(types.ErrUnknown) || ParamFault(types.ErrUnknown) {
		t.Error("unknown should be attributed to neither side")
	}
}
