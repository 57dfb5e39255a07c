// Package classify maps raw RPC faults onto the closed error taxonomy.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// HTTPStatus classifies a non-2xx HTTP response.
func HTTPStatus(status int) types.ErrorCategory {
	if status == 429 {
		return types.ErrRateLimit
	}
	return types.ErrRPCError
}

// Transport classifies an error raised before any HTTP response arrived.
func Transport(err error) types.ErrorCategory {
	if err == nil {
		return types.ErrUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return types.ErrTimeout
	}
	if strings.Contains(msg, "connection") || strings.Contains(msg, "connect") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "refused") {
		return types.ErrConnection
	}
	return types.ErrUnknown
}

// RPC classifies a JSON-RPC error object by code and message.
//
// Ordering matters: revert and invalid-params checks run before the
// block-range checks because revert messages sometimes also contain
// the word "limit".
func RPC(code int, message string) types.ErrorCategory {
	msg := strings.ToLower(message)

	if strings.Contains(msg, "revert") {
		return types.ErrExecutionReverted
	}

	if code == -32602 ||
		strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "invalid param") {
		return types.ErrInvalidParams
	}

	if code == -32601 ||
		strings.Contains(msg, "not supported") ||
		strings.Contains(msg, "method not found") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "does not exist") {
		return types.ErrUnsupported
	}

	if strings.Contains(msg, "block range") ||
		strings.Contains(msg, "too many") ||
		strings.Contains(msg, "exceeds") ||
		(strings.Contains(msg, "limit") && strings.Contains(msg, "log")) {
		return types.ErrBlockRangeLimit
	}

	if strings.Contains(msg, "resource") || strings.Contains(msg, "memory") {
		return types.ErrRateLimit
	}

	return types.ErrRPCError
}

var providerFaults = map[types.ErrorCategory]bool{
	types.ErrTimeout:     true,
	types.ErrRateLimit:   true,
	types.ErrConnection:  true,
	types.ErrUnsupported: true,
	types.ErrRPCError:    true,
}

var paramFaults = map[types.ErrorCategory]bool{
	types.ErrInvalidParams:     true,
	types.ErrExecutionReverted: true,
	types.ErrBlockRangeLimit:   true,
}

// ProviderFault reports whether the category blames the provider's
// infrastructure or limits. ErrUnknown is attributed to neither side.
func ProviderFault(c types.ErrorCategory) bool {
	return providerFaults[c]
}

// ParamFault reports whether the category blames the caller's parameters.
func ParamFault(c types.ErrorCategory) bool {
	return paramFaults[c]
}
