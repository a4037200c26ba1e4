package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceSource answers "what is one token worth right now", in BNB per token
// unit. A zero price means the pool is unavailable or empty; callers treat it
// as a skipped tick, not an error.
type PriceSource interface {
	TokenPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error)
	NativePriceUSD(ctx context.Context) (decimal.Decimal, error)
}

// Executor submits swaps and answers wallet/allowance queries. Balances are
// returned in human units (token units, BNB) unless noted otherwise.
type Executor interface {
	TokenBalance(ctx context.Context, tokenAddress string) (decimal.Decimal, error)
	TokenBalanceRaw(ctx context.Context, tokenAddress string) (decimal.Decimal, error)
	NativeBalance(ctx context.Context) (decimal.Decimal, error)
	IsApproved(ctx context.Context, tokenAddress string) (bool, error)
	Approve(ctx context.Context, tokenAddress string) error
	Swap(ctx context.Context, params SwapParams) (SwapResult, error)
}

// TokenInfo is what the chain knows about a token contract; read once when a
// token is registered.
type TokenInfo struct {
	Symbol   string
	Decimals int
}

type SwapParams struct {
	TokenAddress string
	// "buy" spends BNB for tokens, "sell" spends tokens for BNB.
	Direction string
	// Amount in the smallest unit of the currency being spent.
	Amount          decimal.Decimal
	SlippagePercent decimal.Decimal
	// See ParseGasPrice for the accepted formats.
	GasPrice *string
}

type SwapResult struct {
	// AmountOut is in human units of the received currency: tokens for a
	// buy, BNB for a sell.
	AmountOut decimal.Decimal
	TxHash    string
}

// SwapError carries the revert transaction hash when the swap made it
// on-chain, or a plain reason when it never did.
type SwapError struct {
	TxHash string
	Reason string
}

func (e *SwapError) Error() string {
	if e.TxHash != "" {
		return "swap reverted: " + e.TxHash
	}
	return e.Reason
}

// FailureText returns the string the notifier shows the user: the tx hash for
// on-chain reverts, the human-readable reason otherwise.
func (e *SwapError) FailureText() string {
	if e.TxHash != "" {
		return e.TxHash
	}
	return e.Reason
}

// IsTxHash reports whether s looks like a 0x-prefixed 32-byte hash, the shape
// the chain returns for transaction identifiers.
func IsTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

var gwei = big.NewInt(1_000_000_000)

// ParseGasPrice resolves a stored gas price spec against the network default:
// nil or empty uses the default, "+N" adds N gwei to the default, anything
// else is an absolute price in wei.
func ParseGasPrice(spec *string, networkDefault *big.Int) (*big.Int, error) {
	if spec == nil || strings.TrimSpace(*spec) == "" {
		return networkDefault, nil
	}
	raw := strings.TrimSpace(*spec)
	if strings.HasPrefix(raw, "+") {
		offset, ok := new(big.Int).SetString(raw[1:], 10)
		if !ok {
			return nil, fmt.Errorf("invalid gas price offset %q", raw)
		}
		if networkDefault == nil {
			return nil, fmt.Errorf("gas price offset %q requires a network default", raw)
		}
		return new(big.Int).Add(networkDefault, new(big.Int).Mul(offset, gwei)), nil
	}
	absolute, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid gas price %q", raw)
	}
	return absolute, nil
}
