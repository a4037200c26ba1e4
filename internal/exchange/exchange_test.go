package exchange

import (
	"math/big"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestParseGasPrice(t *testing.T) {
	networkDefault := big.NewInt(5_000_000_000) // 5 gwei

	cases := []struct {
		name    string
		spec    *string
		want    *big.Int
		wantErr bool
	}{
		{"nil uses default", nil, networkDefault, false},
		{"empty uses default", strPtr(""), networkDefault, false},
		{"blank uses default", strPtr("  "), networkDefault, false},
		{"offset adds gwei", strPtr("+2"), big.NewInt(7_000_000_000), false},
		{"absolute wei", strPtr("12000000000"), big.NewInt(12_000_000_000), false},
		{"bad offset", strPtr("+abc"), nil, true},
		{"bad absolute", strPtr("fast"), nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseGasPrice(tc.spec, networkDefault)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseGasPriceOffsetNeedsDefault(t *testing.T) {
	if _, err := ParseGasPrice(strPtr("+3"), nil); err == nil {
		t.Fatal("offset without a network default must fail")
	}
}

func TestIsTxHash(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)
	if !IsTxHash(valid) {
		t.Fatalf("%s should be a tx hash", valid)
	}
	cases := []string{
		"",
		"0x1234",
		strings.Repeat("ab", 33),               // no prefix
		"0x" + strings.Repeat("zz", 32),        // bad hex
		"0x" + strings.Repeat("ab", 32) + "cd", // too long
		"insufficient output amount",           // revert reason
	}
	for _, s := range cases {
		if IsTxHash(s) {
			t.Fatalf("%q should not be a tx hash", s)
		}
	}
}

func TestSwapErrorText(t *testing.T) {
	revert := &SwapError{TxHash: "0x" + strings.Repeat("cd", 32)}
	if revert.FailureText() != revert.TxHash {
		t.Fatal("on-chain revert must surface the tx hash")
	}
	local := &SwapError{Reason: "rpc timeout"}
	if local.FailureText() != "rpc timeout" {
		t.Fatal("local failure must surface the reason")
	}
	if !strings.Contains(revert.Error(), revert.TxHash) {
		t.Fatal("Error() must include the tx hash")
	}
}
