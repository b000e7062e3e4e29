package hugeint_test

import (
	"math/big"
	"testing"

	"TickVault/internal/hugeint"

	"github.com/holiman/uint256"
)

func u256(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMul256_MatchesBigInt(t *testing.T) {
	cases := []struct{ x, y string }{
		{"0", "12345"},
		{"1", "1"},
		{"18446744073709551615", "18446744073709551615"}, // max uint64
		{"340282366920938463463374607431768211455", "2"}, // max uint128
		{
			"115792089237316195423570985008687907853269984665640564039457584007913129639935", // max uint256
			"115792089237316195423570985008687907853269984665640564039457584007913129639935",
		},
		{"1000000000000000000000000", "987654321987654321"},
	}

	for _, tc := range cases {
		x, y := u256(tc.x), u256(tc.y)
		got := hugeint.Mul256(x, y).ToBig()
		want := new(big.Int).Mul(x.ToBig(), y.ToBig())
		if got.Cmp(want) != 0 {
			t.Errorf("Mul256(%s, %s) = %s, want %s", tc.x, tc.y, got, want)
		}
	}
}

func TestAddSub_CarryAcrossLimbs(t *testing.T) {
	// x * y has non-zero high limbs; adding and subtracting the same
	// product must round-trip exactly.
	max := u256("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	prod := hugeint.Mul256(max, max)

	acc := hugeint.Zero()
	acc = acc.Add(prod)
	acc = acc.Add(prod)

	want := new(big.Int).Mul(max.ToBig(), max.ToBig())
	want.Mul(want, big.NewInt(2))
	if acc.ToBig().Cmp(want) != 0 {
		t.Fatalf("double add: got %s, want %s", acc.ToBig(), want)
	}

	acc = acc.Sub(prod)
	if acc.Cmp(prod) != 0 {
		t.Fatalf("sub did not return to single product")
	}

	acc = acc.Sub(prod)
	if !acc.IsZero() {
		t.Fatalf("accumulator not zero after removing all products: %s", acc)
	}
}

func TestSub_UnderflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on underflow")
		}
	}()
	one := hugeint.Mul256(u256("1"), u256("1"))
	hugeint.Zero().Sub(one)
}

func TestDiv(t *testing.T) {
	x := u256("340282366920938463463374607431768211455")
	prod := hugeint.Mul256(x, x) // x^2, a true 512-bit value

	q, err := prod.Div(x)
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if q.Cmp(x) != 0 {
		t.Errorf("x^2 / x = %s, want %s", q, x)
	}

	if _, err := prod.Div(uint256.NewInt(0)); err == nil {
		t.Error("expected error for division by zero")
	}
}

func TestFromBig_RoundTrip(t *testing.T) {
	x := u256("98765432109876543210987654321098765432109876543210")
	prod := hugeint.Mul256(x, x)

	restored, err := hugeint.FromBig(prod.ToBig())
	if err != nil {
		t.Fatalf("FromBig: %v", err)
	}
	if restored.Cmp(prod) != 0 {
		t.Errorf("round trip mismatch: %s vs %s", restored, prod)
	}

	if _, err := hugeint.FromBig(big.NewInt(-1)); err == nil {
		t.Error("expected error for negative value")
	}
}
