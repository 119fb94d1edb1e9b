package bps

import (
	"testing"

	"github.com/shopspring/decimal"
)

// di is a test helper for creating integer decimals.
func di(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

// --- Fee tests ---

func TestFee_OnePercent(t *testing.T) {
	fee, err := Fee(di(1000), DepositFeeBps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.Equal(di(10)) {
		t.Errorf("expected fee=10, got %s", fee)
	}
}

func TestNet_OnePercent(t *testing.T) {
	net, err := Net(di(1000), DepositFeeBps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !net.Equal(di(990)) {
		t.Errorf("expected net=990, got %s", net)
	}
}

func TestFee_FloorsTowardZero(t *testing.T) {
	// 1% of 99 is 0.99 → floors to 0.
	fee, err := Fee(di(99), DepositFeeBps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fee.IsZero() {
		t.Errorf("expected fee=0 for amount 99, got %s", fee)
	}
}

func TestFee_NegativeAmount(t *testing.T) {
	if _, err := Fee(di(-1), DepositFeeBps); err != ErrNegativeAmount {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestFee_InvalidRate(t *testing.T) {
	if _, err := Fee(di(100), -1); err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate for rate=-1, got %v", err)
	}
	if _, err := Fee(di(100), Scale+1); err != ErrInvalidRate {
		t.Errorf("expected ErrInvalidRate for rate=10001, got %v", err)
	}
}

func TestSplit_Conservation(t *testing.T) {
	// fee + net == amount for a spread of amounts, including ones where
	// the fee does not divide evenly.
	amounts := []int64{1, 7, 99, 100, 101, 1000, 12345, 999999999}
	for _, a := range amounts {
		fee, net, err := Split(di(a), DepositFeeBps)
		if err != nil {
			t.Fatalf("amount %d: unexpected error: %v", a, err)
		}
		if !fee.Add(net).Equal(di(a)) {
			t.Errorf("amount %d: fee %s + net %s != amount", a, fee, net)
		}
		if fee.IsNegative() || net.IsNegative() {
			t.Errorf("amount %d: negative split fee=%s net=%s", a, fee, net)
		}
	}
}

func TestFee_LargeAmountNoOverflow(t *testing.T) {
	// 2^200 token units; decimal arithmetic must stay exact.
	huge := decimal.NewFromInt(2).Pow(di(200))
	fee, err := Fee(huge, DepositFeeBps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := huge.Mul(di(DepositFeeBps)).QuoRem(di(Scale), 0)
	if !fee.Equal(want) {
		t.Errorf("expected fee=%s, got %s", want, fee)
	}
}

// --- Percentage tests ---

func TestPercentage_ZeroWhole(t *testing.T) {
	if pct := Percentage(di(0), di(0)); pct != 0 {
		t.Errorf("expected 0 bps for empty pool, got %d", pct)
	}
}

func TestPercentage_FullPool(t *testing.T) {
	if pct := Percentage(di(300), di(300)); pct != Scale {
		t.Errorf("expected 10000 bps, got %d", pct)
	}
}

func TestPercentage_Split(t *testing.T) {
	tests := []struct {
		part, whole int64
		want        int64
	}{
		{300, 1000, 3000},
		{700, 1000, 7000},
		{1, 3, 3333},
		{2, 3, 6666},
		{0, 500, 0},
	}
	for _, tt := range tests {
		if got := Percentage(di(tt.part), di(tt.whole)); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %d, want %d",
				tt.part, tt.whole, got, tt.want)
		}
	}
}

func TestComplement(t *testing.T) {
	if got := Complement(3000); got != 7000 {
		t.Errorf("Complement(3000) = %d, want 7000", got)
	}
	if got := Complement(0); got != Scale {
		t.Errorf("Complement(0) = %d, want %d", got, Scale)
	}
}
