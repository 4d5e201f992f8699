package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "round half up", in: "1.005", want: "1.01"},
		{name: "round down", in: "1.004", want: "1.00"},
		{name: "negative half rounds away", in: "-1.005", want: "-1.01"},
		{name: "already two digits", in: "10.50", want: "10.50"},
		{name: "integer", in: "7", want: "7.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := String(d(tt.in))
			if got != tt.want {
				t.Fatalf("Round(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestStepwiseRoundingDiffersFromFullPrecision(t *testing.T) {
	// 1×0.125 + 1×0.125: каждое произведение округляется до 0.13,
	// сумма даёт 0.26; при полной точности получилось бы 0.25.
	a := Mul(d("1"), d("0.125"))
	b := Mul(d("1"), d("0.125"))
	got := Add(a, b)

	if got.String() != "0.26" {
		t.Fatalf("stepwise sum = %s, want 0.26", got.String())
	}

	full := Round(d("1").Mul(d("0.125")).Add(d("1").Mul(d("0.125"))))
	if full.String() != "0.25" {
		t.Fatalf("full precision sum = %s, want 0.25", full.String())
	}
}

func TestDivByZero(t *testing.T) {
	if got := Div(d("10"), decimal.Zero); !got.IsZero() {
		t.Fatalf("Div by zero = %s, want 0", got.String())
	}
}

func TestParse(t *testing.T) {
	v, err := Parse("1234.567")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if v.String() != "1234.57" {
		t.Fatalf("Parse = %s, want 1234.57", v.String())
	}

	if _, err := Parse("abc"); err == nil {
		t.Fatalf("expected error for malformed amount")
	}
}

func TestCentsRoundTrip(t *testing.T) {
	tests := []struct {
		in    string
		cents int64
	}{
		{in: "0.00", cents: 0},
		{in: "10.50", cents: 1050},
		{in: "-45.00", cents: -4500},
		{in: "1090.00", cents: 109000},
	}

	for _, tt := range tests {
		if got := ToCents(d(tt.in)); got != tt.cents {
			t.Fatalf("ToCents(%s) = %d, want %d", tt.in, got, tt.cents)
		}
		if got := String(FromCents(tt.cents)); got != d(tt.in).StringFixed(2) {
			t.Fatalf("FromCents(%d) = %s, want %s", tt.cents, got, tt.in)
		}
	}
}
