package ids

import "testing"

func TestPositionOrderingAndEquality(t *testing.T) {
	a := PositionFromUint64(10)
	b := PositionFromUint64(20)

	if !a.Less(b) {
		t.Error("expected 10 < 20")
	}
	if a.Cmp(b) != -1 {
		t.Errorf("expected Cmp -1, got %d", a.Cmp(b))
	}
	if a.Equal(b) {
		t.Error("10 should not equal 20")
	}
	if !a.Equal(PositionFromUint64(10)) {
		t.Error("10 should equal 10")
	}
}

func TestPositionAddAndSub(t *testing.T) {
	a := PositionFromUint64(100)
	b := a.Add(50)
	if b.String() != "150" {
		t.Errorf("expected 150, got %s", b.String())
	}
	if got := b.Sub(a); got != 50 {
		t.Errorf("expected distance 50, got %d", got)
	}
}

func TestPositionSubPanicsWhenOtherGreater(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when subtracting a later position from an earlier one")
		}
	}()
	PositionFromUint64(10).Sub(PositionFromUint64(20))
}

func TestPositionWithin(t *testing.T) {
	lo := PositionFromUint64(10)
	hi := PositionFromUint64(20)
	if !PositionFromUint64(15).Within(lo, hi) {
		t.Error("15 should be within [10,20]")
	}
	if PositionFromUint64(25).Within(lo, hi) {
		t.Error("25 should not be within [10,20]")
	}
	if !lo.Within(lo, hi) || !hi.Within(lo, hi) {
		t.Error("bounds should be inclusive")
	}
}

func TestPositionRoundTripsThroughDecimalString(t *testing.T) {
	original := PositionFromUint64(123456789012345)
	parsed, err := ParsePosition(original.String())
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("round trip mismatch: %s != %s", parsed, original)
	}
}

func TestPositionBeyondUint64RoundTrips(t *testing.T) {
	huge := "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	p, err := ParsePosition(huge)
	if err != nil {
		t.Fatalf("ParsePosition: %v", err)
	}
	if p.String() != huge {
		t.Errorf("expected %s, got %s", huge, p.String())
	}
}

func TestTurnIDNext(t *testing.T) {
	start := TurnIDFromUint64(0)
	next := start.Next()
	if next.String() != "1" {
		t.Errorf("expected 1, got %s", next.String())
	}
}

func TestTurnIDPrevReversesNext(t *testing.T) {
	start := TurnIDFromUint64(5)
	if got := start.Next().Prev(); !got.Equal(start) {
		t.Errorf("expected Next().Prev() to round-trip to %s, got %s", start, got)
	}
}

func TestTurnIDPrevPanicsAtZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic subtracting Prev from zero turn id")
		}
	}()
	ZeroTurnID().Prev()
}

func TestPositionScanFromStringAndBytes(t *testing.T) {
	var p Position
	if err := p.Scan("42"); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if p.String() != "42" {
		t.Errorf("expected 42, got %s", p.String())
	}

	var p2 Position
	if err := p2.Scan([]byte("42")); err != nil {
		t.Fatalf("Scan []byte: %v", err)
	}
	if !p2.Equal(p) {
		t.Error("scanning bytes and string should produce equal positions")
	}
}

func TestSortKeyOrdersLexicographicallyLikeNumerically(t *testing.T) {
	small := PositionFromUint64(9)
	big := PositionFromUint64(10)
	if !(small.SortKey() < big.SortKey()) {
		t.Errorf("expected SortKey(9) < SortKey(10) lexicographically, got %q >= %q", small.SortKey(), big.SortKey())
	}
}

func TestPositionValue(t *testing.T) {
	p := PositionFromUint64(7)
	v, err := p.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "7" {
		t.Errorf("expected \"7\", got %v", v)
	}
}
