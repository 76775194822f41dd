package util

import "testing"

func TestSplitList(t *testing.T) {
	got := SplitList(" AAPL, msft ,,PETR4.SA ")
	if len(got) != 3 || got[0] != "AAPL" || got[1] != "msft" || got[2] != "PETR4.SA" {
		t.Fatalf("unexpected %v", got)
	}
	if SplitList("") != nil {
		t.Fatalf("expected nil")
	}
}
