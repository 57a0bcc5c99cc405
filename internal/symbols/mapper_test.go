package symbols

import "testing"

func TestMapperRoundTrip(t *testing.T) {
	m, err := NewMapper("paradex", map[string]string{
		"BTC-USD-PERP": "BTC-USD",
		"ETH-USD-PERP": "ETH-USD",
	})
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	cs, ok := m.Canonical("BTC-USD-PERP")
	if !ok || cs != "BTC-USD" {
		t.Errorf("Canonical: got %q ok=%v", cs, ok)
	}
	vs, ok := m.VenueSymbol("ETH-USD")
	if !ok || vs != "ETH-USD-PERP" {
		t.Errorf("VenueSymbol: got %q ok=%v", vs, ok)
	}
	if _, ok := m.Canonical("SOL-USD-PERP"); ok {
		t.Error("unmapped venue symbol resolved")
	}
	if len(m.Canonicals()) != 2 {
		t.Errorf("Canonicals: %v", m.Canonicals())
	}
}

func TestMapperRejectsNonBijective(t *testing.T) {
	_, err := NewMapper("extended", map[string]string{
		"BTC-USD":  "BTC-USD",
		"BTC-PERP": "BTC-USD",
	})
	if err == nil {
		t.Fatal("expected error for duplicate canonical symbol")
	}
}

func TestMapperRejectsEmptyEntries(t *testing.T) {
	if _, err := NewMapper("lighter", map[string]string{"": "BTC-USD"}); err == nil {
		t.Fatal("expected error for empty venue symbol")
	}
	if _, err := NewMapper("lighter", map[string]string{"0": ""}); err == nil {
		t.Fatal("expected error for empty canonical symbol")
	}
}

func TestMarketIndex(t *testing.T) {
	idx, err := MarketIndex("7")
	if err != nil || idx != 7 {
		t.Errorf("MarketIndex(7): %d %v", idx, err)
	}
	if _, err := MarketIndex("BTC-USD"); err == nil {
		t.Error("expected error for non-numeric venue symbol")
	}
}
