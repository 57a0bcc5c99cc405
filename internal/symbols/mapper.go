package symbols

import (
	"fmt"
	"strconv"
)

// Mapper translates venue symbols ("BTC-USD-PERP", "BTC-USD", a Lighter
// market index rendered as its decimal string) to canonical symbols and back.
// The mapping must be a bijection per venue; readers drop unmapped symbols
// with a warning rather than forwarding them.
type Mapper struct {
	venue       string
	toCanonical map[string]string
	toVenue     map[string]string
}

// NewMapper validates that pairs is bijective and returns a Mapper. Keys are
// venue symbols, values canonical symbols.
func NewMapper(venue string, pairs map[string]string) (*Mapper, error) {
	m := &Mapper{
		venue:       venue,
		toCanonical: make(map[string]string, len(pairs)),
		toVenue:     make(map[string]string, len(pairs)),
	}
	for vs, cs := range pairs {
		if vs == "" || cs == "" {
			return nil, fmt.Errorf("symbols: empty mapping entry for venue %s", venue)
		}
		if prev, ok := m.toVenue[cs]; ok {
			return nil, fmt.Errorf("symbols: canonical %s mapped to both %s and %s on %s", cs, prev, vs, venue)
		}
		m.toCanonical[vs] = cs
		m.toVenue[cs] = vs
	}
	return m, nil
}

func (m *Mapper) Venue() string { return m.venue }

// Canonical resolves a venue symbol. ok is false for unmapped symbols.
func (m *Mapper) Canonical(venueSymbol string) (string, bool) {
	cs, ok := m.toCanonical[venueSymbol]
	return cs, ok
}

// VenueSymbol resolves a canonical symbol back to the venue form.
func (m *Mapper) VenueSymbol(canonical string) (string, bool) {
	vs, ok := m.toVenue[canonical]
	return vs, ok
}

// Canonicals returns every canonical symbol the mapper knows.
func (m *Mapper) Canonicals() []string {
	out := make([]string, 0, len(m.toVenue))
	for cs := range m.toVenue {
		out = append(out, cs)
	}
	return out
}

// MarketIndex parses a venue symbol that is an integer market index, as used
// by Lighter order book channels.
func MarketIndex(venueSymbol string) (int, error) {
	idx, err := strconv.Atoi(venueSymbol)
	if err != nil {
		return 0, fmt.Errorf("symbols: %q is not a market index: %w", venueSymbol, err)
	}
	return idx, nil
}
