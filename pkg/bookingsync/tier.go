package bookingsync

import "strings"

// TierMapper maps provider price and plan identifiers to tiers.
// Unrecognized identifiers resolve to TierStandard; this is policy, not an error.
type TierMapper struct {
	mapping map[string]Tier
}

// NewTierMapper creates a mapper from a provider reference -> tier name table.
// Keys are matched case-insensitively. Entries naming an unknown tier are dropped.
func NewTierMapper(mapping map[string]string) *TierMapper {
	m := &TierMapper{mapping: make(map[string]Tier, len(mapping))}
	for ref, name := range mapping {
		tier, ok := ParseTier(name)
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(ref))
		if key == "" {
			continue
		}
		m.mapping[key] = tier
	}
	return m
}

// ParseTier parses an explicit tier name
func ParseTier(name string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(name))) {
	case TierStandard:
		return TierStandard, true
	case TierPremium:
		return TierPremium, true
	default:
		return "", false
	}
}

// Lookup returns the tier for a single reference and whether it was recognized
func (m *TierMapper) Lookup(ref string) (Tier, bool) {
	if tier, ok := ParseTier(ref); ok {
		return tier, true
	}
	if m == nil {
		return "", false
	}
	tier, ok := m.mapping[strings.ToLower(strings.TrimSpace(ref))]
	return tier, ok
}

// Resolve returns the tier of the first recognized reference, trying them in order.
// Explicit tier names are accepted as-is. Falls back to TierStandard.
func (m *TierMapper) Resolve(refs ...string) Tier {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if tier, ok := m.Lookup(ref); ok {
			return tier
		}
	}
	return TierStandard
}

func tierRank(t Tier) int {
	switch t {
	case TierPremium:
		return 2
	case TierStandard:
		return 1
	default:
		return 0
	}
}
