package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvironmentTier identifies a rung on the promotion ladder. The order is
// fixed: development, test, pre-prod, production.
type EnvironmentTier int

const (
	TierDevelopment EnvironmentTier = iota
	TierTest
	TierPreProd
	TierProduction
)

var tierNames = map[EnvironmentTier]string{
	TierDevelopment: "development",
	TierTest:        "test",
	TierPreProd:     "pre_prod",
	TierProduction:  "production",
}

// String returns the canonical lowercase tier name.
func (t EnvironmentTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the four canonical tiers.
func (t EnvironmentTier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// Next returns the tier directly above t. The second return is false for
// production, which has no successor.
func (t EnvironmentTier) Next() (EnvironmentTier, bool) {
	if !t.Valid() || t == TierProduction {
		return t, false
	}
	return t + 1, true
}

// CanPromoteTo reports whether a version may be promoted from t to target.
// Promotion is legal only to the immediately next tier; same-tier and
// skip-tier promotions are illegal, and nothing promotes out of production.
func (t EnvironmentTier) CanPromoteTo(target EnvironmentTier) bool {
	next, ok := t.Next()
	return ok && target == next
}

// MarshalJSON renders the tier as its canonical name.
func (t EnvironmentTier) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON accepts any spelling ParseTier accepts.
func (t *EnvironmentTier) UnmarshalJSON(data []byte) error {
	name, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("environment tier must be a string: %w", err)
	}
	parsed, err := ParseTier(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier maps a tier name to its EnvironmentTier. Accepted spellings are
// case-insensitive and tolerate "pre-prod"/"preprod" for the pre-production
// tier.
func ParseTier(name string) (EnvironmentTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "development", "dev":
		return TierDevelopment, nil
	case "test":
		return TierTest, nil
	case "pre_prod", "pre-prod", "preprod":
		return TierPreProd, nil
	case "production", "prod":
		return TierProduction, nil
	default:
		return 0, fmt.Errorf("unknown environment tier %q", name)
	}
}
