package types

import "fmt"

// Tier is the qualitative performance classification of a metric.
// Higher values are more severe.
type Tier int

const (
	TierExcellent Tier = iota
	TierGood
	TierFair
	TierPoor
	TierUnacceptable
)

var tierNames = [...]string{"EXCELLENT", "GOOD", "FAIR", "POOR", "UNACCEPTABLE"}

func (t Tier) String() string {
	if t < TierExcellent || t > TierUnacceptable {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name such as "GOOD".
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier resolves a tier name.
func ParseTier(name string) (Tier, error) {
	for i, n := range tierNames {
		if n == name {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", name)
}
