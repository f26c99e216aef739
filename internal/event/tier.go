package event

import (
	"fmt"
	"time"

	"github.com/devtrail/memindex/internal/errors"
)

// Tier represents a retention tier (memory class) governing purge eligibility
// and size/age limits for journal archives.
type Tier int

const (
	// TierHot holds the live journal and recent archives. Never purged.
	TierHot Tier = iota

	// TierWarm holds recent archives subject to size/age limits.
	TierWarm

	// TierCold holds older archives with tighter limits.
	TierCold

	// TierArchived holds read-only long-term copies (Parquet exports).
	TierArchived
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierArchived:
		return "archived"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ParseTier parses a string into a Tier.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "hot":
		return TierHot, nil
	case "warm":
		return TierWarm, nil
	case "cold":
		return TierCold, nil
	case "archived":
		return TierArchived, nil
	default:
		return TierHot, fmt.Errorf("%w: %q", errors.ErrUnknownTier, s)
	}
}

// AllTiers returns all tiers in order.
func AllTiers() []Tier {
	return []Tier{TierHot, TierWarm, TierCold, TierArchived}
}

// Purgeable reports whether data in this tier may ever be deleted by
// retention. Hot data is never purged.
func (t Tier) Purgeable() bool {
	return t != TierHot
}

// DefaultMaxAge returns the default age limit for this tier.
func (t Tier) DefaultMaxAge() time.Duration {
	switch t {
	case TierHot:
		return 0 // unlimited
	case TierWarm:
		return 30 * 24 * time.Hour
	case TierCold:
		return 90 * 24 * time.Hour
	case TierArchived:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// DefaultMaxSizeMB returns the default size limit for this tier in megabytes.
func (t Tier) DefaultMaxSizeMB() int64 {
	switch t {
	case TierHot:
		return 64 // rotation threshold for the live journal, not a purge limit
	case TierWarm:
		return 512
	case TierCold:
		return 1024
	case TierArchived:
		return 4096
	default:
		return 0
	}
}

// Next returns the tier data moves to on demotion. Archived is terminal.
func (t Tier) Next() Tier {
	switch t {
	case TierHot:
		return TierWarm
	case TierWarm:
		return TierCold
	case TierCold:
		return TierArchived
	default:
		return TierArchived
	}
}
