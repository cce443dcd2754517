package classification

import (
	"time"

	"github.com/yeti47/clipintake/media"
)

// Tier is the size bucket of a video
type Tier int

const (
	Small Tier = iota
	Medium
	Large
	VeryLarge
)

func (t Tier) String() string {
	switch t {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	case VeryLarge:
		return "very_large"
	default:
		return "unknown"
	}
}

const mib = 1024 * 1024

const (
	smallMaxBytes  = 15 * mib
	mediumMaxBytes = 50 * mib
	largeMaxBytes  = 150 * mib
)

// Classification is the policy bundle derived from a video's size
type Classification struct {
	Tier                Tier
	RequiresCompression bool
	Timeout             time.Duration
	InitialDelay        time.Duration
	CompletionDelay     time.Duration
	MemorySafe          bool
}

// Classify maps a byte size onto its policy bundle. Origin does not change the tier;
// camera handling (hard cap, forced compression) is applied by the validator and the queue.
func Classify(size int64, _ media.Origin) Classification {
	switch {
	case size > largeMaxBytes:
		return Classification{
			Tier:                VeryLarge,
			RequiresCompression: true,
			Timeout:             180 * time.Second,
			InitialDelay:        10 * time.Second,
			CompletionDelay:     30 * time.Second,
			MemorySafe:          false,
		}
	case size > mediumMaxBytes:
		return Classification{
			Tier:                Large,
			RequiresCompression: true,
			Timeout:             180 * time.Second,
			InitialDelay:        5 * time.Second,
			CompletionDelay:     15 * time.Second,
			MemorySafe:          false,
		}
	case size > smallMaxBytes:
		return Classification{
			Tier:                Medium,
			RequiresCompression: true,
			Timeout:             60 * time.Second,
			InitialDelay:        3 * time.Second,
			CompletionDelay:     3 * time.Second,
			MemorySafe:          true,
		}
	default:
		return Classification{
			Tier:                Small,
			RequiresCompression: false,
			Timeout:             30 * time.Second,
			InitialDelay:        1 * time.Second,
			CompletionDelay:     1 * time.Second,
			MemorySafe:          true,
		}
	}
}
