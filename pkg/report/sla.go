package report

import (
	"fmt"
	"time"
)

// SLAPolicy maps escalation levels to the hours allowed at that level.
type SLAPolicy struct {
	LevelHours map[int]int
	MaxLevel   int
}

func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		LevelHours: map[int]int{1: 72, 2: 48, 3: 24},
		MaxLevel:   3,
	}
}

// Hours returns the allowance for level, falling back to the closest lower
// configured level.
func (p SLAPolicy) Hours(level int) int {
	for l := level; l >= 1; l-- {
		if h, ok := p.LevelHours[l]; ok {
			return h
		}
	}
	return 72
}

// Deadline is from + Hours(level).
func (p SLAPolicy) Deadline(level int, from time.Time) time.Time {
	return from.UTC().Add(time.Duration(p.Hours(level)) * time.Hour)
}

func (p SLAPolicy) Validate() error {
	if p.MaxLevel < 1 {
		return fmt.Errorf("max escalation level must be >= 1, got %d", p.MaxLevel)
	}
	for level, hours := range p.LevelHours {
		if level < 1 || hours <= 0 {
			return fmt.Errorf("invalid SLA entry level %d = %dh", level, hours)
		}
	}
	return nil
}
