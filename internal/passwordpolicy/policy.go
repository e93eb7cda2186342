// Package passwordpolicy enforces password reuse, minimum age and maximum age rules and owns
// password history pruning.
package passwordpolicy

import "time"

// Policy holds the tunable lifecycle values.
type Policy struct {
	// MinAge is how long after a change another change is refused. Zero disables the rule.
	MinAge time.Duration
	// MaxAgeMinutes, when > 0, takes precedence over MaxAgeDays.
	MaxAgeMinutes int
	MaxAgeDays    int
	// HistoryCount is how many recent hashes are kept and checked for reuse.
	HistoryCount int
}

// DefaultPolicy is one minute minimum age, 90 days maximum age, two remembered passwords.
func DefaultPolicy() Policy {
	return Policy{
		MinAge:       time.Minute,
		MaxAgeDays:   90,
		HistoryCount: 2,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MinAge < 0 {
		p.MinAge = 0
	}
	if p.MaxAgeMinutes < 0 {
		p.MaxAgeMinutes = 0
	}
	if p.MaxAgeDays <= 0 {
		p.MaxAgeDays = d.MaxAgeDays
	}
	if p.HistoryCount <= 0 {
		p.HistoryCount = d.HistoryCount
	}
	return p
}
