package node

import (
	"fmt"
	"time"
)

// Params tunes the simulated mesh protocol.
type Params struct {
	// AttachDelay is the time from node start to its first attach attempt.
	AttachDelay time.Duration `yaml:"attach_delay"`
	// AttachJitter spreads first attach attempts uniformly over [0, AttachJitter).
	AttachJitter time.Duration `yaml:"attach_jitter"`
	// AttachRetry is the wait after a failed attach attempt.
	AttachRetry time.Duration `yaml:"attach_retry"`
	// AdvertiseInterval is the period of router advertisements and of
	// child supervision checks.
	AdvertiseInterval time.Duration `yaml:"advertise_interval"`
	// LeaderTimeout is how long a router tolerates not reaching its leader.
	LeaderTimeout time.Duration `yaml:"leader_timeout"`
	// PollPeriod is how often sleepy children poll their parent.
	PollPeriod time.Duration `yaml:"poll_period"`

	MaxRouters  int `yaml:"max_routers"`
	MaxChildren int `yaml:"max_children"`

	// RouterUpgradeThreshold is the router count below which
	// router-eligible nodes take a router id without being needed.
	RouterUpgradeThreshold int `yaml:"router_upgrade_threshold"`
	// RouterDowngradeThreshold is the router count above which childless
	// routers give their id back when another router can adopt them.
	RouterDowngradeThreshold int `yaml:"router_downgrade_threshold"`
}

// maxRouterID is the highest router id a partition may allocate.
const maxRouterID = 62

// maxChildID is the highest child id encodable in an RLOC16.
const maxChildID = 511

// DefaultParams returns the protocol defaults.
func DefaultParams() Params {
	return Params{
		AttachDelay:       2 * time.Second,
		AttachJitter:      time.Second,
		AttachRetry:       5 * time.Second,
		AdvertiseInterval: 5 * time.Second,
		LeaderTimeout:     120 * time.Second,
		PollPeriod:        time.Second,
		MaxRouters:        32,
		MaxChildren:       10,

		RouterUpgradeThreshold:   16,
		RouterDowngradeThreshold: 23,
	}
}

// Validate checks that every parameter is usable.
func (p Params) Validate() error {
	switch {
	case p.AttachDelay < 0 || p.AttachJitter < 0:
		return fmt.Errorf("attach delay and jitter must not be negative")
	case p.AttachRetry <= 0:
		return fmt.Errorf("attach_retry must be positive, got %s", p.AttachRetry)
	case p.AdvertiseInterval <= 0:
		return fmt.Errorf("advertise_interval must be positive, got %s", p.AdvertiseInterval)
	case p.LeaderTimeout <= 0:
		return fmt.Errorf("leader_timeout must be positive, got %s", p.LeaderTimeout)
	case p.PollPeriod <= 0:
		return fmt.Errorf("poll_period must be positive, got %s", p.PollPeriod)
	case p.MaxRouters < 1 || p.MaxRouters > maxRouterID+1:
		return fmt.Errorf("max_routers must be in [1,%d], got %d", maxRouterID+1, p.MaxRouters)
	case p.MaxChildren < 0 || p.MaxChildren > maxChildID:
		return fmt.Errorf("max_children must be in [0,%d], got %d", maxChildID, p.MaxChildren)
	case p.RouterUpgradeThreshold < 0 || p.RouterDowngradeThreshold < p.RouterUpgradeThreshold:
		return fmt.Errorf("router thresholds must satisfy 0 <= upgrade (%d) <= downgrade (%d)",
			p.RouterUpgradeThreshold, p.RouterDowngradeThreshold)
	}
	return nil
}
