package model

import (
	"fmt"
	"sort"
)

// StageEventType says how a velocity stage is detected.
type StageEventType string

const (
	// StageEventStatus attributes time from status-history intervals whose
	// status matches the stage's values.
	StageEventStatus StageEventType = "status_match"
	// StageEventRelease marks the synthetic RELEASE stage computed from
	// version release timestamps. It carries no status values.
	StageEventRelease StageEventType = "release_match"
)

// StageEvent describes what a stage matches on.
type StageEvent struct {
	Type   StageEventType `json:"type"`
	Values []string       `json:"values,omitempty"`
}

// Stage is one named phase of a velocity configuration.
type Stage struct {
	Name  string     `json:"name"`
	Order int        `json:"order"`
	Event StageEvent `json:"event"`
}

// VelocityConfig is an ordered list of stages to which elapsed time is
// attributed. At most one stage may be the synthetic release stage.
type VelocityConfig struct {
	Stages []Stage `json:"stages"`
}

// Validate checks stage shape and ordering constraints.
func (c VelocityConfig) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("velocity config: at least one stage is required")
	}
	releases := 0
	for _, s := range c.Stages {
		switch s.Event.Type {
		case StageEventStatus:
			if len(s.Event.Values) == 0 {
				return fmt.Errorf("velocity config: stage %q has no status values", s.Name)
			}
		case StageEventRelease:
			releases++
			if len(s.Event.Values) > 0 {
				return fmt.Errorf("velocity config: release stage %q must not have status values", s.Name)
			}
		default:
			return fmt.Errorf("velocity config: stage %q has unknown event type %q", s.Name, s.Event.Type)
		}
	}
	if releases > 1 {
		return fmt.Errorf("velocity config: at most one release stage is allowed")
	}
	return nil
}

// Ordered returns the stages sorted by declared order.
func (c VelocityConfig) Ordered() []Stage {
	out := make([]Stage, len(c.Stages))
	copy(out, c.Stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ReleaseStage returns the configured release stage, if any.
func (c VelocityConfig) ReleaseStage() (Stage, bool) {
	for _, s := range c.Stages {
		if s.Event.Type == StageEventRelease {
			return s, true
		}
	}
	return Stage{}, false
}
