package model

import (
	"encoding/json"
	"time"
)

// Action is what a train is told to do during a plan entry.
type Action string

const (
	ActionAssign  Action = "ASSIGN"
	ActionHold    Action = "HOLD"
	ActionProceed Action = "PROCEED"
)

// ActionPlanEntry is one scheduled action for one train over [StartTime, EndTime).
type ActionPlanEntry struct {
	TrainID    string
	Action     Action
	TargetNode string
	StartTime  time.Time
	EndTime    time.Time
	Reasoning  string
	// DelayImpactMinutes is how far this entry's train runs behind its
	// requested time because of holds.
	DelayImpactMinutes int
}

// Duration returns the entry's length.
func (e ActionPlanEntry) Duration() time.Duration { return e.EndTime.Sub(e.StartTime) }

type entryJSON struct {
	TrainID            string `json:"train_id"`
	Action             Action `json:"action"`
	TargetNode         string `json:"target_node"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	StartAt            string `json:"start_at"`
	EndAt              string `json:"end_at"`
	Reasoning          string `json:"reasoning"`
	DelayImpactMinutes int    `json:"delay_impact_minutes"`
}

// MarshalJSON emits HH:MM times as the dashboard expects, plus RFC 3339
// instants so consumers spanning midnight stay unambiguous.
func (e ActionPlanEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		TrainID:            e.TrainID,
		Action:             e.Action,
		TargetNode:         e.TargetNode,
		StartTime:          FormatClock(e.StartTime),
		EndTime:            FormatClock(e.EndTime),
		StartAt:            e.StartTime.Format(time.RFC3339),
		EndAt:              e.EndTime.Format(time.RFC3339),
		Reasoning:          e.Reasoning,
		DelayImpactMinutes: e.DelayImpactMinutes,
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON. The RFC 3339
// fields are required to recover full instants.
func (e *ActionPlanEntry) UnmarshalJSON(b []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := time.Parse(time.RFC3339, raw.StartAt)
	if err != nil {
		return err
	}
	end, err := time.Parse(time.RFC3339, raw.EndAt)
	if err != nil {
		return err
	}
	*e = ActionPlanEntry{
		TrainID:            raw.TrainID,
		Action:             raw.Action,
		TargetNode:         raw.TargetNode,
		StartTime:          start,
		EndTime:            end,
		Reasoning:          raw.Reasoning,
		DelayImpactMinutes: raw.DelayImpactMinutes,
	}
	return nil
}
