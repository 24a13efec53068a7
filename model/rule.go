package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleType names a scenario rule variant on the wire.
type RuleType string

const (
	RulePlatformClosure RuleType = "PLATFORM_CLOSURE"
	RuleAddDelay        RuleType = "ADD_DELAY"
	RulePrioritizeTrain RuleType = "PRIORITIZE_TRAIN"
)

// ScenarioRule is an operator-authored, ephemeral constraint applied to one
// planning run. The set of variants is closed: PlatformClosure, AddDelay and
// PrioritizeTrain.
type ScenarioRule interface {
	Type() RuleType
	Describe() string
	isScenarioRule()
}

// PlatformClosure removes a platform from use for [Start, End).
type PlatformClosure struct {
	Platform string
	Start    time.Time
	End      time.Time
}

// AddDelay adds DelayMinutes to the train's accumulated delay.
type AddDelay struct {
	TrainID      string
	DelayMinutes int
}

// PrioritizeTrain moves a train ahead of every priority class.
type PrioritizeTrain struct {
	TrainID string
}

func (PlatformClosure) Type() RuleType { return RulePlatformClosure }
func (AddDelay) Type() RuleType        { return RuleAddDelay }
func (PrioritizeTrain) Type() RuleType { return RulePrioritizeTrain }

func (PlatformClosure) isScenarioRule() {}
func (AddDelay) isScenarioRule()        {}
func (PrioritizeTrain) isScenarioRule() {}

func (r PlatformClosure) Describe() string {
	return fmt.Sprintf("Platform %s closed (%s - %s)", r.Platform, FormatClock(r.Start), FormatClock(r.End))
}

func (r AddDelay) Describe() string {
	return fmt.Sprintf("Delay %s by %d min", r.TrainID, r.DelayMinutes)
}

func (r PrioritizeTrain) Describe() string {
	return fmt.Sprintf("Prioritize %s", r.TrainID)
}

// RuleEnvelope is the JSON form of a ScenarioRule: a type tag plus a
// variant-specific details object. Times are HH:MM on the service day.
type RuleEnvelope struct {
	ID      string          `json:"id,omitempty"`
	Type    RuleType        `json:"type" validate:"required,oneof=PLATFORM_CLOSURE ADD_DELAY PRIORITIZE_TRAIN"`
	Details json.RawMessage `json:"details"`
}

type closureDetails struct {
	Platform  string `json:"platform"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type delayDetails struct {
	TrainID      string `json:"trainId"`
	DelayMinutes int    `json:"delayMinutes"`
}

type prioritizeDetails struct {
	TrainID string `json:"trainId"`
}

// Decode turns the envelope into a typed rule. Clock times are resolved
// against serviceDay.
func (e RuleEnvelope) Decode(serviceDay time.Time) (ScenarioRule, error) {
	switch e.Type {
	case RulePlatformClosure:
		var d closureDetails
		if err := json.Unmarshal(e.Details, &d); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", e.Type, err)
		}
		start, end, err := ParseClockWindow(serviceDay, d.StartTime, d.EndTime)
		if err != nil {
			return nil, fmt.Errorf("%s %w", e.Type, err)
		}
		return PlatformClosure{Platform: d.Platform, Start: start, End: end}, nil
	case RuleAddDelay:
		var d delayDetails
		if err := json.Unmarshal(e.Details, &d); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", e.Type, err)
		}
		return AddDelay{TrainID: d.TrainID, DelayMinutes: d.DelayMinutes}, nil
	case RulePrioritizeTrain:
		var d prioritizeDetails
		if err := json.Unmarshal(e.Details, &d); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", e.Type, err)
		}
		return PrioritizeTrain{TrainID: d.TrainID}, nil
	default:
		return nil, fmt.Errorf("unknown scenario rule type %q", e.Type)
	}
}

// EncodeRule is the inverse of RuleEnvelope.Decode.
func EncodeRule(id string, r ScenarioRule) (RuleEnvelope, error) {
	var details any
	switch v := r.(type) {
	case PlatformClosure:
		details = closureDetails{Platform: v.Platform, StartTime: FormatClock(v.Start), EndTime: FormatClock(v.End)}
	case AddDelay:
		details = delayDetails{TrainID: v.TrainID, DelayMinutes: v.DelayMinutes}
	case PrioritizeTrain:
		details = prioritizeDetails{TrainID: v.TrainID}
	default:
		return RuleEnvelope{}, fmt.Errorf("unsupported scenario rule %T", r)
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return RuleEnvelope{}, err
	}
	return RuleEnvelope{ID: id, Type: r.Type(), Details: raw}, nil
}
