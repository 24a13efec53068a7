// Package scenario reads and writes operator scenario files. A scenario
// file is HCL:
//
//	station  = "NDLS"
//	override = "ASSIGN 12417 TO P4"
//
//	rule "platform_closure" {
//	  platform = "P2"
//	  start    = "09:00"
//	  end      = "10:00"
//	}
//
//	rule "add_delay" {
//	  train   = "12002"
//	  minutes = 15
//	}
//
//	rule "prioritize_train" {
//	  train = "12951"
//	}
//
// Expressions may reference service_day ("2025-01-15") and any variables
// supplied by the caller.
package scenario

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/model"
)

// Block labels of the rule variants.
const (
	KindPlatformClosure = "platform_closure"
	KindAddDelay        = "add_delay"
	KindPrioritizeTrain = "prioritize_train"
)

// Scenario is a decoded scenario file.
type Scenario struct {
	Station  string
	Rules    []model.ScenarioRule
	Override core.ManualOverride
}

type fileConfig struct {
	Station  string       `hcl:"station,optional"`
	Override string       `hcl:"override,optional"`
	Rules    []*ruleBlock `hcl:"rule,block"`
}

type ruleBlock struct {
	Kind     string `hcl:"kind,label"`
	Platform string `hcl:"platform,optional"`
	Start    string `hcl:"start,optional"`
	End      string `hcl:"end,optional"`
	Train    string `hcl:"train,optional"`
	Minutes  int    `hcl:"minutes,optional"`
}

// DecodeFile reads a scenario file from disk.
func DecodeFile(path string, serviceDay time.Time, vars map[string]cty.Value) (*Scenario, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return Decode(src, path, serviceDay, vars)
}

// Decode parses scenario source. Clock times resolve against serviceDay.
func Decode(src []byte, filename string, serviceDay time.Time, vars map[string]cty.Value) (*Scenario, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse scenario %s: %s", filename, diags.Error())
	}

	day := model.ServiceDay(serviceDay)
	variables := map[string]cty.Value{"service_day": cty.StringVal(day.Format("2006-01-02"))}
	for k, v := range vars {
		variables[k] = v
	}

	var cfg fileConfig
	if diags := gohcl.DecodeBody(file.Body, &hcl.EvalContext{Variables: variables}, &cfg); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode scenario %s: %s", filename, diags.Error())
	}

	sc := &Scenario{
		Station:  strings.ToUpper(strings.TrimSpace(cfg.Station)),
		Override: core.ParseManualOverride(cfg.Override, day),
	}
	for i, b := range cfg.Rules {
		r, err := b.rule(day)
		if err != nil {
			return nil, fmt.Errorf("%s: rule %d: %w", filename, i+1, err)
		}
		sc.Rules = append(sc.Rules, r)
	}
	return sc, nil
}

func (b *ruleBlock) rule(day time.Time) (model.ScenarioRule, error) {
	switch b.Kind {
	case KindPlatformClosure:
		if b.Platform == "" {
			return nil, fmt.Errorf("rule %q: platform is required", b.Kind)
		}
		start, end, err := model.ParseClockWindow(day, b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("rule %q %w", b.Kind, err)
		}
		return model.PlatformClosure{Platform: b.Platform, Start: start, End: end}, nil
	case KindAddDelay:
		if b.Train == "" {
			return nil, fmt.Errorf("rule %q: train is required", b.Kind)
		}
		return model.AddDelay{TrainID: b.Train, DelayMinutes: b.Minutes}, nil
	case KindPrioritizeTrain:
		if b.Train == "" {
			return nil, fmt.Errorf("rule %q: train is required", b.Kind)
		}
		return model.PrioritizeTrain{TrainID: b.Train}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", b.Kind)
	}
}

// Encode renders rules as a scenario file that Decode reads back.
func Encode(station string, rules []model.ScenarioRule) []byte {
	f := hclwrite.NewEmptyFile()
	body := f.Body()
	if station != "" {
		body.SetAttributeValue("station", cty.StringVal(strings.ToUpper(station)))
	}
	for _, r := range rules {
		body.AppendNewline()
		switch v := r.(type) {
		case model.PlatformClosure:
			rb := body.AppendNewBlock("rule", []string{KindPlatformClosure}).Body()
			rb.SetAttributeValue("platform", cty.StringVal(v.Platform))
			rb.SetAttributeValue("start", cty.StringVal(model.FormatClock(v.Start)))
			rb.SetAttributeValue("end", cty.StringVal(model.FormatClock(v.End)))
		case model.AddDelay:
			rb := body.AppendNewBlock("rule", []string{KindAddDelay}).Body()
			rb.SetAttributeValue("train", cty.StringVal(v.TrainID))
			rb.SetAttributeValue("minutes", cty.NumberIntVal(int64(v.DelayMinutes)))
		case model.PrioritizeTrain:
			rb := body.AppendNewBlock("rule", []string{KindPrioritizeTrain}).Body()
			rb.SetAttributeValue("train", cty.StringVal(v.TrainID))
		}
	}
	return f.Bytes()
}

// Describe renders the active rules as one operator instruction, numbered
// in order. No rules give "".
func Describe(rules []model.ScenarioRule) string {
	if len(rules) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rules))
	for i, r := range rules {
		parts = append(parts, fmt.Sprintf("%d. %s.", i+1, r.Describe()))
	}
	return "Apply the following operational scenarios: " + strings.Join(parts, " ")
}
