package scenario

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/model"
)

var day = time.Date(2025, time.January, 15, 6, 50, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return time.Date(2025, time.January, 15, h, m, 0, 0, time.UTC)
}

func TestDecode(t *testing.T) {
	src := `
station  = "ndls"
override = "ASSIGN 12417 TO P4"

rule "platform_closure" {
  platform = "P2"
  start    = "09:00"
  end      = "10:00"
}

rule "add_delay" {
  train   = "12002"
  minutes = base_delay * 3
}

rule "prioritize_train" {
  train = "12951"
}
`
	sc, err := Decode([]byte(src), "morning.hcl", day, map[string]cty.Value{"base_delay": cty.NumberIntVal(5)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sc.Station != "NDLS" {
		t.Fatalf("station = %q, want NDLS", sc.Station)
	}
	want := []model.ScenarioRule{
		model.PlatformClosure{Platform: "P2", Start: clock(9, 0), End: clock(10, 0)},
		model.AddDelay{TrainID: "12002", DelayMinutes: 15},
		model.PrioritizeTrain{TrainID: "12951"},
	}
	if diff := cmp.Diff(want, sc.Rules); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]core.PlatformAssignment{{TrainID: "12417", Platform: "P4"}}, sc.Override.Assignments); diff != "" {
		t.Fatalf("assignments mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeServiceDayVariable(t *testing.T) {
	sc, err := Decode([]byte(`override = "note for ${service_day}"`), "v.hcl", day, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(sc.Override.Notes) != 1 || sc.Override.Notes[0] != "note for 2025-01-15" {
		t.Fatalf("notes = %v", sc.Override.Notes)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"syntax", `rule "add_delay" {`, "parse"},
		{"unknown kind", `rule "teleport" { train = "1" }`, "unknown rule kind"},
		{"unknown attribute", "rule \"add_delay\" {\n  train = \"1\"\n  speed = 3\n}", "decode"},
		{"missing platform", "rule \"platform_closure\" {\n  start = \"09:00\"\n  end = \"10:00\"\n}", "platform is required"},
		{"bad clock", "rule \"platform_closure\" {\n  platform = \"P1\"\n  start = \"9am\"\n  end = \"10:00\"\n}", "start"},
		{"missing train", `rule "prioritize_train" {}`, "train is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.src), "bad.hcl", day, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestEncodeDecodes(t *testing.T) {
	rules := []model.ScenarioRule{
		model.PlatformClosure{Platform: "P5", Start: clock(7, 30), End: clock(8, 15)},
		model.AddDelay{TrainID: "04408", DelayMinutes: 7},
		model.PrioritizeTrain{TrainID: "12002"},
	}
	src := Encode("ndls", rules)
	sc, err := Decode(src, "export.hcl", day, nil)
	if err != nil {
		t.Fatalf("Decode(Encode): %v\n%s", err, src)
	}
	if sc.Station != "NDLS" {
		t.Fatalf("station = %q", sc.Station)
	}
	if diff := cmp.Diff(rules, sc.Rules); diff != "" {
		t.Fatalf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(nil); got != "" {
		t.Fatalf("Describe(nil) = %q, want empty", got)
	}
	got := Describe([]model.ScenarioRule{
		model.PlatformClosure{Platform: "P2", Start: clock(9, 0), End: clock(10, 0)},
		model.PrioritizeTrain{TrainID: "12951"},
	})
	want := "Apply the following operational scenarios: 1. Platform P2 closed (09:00 - 10:00). 2. Prioritize 12951."
	if got != want {
		t.Fatalf("Describe = %q, want %q", got, want)
	}
}
