package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/saarathi/model"
)

// PlatformAssignment is a controller instruction to use a specific platform
// for a train instead of the one it reported.
type PlatformAssignment struct {
	TrainID  string
	Platform string
}

// ManualOverride is the parsed form of the controller's free-text
// instructions. Lines that match no directive are kept as notes.
type ManualOverride struct {
	Text        string
	Rules       []model.ScenarioRule
	Assignments []PlatformAssignment
	Notes       []string
}

// Empty reports whether the override carries nothing at all.
func (o ManualOverride) Empty() bool {
	return len(o.Rules) == 0 && len(o.Assignments) == 0 && len(o.Notes) == 0
}

var (
	rePrioritize = regexp.MustCompile(`(?i)^PRIORITI[SZ]E\s+(?:TRAIN\s+)?(\S+)$`)
	reDelay      = regexp.MustCompile(`(?i)^DELAY\s+(?:TRAIN\s+)?(\S+)\s+(?:BY\s+)?(\d+)\s*(?:M|MIN|MINS|MINUTES?)?$`)
	reClose      = regexp.MustCompile(`(?i)^CLOSE\s+(?:PLATFORM\s+)?(\S+)\s+(?:FROM\s+)?(\d{1,2}:\d{2})\s*(?:-|TO)\s*(\d{1,2}:\d{2})$`)
	reAssign     = regexp.MustCompile(`(?i)^ASSIGN\s+(?:TRAIN\s+)?(\S+)\s+TO\s+(?:PLATFORM\s+)?(\S+)$`)
)

// ParseManualOverride reads one directive per line (or per ';'):
//
//	PRIORITIZE 12951
//	DELAY 12002 15
//	CLOSE P2 09:00-10:00
//	ASSIGN 12417 TO P4
//
// Matching is case-insensitive. Clock times resolve against serviceDay.
func ParseManualOverride(text string, serviceDay time.Time) ManualOverride {
	out := ManualOverride{Text: text}
	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == ';' })
	for _, raw := range lines {
		line := strings.Join(strings.Fields(raw), " ")
		if line == "" {
			continue
		}
		switch {
		case rePrioritize.MatchString(line):
			m := rePrioritize.FindStringSubmatch(line)
			out.Rules = append(out.Rules, model.PrioritizeTrain{TrainID: m[1]})
		case reDelay.MatchString(line):
			m := reDelay.FindStringSubmatch(line)
			mins, err := strconv.Atoi(m[2])
			if err != nil {
				out.Notes = append(out.Notes, line)
				continue
			}
			out.Rules = append(out.Rules, model.AddDelay{TrainID: m[1], DelayMinutes: mins})
		case reClose.MatchString(line):
			m := reClose.FindStringSubmatch(line)
			start, end, err := model.ParseClockWindow(serviceDay, m[2], m[3])
			if err != nil {
				out.Notes = append(out.Notes, line)
				continue
			}
			out.Rules = append(out.Rules, model.PlatformClosure{Platform: strings.ToUpper(m[1]), Start: start, End: end})
		case reAssign.MatchString(line):
			m := reAssign.FindStringSubmatch(line)
			out.Assignments = append(out.Assignments, PlatformAssignment{TrainID: m[1], Platform: strings.ToUpper(m[2])})
		default:
			out.Notes = append(out.Notes, line)
		}
	}
	return out
}
