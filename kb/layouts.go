package kb

import (
	"embed"
	"sort"
	"strings"
)

//go:embed layouts/*.json
var layoutFS embed.FS

// BuiltinLayout returns the embedded layout JSON for a station, if one ships
// with the binary.
func BuiltinLayout(station string) ([]byte, bool) {
	data, err := layoutFS.ReadFile("layouts/" + strings.ToUpper(station) + ".json")
	if err != nil {
		return nil, false
	}
	return data, true
}

// BuiltinStations lists the station codes that have an embedded layout.
func BuiltinStations() []string {
	entries, err := layoutFS.ReadDir("layouts")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(out)
	return out
}
