package analysis

import (
	"strings"

	"github.com/user/qcw_analyzer_go/internal/parser"
)

// NameStrategy selects how a worklist is turned into a machine display name.
// Exactly one strategy is active per Engine; they are never combined.
type NameStrategy int

const (
	// StrategyMapping resolves through a caller-supplied id -> name map,
	// falling back to "Machine_<id>" for ids the map does not cover.
	StrategyMapping NameStrategy = iota
	// StrategyHeuristic normalizes the name declared in the file against a
	// fixed set of accelerator family markers.
	StrategyHeuristic
)

// nameMarker maps a substring of the declared worklist name to the
// canonical label of the accelerator family it identifies.
type nameMarker struct {
	substr string
	label  string
}

// The match is case-sensitive and first-wins, so more specific markers
// must come first.
var nameMarkers = []nameMarker{
	{"TrueBeam", "TrueBeam"},
	{"Halcyon", "Halcyon"},
	{"Clinac", "Clinac"},
	{"Unique", "Unique"},
}

// resolveName produces the machine display name for one trend record.
func (e *Engine) resolveName(rec parser.TrendRecord) string {
	switch e.strategy {
	case StrategyHeuristic:
		name := strings.TrimSpace(rec.WorklistName)
		if name == "" {
			return "Worklist_" + rec.WorklistID
		}
		for _, m := range nameMarkers {
			if strings.Contains(name, m.substr) {
				return m.label
			}
		}
		return name
	default: // StrategyMapping
		if name, ok := e.mapping[rec.WorklistID]; ok && name != "" {
			return name
		}
		return "Machine_" + rec.WorklistID
	}
}
