package analysis

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/user/qcw_analyzer_go/internal/parser"
)

// wedgeParam is a device-internal calibration channel present in every QCW
// export; it is excluded from both tolerance resolution and measurement
// extraction and never reported.
const wedgeParam = "Wedge"

// defaultDeviationThreshold is the norm-mode failure gate in percent. A
// deviation of exactly this value still passes; the comparison is strict.
const defaultDeviationThreshold = 3.0

// Engine computes deviations and aggregates trend records into a Report.
// One Engine instance is safe for concurrent use: Aggregate keeps all
// intermediate state local to the call.
type Engine struct {
	strategy  NameStrategy
	mapping   map[string]string
	threshold float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMapping selects the mapping name strategy with the given
// worklist id -> display name table.
func WithMapping(mapping map[string]string) Option {
	return func(e *Engine) {
		e.strategy = StrategyMapping
		e.mapping = make(map[string]string, len(mapping))
		for id, name := range mapping {
			e.mapping[id] = name
		}
	}
}

// WithHeuristicNames selects the heuristic name strategy.
func WithHeuristicNames() Option {
	return func(e *Engine) {
		e.strategy = StrategyHeuristic
		e.mapping = nil
	}
}

// WithDeviationThreshold overrides the norm-mode failure gate in percent.
func WithDeviationThreshold(pct float64) Option {
	return func(e *Engine) {
		if pct > 0 {
			e.threshold = pct
		}
	}
}

// NewEngine creates an Engine. The default configuration uses the mapping
// strategy with an empty table and the 3% failure gate.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		strategy:  StrategyMapping,
		mapping:   make(map[string]string),
		threshold: defaultDeviationThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// resolveTolerances interprets one worklist's raw parameter block, detecting
// the schema variant per parameter. Unparseable bounds become NaN, which a
// later evaluation treats as NOT_APPLICABLE; resolution itself never fails.
func resolveTolerances(nodes []parser.ToleranceNode) map[string]Tolerance {
	out := make(map[string]Tolerance, len(nodes))
	for _, n := range nodes {
		if n.Name == wedgeParam {
			continue
		}
		if n.Min != nil || n.Max != nil || n.Target != nil {
			out[n.Name] = Tolerance{
				Kind:   ToleranceTriple,
				Min:    parseBound(n.Min),
				Max:    parseBound(n.Max),
				Target: parseBound(n.Target),
			}
			continue
		}
		if n.Norm != nil {
			out[n.Name] = Tolerance{Kind: ToleranceNorm, Norm: parseBound(n.Norm)}
		}
	}
	return out
}

func parseBound(s *string) float64 {
	if s == nil {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// evaluate computes one measurement's deviation and status against its
// tolerance. The measured value is already known to be numeric here.
func (e *Engine) evaluate(measured float64, tol Tolerance) (deviation string, status Status) {
	switch tol.Kind {
	case ToleranceTriple:
		if math.IsNaN(tol.Min) || math.IsNaN(tol.Max) {
			return "N/A", StatusNotApplicable
		}
		status = StatusFail
		if tol.Min <= measured && measured <= tol.Max {
			status = StatusPass
		}
		// Deviation from target is informational in triple mode; a zero
		// target renders as an empty string rather than a division result.
		if math.IsNaN(tol.Target) || tol.Target == 0 {
			return "", status
		}
		return fmt.Sprintf("%.2f", (measured-tol.Target)/tol.Target*100), status
	default: // ToleranceNorm
		if math.IsNaN(tol.Norm) {
			return "N/A", StatusNotApplicable
		}
		if tol.Norm == 0 {
			// Observed contract: a zero norm is treated as trivially
			// matching, never as a failure or a division error.
			return "0.00", StatusPass
		}
		dev := (measured - tol.Norm) / tol.Norm * 100
		status = StatusPass
		if math.Abs(dev) > e.threshold {
			status = StatusFail
		}
		return fmt.Sprintf("%.2f", dev), status
	}
}

// buildBlock turns one trend record into an EnergyBlock.
func (e *Engine) buildBlock(rec parser.TrendRecord) EnergyBlock {
	label := EnergyLabel(rec.Energy, rec.FFF, rec.Modality)
	tolerances := resolveTolerances(rec.Tolerances)

	block := EnergyBlock{
		Energy:   label,
		Measured: make(map[string]Measurement, len(rec.Values)),
	}

	for _, v := range rec.Values {
		if v.Name == wedgeParam || v.Value == nil {
			continue
		}
		raw := strings.TrimSpace(*v.Value)
		measured, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			// Keep the original text rather than losing the entry.
			block.Measured[v.Name] = Measurement{Value: raw, Deviation: "N/A", Status: StatusNotApplicable}
			continue
		}
		m := Measurement{Value: fmt.Sprintf("%.2f", measured)}

		tol, ok := tolerances[v.Name]
		if !ok {
			// Measured but not covered by the tolerance definition: shown,
			// never counted as a failure.
			m.Deviation = "N/A"
			m.Status = StatusNotApplicable
			block.Measured[v.Name] = m
			continue
		}

		m.Deviation, m.Status = e.evaluate(measured, tol)
		if m.Status == StatusFail && tol.Kind == ToleranceNorm {
			block.FailedTests = append(block.FailedTests, FailedTest{
				Parameter: v.Name,
				Deviation: m.Deviation,
				Energy:    label,
			})
		}
		block.Measured[v.Name] = m
	}
	return block
}

// Aggregate groups the document's trend records into the hierarchical
// report: date -> machine -> field size -> energy blocks. Dates are sorted
// ascending; machines, field sizes, and energy blocks keep first-seen order
// from the source file. Given the same records and strategy the output is
// deterministic.
func (e *Engine) Aggregate(doc *parser.Document) *Report {
	report := &Report{}
	dateIdx := make(map[string]int)

	for _, rec := range doc.Records {
		machine := e.resolveName(rec)
		field := FormatFieldSize(rec.Fieldsize)
		block := e.buildBlock(rec)

		di, ok := dateIdx[rec.Date]
		if !ok {
			di = len(report.Dates)
			dateIdx[rec.Date] = di
			report.Dates = append(report.Dates, DateGroup{Date: rec.Date})
		}
		dg := &report.Dates[di]

		var mg *MachineGroup
		for i := range dg.Machines {
			if dg.Machines[i].Machine == machine {
				mg = &dg.Machines[i]
				break
			}
		}
		if mg == nil {
			dg.Machines = append(dg.Machines, MachineGroup{Machine: machine})
			mg = &dg.Machines[len(dg.Machines)-1]
		}

		var fg *FieldGroup
		for i := range mg.Fields {
			if mg.Fields[i].FieldSize == field {
				fg = &mg.Fields[i]
				break
			}
		}
		if fg == nil {
			mg.Fields = append(mg.Fields, FieldGroup{FieldSize: field})
			fg = &mg.Fields[len(mg.Fields)-1]
		}

		fg.Energies = append(fg.Energies, block)
	}

	sort.Slice(report.Dates, func(i, j int) bool {
		return report.Dates[i].Date < report.Dates[j].Date
	})
	return report
}

// FailureSummary renders the note line for one field group: "All tests
// passed" when nothing failed, otherwise the failures grouped by energy in
// first-seen order, e.g.
// "Failed tests: 6 MV: CAX (-4.00%), Flatness (3.21%); 15 MV: BQF (5.02%)".
func FailureSummary(fg FieldGroup) string {
	var order []string
	byEnergy := make(map[string][]string)
	for _, block := range fg.Energies {
		for _, fail := range block.FailedTests {
			if _, ok := byEnergy[fail.Energy]; !ok {
				order = append(order, fail.Energy)
			}
			byEnergy[fail.Energy] = append(byEnergy[fail.Energy], fmt.Sprintf("%s (%s%%)", fail.Parameter, fail.Deviation))
		}
	}
	if len(order) == 0 {
		return "All tests passed"
	}
	parts := make([]string, 0, len(order))
	for _, energy := range order {
		parts = append(parts, fmt.Sprintf("%s: %s", energy, strings.Join(byEnergy[energy], ", ")))
	}
	return "Failed tests: " + strings.Join(parts, "; ")
}
