package analysis

// Status classifies one measurement against its tolerance.
type Status string

const (
	StatusPass          Status = "PASS"
	StatusFail          Status = "FAIL"
	StatusNotApplicable Status = "NOT_APPLICABLE"
)

// ToleranceKind discriminates the two reference schemas carried by QCW
// files. Older exports declare a Min/Max/Target triple per parameter, newer
// ones a single Norm scalar; the kind is detected per worklist at resolve
// time, not configured.
type ToleranceKind int

const (
	ToleranceNorm ToleranceKind = iota
	ToleranceTriple
)

// Tolerance is the resolved reference definition of one parameter. Bounds
// that failed numeric parsing are NaN, which keeps the tolerance from ever
// evaluating to PASS.
type Tolerance struct {
	Kind   ToleranceKind
	Norm   float64
	Min    float64
	Max    float64
	Target float64
}

// Measurement is one parameter's observed value with its computed deviation,
// formatted for display. Value is the two-decimal rendering of the measured
// number, or the original text when it did not parse. Deviation is a
// two-decimal percentage, "N/A" when no tolerance covered the parameter,
// or "" in triple mode when the target is zero.
type Measurement struct {
	Value     string `json:"value"`
	Deviation string `json:"deviation"`
	Status    Status `json:"status"`
}

// FailedTest records one out-of-tolerance measurement for the failure note.
type FailedTest struct {
	Parameter string `json:"parameter"`
	Deviation string `json:"deviation"`
	Energy    string `json:"energy"`
}

// EnergyBlock is the result of one trend record: all measurements taken at
// one energy setting, plus the subset that failed.
type EnergyBlock struct {
	Energy      string                 `json:"energy"`
	Measured    map[string]Measurement `json:"measured"`
	FailedTests []FailedTest           `json:"failed_tests"`
}

// FieldGroup collects the energy blocks recorded for one field size,
// in first-seen order.
type FieldGroup struct {
	FieldSize string        `json:"field_size"`
	Energies  []EnergyBlock `json:"energies"`
}

// MachineGroup collects the field groups recorded for one machine.
type MachineGroup struct {
	Machine string       `json:"machine"`
	Fields  []FieldGroup `json:"fields"`
}

// DateGroup collects the machine groups recorded on one calendar date.
type DateGroup struct {
	Date     string         `json:"date"`
	Machines []MachineGroup `json:"machines"`
}

// Report is the aggregated date -> machine -> field size -> energy blocks
// hierarchy. Dates are sorted ascending; deeper levels preserve the order
// in which they first appear in the source file. The structure is read-only
// once built.
type Report struct {
	Dates []DateGroup `json:"dates"`
}
