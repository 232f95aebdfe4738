package analysis

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatFieldSize converts a raw "WxH" field size in millimeters to a
// "{W} cm X {H} cm" label. Text that does not match the pattern passes
// through unchanged; this must never fail.
func FormatFieldSize(raw string) string {
	parts := strings.SplitN(raw, "x", 2)
	if len(parts) != 2 {
		return raw
	}
	xMM, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	yMM, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errX != nil || errY != nil {
		return raw
	}
	return fmt.Sprintf("%.0f cm X %.0f cm", xMM/10, yMM/10)
}

// EnergyUnit picks the display unit from the beam modality: MV for photon
// beams, MeV for everything else (electrons).
func EnergyUnit(modality string) string {
	if strings.HasPrefix(strings.ToLower(modality), "photon") {
		return "MV"
	}
	return "MeV"
}

// FormatEnergy appends the FFF marker when the flag is set.
func FormatEnergy(energy, fff string) string {
	if strings.EqualFold(strings.TrimSpace(fff), "YES") {
		return energy + " FFF"
	}
	return energy
}

// EnergyLabel builds the full display label for one trend record, e.g.
// "6 MV", "10 FFF MV", "9 MeV".
func EnergyLabel(energy, fff, modality string) string {
	return FormatEnergy(energy, fff) + " " + EnergyUnit(modality)
}
