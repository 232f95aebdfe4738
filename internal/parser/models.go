package parser

import "encoding/xml"

// Element is one node of the parsed QCW document tree. QuickCheck export
// generations nest the admin blocks at different depths, so lookups walk
// descendants instead of relying on a fixed struct mapping.
type Element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []Element  `xml:",any"`
}

// ToleranceNode is the raw reference definition of one parameter as declared
// in a worklist's AnalyzeParams block. Either Norm alone, or the
// Min/Max/Target triple, is populated depending on the file generation.
// Values stay as text here; numeric interpretation happens in analysis.
type ToleranceNode struct {
	Name   string
	Norm   *string
	Min    *string
	Max    *string
	Target *string
}

// ValueNode is one measured parameter from a trend record's AnalyzeValues
// block. Value is nil when the parameter element carried no Value child.
type ValueNode struct {
	Name  string
	Value *string
}

// WorklistInfo pairs a worklist id with the name declared in the file.
// The listing is what a caller presents when asking a human to map
// worklist ids to machine names before analysis runs.
type WorklistInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrendRecord is one measurement session extracted from a TrendData element.
// Immutable after parse.
type TrendRecord struct {
	Date         string // date portion of the "date" attribute, time discarded
	WorklistID   string
	WorklistName string
	Energy       string
	Modality     string
	Fieldsize    string // raw "WxH" text in millimeters
	FFF          string
	Tolerances   []ToleranceNode
	Values       []ValueNode
}

// Document holds everything extracted from one QCW file.
type Document struct {
	Records   []TrendRecord
	Worklists []WorklistInfo // first-seen order, first-seen names
	Warnings  []string       // non-fatal per-record problems
}
