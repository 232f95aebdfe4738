package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedInput marks a document that could not be parsed as XML after
// BOM stripping. This is the only fatal condition in the package; anything
// wrong with an individual trend record is recovered by skipping it.
var ErrMalformedInput = errors.New("malformed QCW input")

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// TrimmedText returns the element text with surrounding whitespace removed.
func (e *Element) TrimmedText() string {
	return strings.TrimSpace(e.Text)
}

// Child returns the first direct child with the given local name.
func (e *Element) Child(name string) *Element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == name {
			return &e.Children[i]
		}
	}
	return nil
}

// Find returns the first descendant with the given local name, searching in
// document order. Mirrors an ElementTree ".//name" lookup.
func (e *Element) Find(name string) *Element {
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == name {
			return c
		}
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// FindAll returns all descendants with the given local name in document order.
func (e *Element) FindAll(name string) []*Element {
	var out []*Element
	for i := range e.Children {
		c := &e.Children[i]
		if c.XMLName.Local == name {
			out = append(out, c)
		}
		out = append(out, c.FindAll(name)...)
	}
	return out
}

// childText returns the trimmed text of a direct child, or nil when the
// child is missing.
func childText(e *Element, name string) *string {
	c := e.Child(name)
	if c == nil {
		return nil
	}
	s := c.TrimmedText()
	return &s
}

// Parse reads a raw QCW byte buffer, strips an optional UTF-8 BOM, and
// extracts all trend records and the worklist listing. The buffer is read
// once and never mutated. Per-record problems are collected as warnings;
// only an unparseable document is an error.
func Parse(content []byte) (*Document, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	var root Element
	if err := xml.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	doc := &Document{}
	seen := make(map[string]bool)

	for idx, trend := range root.FindAll("TrendData") {
		worklist := trend.Find("Worklist")
		if worklist == nil {
			doc.warn("TrendData %d: no Worklist element, record skipped", idx+1)
			continue
		}
		worklistID := worklist.Attr("id")

		name := ""
		if nameTag := worklist.Child("Name"); nameTag != nil {
			name = nameTag.TrimmedText()
		}
		listName := name
		if listName == "" {
			listName = "Worklist_" + worklistID
		}
		if !seen[worklistID] {
			seen[worklistID] = true
			doc.Worklists = append(doc.Worklists, WorklistInfo{ID: worklistID, Name: listName})
		}

		dateAttr := trend.Attr("date")
		if dateAttr == "" {
			doc.warn("TrendData %d (worklist %s): no date attribute, record skipped", idx+1, worklistID)
			continue
		}
		date := strings.SplitN(dateAttr, " ", 2)[0]

		rec := TrendRecord{
			Date:         date,
			WorklistID:   worklistID,
			WorklistName: name,
			FFF:          "No",
		}

		if admin := worklist.Find("AdminValues"); admin != nil {
			if v := childText(admin, "Energy"); v != nil {
				rec.Energy = *v
			}
			if v := childText(admin, "Modality"); v != nil {
				rec.Modality = *v
			}
			if v := childText(admin, "Fieldsize"); v != nil {
				rec.Fieldsize = *v
			}
			if v := childText(admin, "FFF"); v != nil {
				rec.FFF = *v
			}
		} else {
			doc.warn("TrendData %d (worklist %s): no AdminValues block", idx+1, worklistID)
		}

		if params := worklist.Find("AnalyzeParams"); params != nil {
			for i := range params.Children {
				p := &params.Children[i]
				rec.Tolerances = append(rec.Tolerances, ToleranceNode{
					Name:   p.XMLName.Local,
					Norm:   childText(p, "Norm"),
					Min:    childText(p, "Min"),
					Max:    childText(p, "Max"),
					Target: childText(p, "Target"),
				})
			}
		}

		measData := trend.Find("MeasData")
		if measData == nil {
			doc.warn("TrendData %d (worklist %s): no MeasData block, record skipped", idx+1, worklistID)
			continue
		}
		analyzeValues := measData.Find("AnalyzeValues")
		if analyzeValues == nil {
			doc.warn("TrendData %d (worklist %s): no AnalyzeValues block, record skipped", idx+1, worklistID)
			continue
		}
		for i := range analyzeValues.Children {
			v := &analyzeValues.Children[i]
			rec.Values = append(rec.Values, ValueNode{
				Name:  v.XMLName.Local,
				Value: childText(v, "Value"),
			})
		}
		if len(rec.Values) == 0 {
			doc.warn("TrendData %d (worklist %s): empty AnalyzeValues block, record skipped", idx+1, worklistID)
			continue
		}

		doc.Records = append(doc.Records, rec)
	}

	return doc, nil
}

func (d *Document) warn(format string, args ...interface{}) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, args...))
}
