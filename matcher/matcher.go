// Package matcher evaluates a query record against a work-item record using
// worklist matching rules: wildcard matching for string values, range
// matching for date/time values, and code-sequence matching on
// CodeValue + CodingSchemeDesignator pairs. Matching is a pure function.
package matcher

import (
	"regexp"
	"strings"
	"time"

	"github.com/carina-health/upsrs/dicom"
)

// Known code-sequence tags; other sequences are detected structurally.
var codeSequenceTags = map[dicom.Tag]bool{
	dicom.TagScheduledStationNameCodeSequence: true,
	dicom.TagScheduledWorkitemCodeSequence:    true,
}

// Match reports whether record satisfies every tag present in query.
func Match(query, record dicom.Dataset) bool {
	for tag, qe := range query {
		// File-meta elements carry no matching semantics.
		if tag.Group() == 0x0002 {
			continue
		}

		re, ok := record[tag]
		if !ok {
			return false
		}

		// Scheduled Procedure Step Start DateTime always matches as a
		// date/time regardless of the VR the query arrived with.
		if tag == dicom.TagScheduledProcedureStepStartDateTime {
			if !matchDateTime(firstString(qe), firstString(re)) {
				return false
			}
			continue
		}

		switch {
		case qe.VR == "SQ" && (codeSequenceTags[tag] || isCodeSequence(qe)):
			if !matchCodeSequence(items(qe), items(re)) {
				return false
			}
		case qe.VR == "SQ":
			if !matchSequence(items(qe), items(re)) {
				return false
			}
		case dicom.IsDateTimeVR(qe.VR):
			if !matchDateTime(firstString(qe), firstString(re)) {
				return false
			}
		case isStringValued(qe):
			if !matchString(firstString(qe), firstString(re)) {
				return false
			}
		default:
			if !valuesEqual(qe, re) {
				return false
			}
		}
	}
	return true
}

// isCodeSequence detects a code sequence structurally: a nonempty sequence
// whose first item carries CodeValue, CodingSchemeDesignator and CodeMeaning.
func isCodeSequence(e dicom.Element) bool {
	seq := items(e)
	if len(seq) == 0 {
		return false
	}
	first := seq[0]
	return first.Has(dicom.TagCodeValue) &&
		first.Has(dicom.TagCodingSchemeDesignator) &&
		first.Has(dicom.TagCodeMeaning)
}

// matchCodeSequence requires, for every query item that names a code, a
// record item with equal CodeValue and CodingSchemeDesignator. Query items
// missing either field act as wildcards.
func matchCodeSequence(query, record []dicom.Dataset) bool {
	if len(query) == 0 {
		return true
	}
	if len(record) == 0 {
		return false
	}
	for _, q := range query {
		value := q.GetString(dicom.TagCodeValue)
		scheme := q.GetString(dicom.TagCodingSchemeDesignator)
		if !q.Has(dicom.TagCodeValue) || !q.Has(dicom.TagCodingSchemeDesignator) {
			continue
		}
		found := false
		for _, r := range record {
			if !r.Has(dicom.TagCodeValue) || !r.Has(dicom.TagCodingSchemeDesignator) {
				continue
			}
			if r.GetString(dicom.TagCodeValue) == value &&
				r.GetString(dicom.TagCodingSchemeDesignator) == scheme {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchSequence: an empty query sequence matches any; otherwise some record
// item must recursively match some query item.
func matchSequence(query, record []dicom.Dataset) bool {
	if len(query) == 0 {
		return true
	}
	if len(record) == 0 {
		return false
	}
	for _, q := range query {
		for _, r := range record {
			if Match(q, r) {
				return true
			}
		}
	}
	return false
}

// matchDateTime handles universal match, wildcards, ranges, and
// chronological equality with a string-compare fallback on parse failure.
func matchDateTime(query, value string) bool {
	if query == "" || query == "*" {
		return true
	}

	if strings.ContainsAny(query, "*?") {
		return wildcardMatch(query, value)
	}

	if strings.Contains(query, "-") {
		parts := strings.Split(query, "-")
		if len(parts) == 2 {
			start, hasStart := parseDicomTime(parts[0])
			end, hasEnd := parseDicomTime(parts[1])
			v, ok := parseDicomTime(value)
			if !ok {
				return false
			}
			switch {
			case hasStart && hasEnd:
				return !v.Before(start) && !v.After(end)
			case hasStart:
				return !v.Before(start)
			case hasEnd:
				return !v.After(end)
			}
		}
	}

	q, qok := parseDicomTime(query)
	v, vok := parseDicomTime(value)
	if qok && vok {
		return q.Equal(v)
	}
	return query == value
}

// parseDicomTime parses DA (YYYYMMDD), TM (HHMMSS.FFFFFF) and DT
// (YYYYMMDDHHMMSS.FFFFFF) strings. TM values are anchored to 1900-01-01 so
// they compare chronologically.
func parseDicomTime(s string) (time.Time, bool) {
	if s == "" || s == "*" {
		return time.Time{}, false
	}
	// Drop any timezone suffix.
	s = strings.SplitN(s, "+", 2)[0]

	frac := ""
	if idx := strings.Index(s, "."); idx >= 0 {
		frac = padRight(s[idx+1:], 6)[:6]
		s = s[:idx]
	}

	var layoutVal string
	switch {
	case len(s) == 8 && frac == "":
		layoutVal = s + "000000"
	case len(s) <= 6:
		layoutVal = "19000101" + padRight(s, 6)
	default:
		layoutVal = padRight(s, 14)
		if len(layoutVal) > 14 {
			layoutVal = layoutVal[:14]
		}
	}

	layout := "20060102150405"
	if frac != "" {
		layoutVal += "." + frac
		layout += ".000000"
	}
	t, err := time.Parse(layout, layoutVal)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func padRight(s string, n int) string {
	for len(s) < n {
		s += "0"
	}
	return s
}

// matchString: "" and "*" match anything; * and ? are wildcards; everything
// else is exact equality.
func matchString(query, value string) bool {
	if query == "" || query == "*" {
		return true
	}
	if strings.ContainsAny(query, "*?") {
		return wildcardMatch(query, value)
	}
	return query == value
}

func wildcardMatch(pattern, value string) bool {
	expr := "^" + strings.ReplaceAll(strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*"), `\?`, ".") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func isStringValued(e dicom.Element) bool {
	if len(e.Value) == 0 {
		return true
	}
	switch e.Value[0].(type) {
	case string, map[string]any:
		return true
	}
	return false
}

func valuesEqual(a, b dicom.Element) bool {
	if len(a.Value) != len(b.Value) {
		return false
	}
	for i := range a.Value {
		if dicom.StringValue(a.Value[i]) != dicom.StringValue(b.Value[i]) {
			return false
		}
	}
	return true
}

func firstString(e dicom.Element) string {
	if len(e.Value) == 0 {
		return ""
	}
	return dicom.StringValue(e.Value[0])
}

func items(e dicom.Element) []dicom.Dataset {
	out := make([]dicom.Dataset, 0, len(e.Value))
	for _, v := range e.Value {
		if ds, ok := v.(dicom.Dataset); ok {
			out = append(out, ds)
		}
	}
	return out
}
