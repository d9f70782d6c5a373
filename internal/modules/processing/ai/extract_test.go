package ai

import (
	"errors"
	"testing"
)

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n[1]\n```":              "[1]",
		"```JSON\n[1]\n```\ntrailing":     "[1]",
		"```\n{\"a\":1}\n```":            `{"a":1}`,
		"  [1]  ":                        "[1]",
		"```json[1]```":                  "[1]",
		"prose first ```json\n[1]\n```":  "prose first ```json\n[1]\n```",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractArray_fencedArray(t *testing.T) {
	items, err := ExtractArray("```json\n[{\"title\":\"A\",\"summary\":\"a\"},{\"title\":\"B\",\"summary\":\"b\"}]\n```")
	if err != nil {
		t.Fatalf("ExtractArray: %v", err)
	}
	recs := sanitizeRecords(items, false)
	if len(recs) != 2 || recs[0].Title != "A" || recs[1].Title != "B" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestExtractArray_firstArrayPropertyInDocumentOrder(t *testing.T) {
	raw := `{"meta":{"n":2},"zeta":[{"title":"first"}],"alpha":[{"title":"second"}]}`
	items, err := ExtractArray(raw)
	if err != nil {
		t.Fatalf("ExtractArray: %v", err)
	}
	recs := sanitizeRecords(items, false)
	if len(recs) != 1 || recs[0].Title != "first" {
		t.Fatalf("records = %+v", recs)
	}
}

func TestExtractArray_errors(t *testing.T) {
	if _, err := ExtractArray(`{"title":"x"}`); !errors.Is(err, ErrNotArray) || !IsParseError(err) {
		t.Errorf("object without array: %v", err)
	}
	if _, err := ExtractArray(`42`); !errors.Is(err, ErrNotArray) {
		t.Errorf("scalar: %v", err)
	}
	if _, err := ExtractArray(`[{"title":`); !IsParseError(err) || errors.Is(err, ErrNotArray) {
		t.Errorf("invalid json: %v", err)
	}
}

func TestSanitizeRecords_placeholders(t *testing.T) {
	items, err := ExtractArray(`[{"title":"","summary":7,"content":"body"},"loose",{"title":"T","summary":"S","content":"C"}]`)
	if err != nil {
		t.Fatalf("ExtractArray: %v", err)
	}

	recs := sanitizeRecords(items, false)
	if recs[0].Title != placeholderTitle || recs[0].Summary != placeholderSummary || recs[0].Content != "" {
		t.Errorf("record 0 = %+v", recs[0])
	}
	if recs[1].Title != placeholderTitle || recs[1].Summary != placeholderSummary {
		t.Errorf("record 1 = %+v", recs[1])
	}
	if recs[2].Content != "" {
		t.Errorf("content kept in summary-only mode: %+v", recs[2])
	}

	verbatim := sanitizeRecords(items, true)
	if verbatim[0].Content != "body" || verbatim[2].Content != "C" {
		t.Errorf("verbatim = %+v", verbatim)
	}
}

func TestParseStrictArray(t *testing.T) {
	recs, err := parseStrictArray(`[{"title":"T1","summary":"S1","content":"C1"},{"title":"T2","summary":"S2"}]`, false)
	if err != nil {
		t.Fatalf("parseStrictArray: %v", err)
	}
	if len(recs) != 2 || recs[0].Title != "T1" || recs[1].Title != "T2" || recs[0].Content != "" {
		t.Fatalf("records = %+v", recs)
	}

	if _, err := parseStrictArray(`{"segments":[]}`, false); !errors.Is(err, ErrNotArray) {
		t.Errorf("object root: %v", err)
	}
	if _, err := parseStrictArray(`[{"title":"a"}] trailing`, false); !IsParseError(err) {
		t.Errorf("trailing data: %v", err)
	}
	if _, err := parseStrictArray("```json\n[]\n```", false); !IsParseError(err) {
		t.Errorf("fenced output accepted: %v", err)
	}
}
