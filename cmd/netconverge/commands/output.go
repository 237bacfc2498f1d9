package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/netconverge/pkg/resource"
)

// render writes v as indented JSON or as YAML.
func render(w io.Writer, v interface{}, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// recordYAML renders a record for display; a nil record renders as null.
func recordYAML(r resource.Record) (string, error) {
	if r == nil {
		return "null\n", nil
	}
	out, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to render record: %w", err)
	}
	return string(out), nil
}

// unifiedDiff returns a unified diff between two records, empty when they
// render the same.
func unifiedDiff(before, after resource.Record, fromName, toName string) (string, error) {
	a, err := recordYAML(before)
	if err != nil {
		return "", err
	}
	b, err := recordYAML(after)
	if err != nil {
		return "", err
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
}

// encodeRecord is the journal form of a record. An absent resource is
// recorded as null.
func encodeRecord(r resource.Record) (string, error) {
	if r == nil {
		return "null", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	return string(data), nil
}

// decodeRecord reverses encodeRecord.
func decodeRecord(family resource.Family, name, data string) (resource.Record, error) {
	if strings.TrimSpace(data) == "null" {
		return nil, nil
	}
	r, err := resource.Blank(family, name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), r); err != nil {
		return nil, fmt.Errorf("failed to decode recorded state: %w", err)
	}
	return r, nil
}

// newTable returns a writer that aligns tab separated columns.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
