package engine

import "github.com/openfroyo/netconverge/pkg/resource"

// Diff compares desired to current field by field over the fixed schema of
// the record family and returns every desired attribute whose value differs,
// in declaration order. Null counts as a value: a null desired attribute
// against a non-null current one is a change. A nil current record yields
// every desired attribute.
func Diff(desired, current resource.Record) Changeset {
	if desired == nil {
		return nil
	}

	want := desired.Attributes()

	var have []resource.Attribute
	if current != nil && current.Family() == desired.Family() {
		have = current.Attributes()
	}

	changes := make(Changeset, 0, len(want))
	for i, attr := range want {
		if i < len(have) && have[i].Name == attr.Name && sameValue(attr.Value, have[i].Value) {
			continue
		}
		changes = append(changes, attr)
	}
	return changes
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
