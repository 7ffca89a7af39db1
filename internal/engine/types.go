// Package engine implements the query and diff engines of spec.md §4.3-4.4:
// point get, the keys-around scan, query cursor pack production, and the
// two-mode diff. All four share the directional scan driver of §4.3.1
// (see scan.go).
package engine

// OptionalValue models a value that may or may not be present, distinct
// from an empty (tombstone) value.
type OptionalValue struct {
	Present bool
	Value   []byte
}

func Some(v []byte) OptionalValue { return OptionalValue{Present: true, Value: v} }
func None() OptionalValue          { return OptionalValue{} }

// QueryItem is one (CK, value) pair visible at a query's chosen generation.
type QueryItem struct {
	CK    []byte
	Value []byte
}

// KeyValueDiff describes a single key whose non-phantom value differs
// between two generations (spec.md §4.4). Intermediate is reserved by the
// type but always empty in this core (§9 Open Question 2).
type KeyValueDiff struct {
	CK           []byte
	From         OptionalValue
	To           OptionalValue
	Intermediate []OptionalValue
}
