package types

import "fmt"

// ObservationKind is the type discriminant for typed observations.
type ObservationKind string

// Observation kind constants.
const (
	ObservationText  ObservationKind = "text"
	ObservationTable ObservationKind = "table"
	ObservationImage ObservationKind = "image"
	ObservationJSON  ObservationKind = "json"
	ObservationMulti ObservationKind = "multi"
)

// Observation is a tagged union over the result shapes an execution can
// produce. Exactly the fields for the tagged kind are populated; a
// multi observation holds an ordered list of child items and its
// children are never themselves multi.
type Observation struct {
	// Kind is the union discriminator.
	Kind ObservationKind `json:"kind"`
	// Text is the plain-text content (kind "text").
	Text string `json:"text,omitempty"`
	// Columns is the ordered column header list (kind "table").
	Columns []string `json:"columns,omitempty"`
	// Rows is the row data, one slice per row (kind "table").
	Rows [][]any `json:"rows,omitempty"`
	// ImageRef is the workspace key of the rendered image (kind "image").
	ImageRef string `json:"image_ref,omitempty"`
	// Value is the structured payload (kind "json").
	Value map[string]any `json:"value,omitempty"`
	// Items is the ordered child list (kind "multi").
	Items []ObservationItem `json:"items,omitempty"`
}

// ObservationItem is one child of a multi observation. Each item
// carries a stable ordinal and an optional display name so consumers
// can order and label parts deterministically.
type ObservationItem struct {
	// Ordinal is the zero-based display position.
	Ordinal int `json:"ordinal"`
	// Name is an optional display label.
	Name string `json:"name,omitempty"`
	// Observation is the child content.
	Observation Observation `json:"observation"`
}

// TextObservation builds a text observation.
func TextObservation(text string) Observation {
	return Observation{Kind: ObservationText, Text: text}
}

// Validate checks structural invariants: a known kind, and no multi
// observation nested inside another multi.
func (o Observation) Validate() error {
	switch o.Kind {
	case ObservationText, ObservationTable, ObservationImage, ObservationJSON:
		return nil
	case ObservationMulti:
		for _, item := range o.Items {
			if item.Observation.Kind == ObservationMulti {
				return fmt.Errorf("multi observation item %d is itself multi", item.Ordinal)
			}
			if err := item.Observation.Validate(); err != nil {
				return fmt.Errorf("multi observation item %d: %w", item.Ordinal, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown observation kind %q", o.Kind)
	}
}

// IsZero reports whether the observation is the zero value.
func (o Observation) IsZero() bool {
	return o.Kind == ""
}
