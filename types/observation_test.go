package types //nolint:revive // types is a valid package name

import "testing"

func TestObservation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		obs     Observation
		wantErr bool
	}{
		{"text", TextObservation("hello"), false},
		{"table", Observation{Kind: ObservationTable, Columns: []string{"a"}, Rows: [][]any{{1}}}, false},
		{"image", Observation{Kind: ObservationImage, ImageRef: "sessions/s1/plot.png"}, false},
		{"json", Observation{Kind: ObservationJSON, Value: map[string]any{"rows": 3}}, false},
		{"empty kind", Observation{}, true},
		{"unknown kind", Observation{Kind: "blob"}, true},
		{
			"multi of leaves",
			Observation{Kind: ObservationMulti, Items: []ObservationItem{
				{Ordinal: 0, Name: "summary", Observation: TextObservation("done")},
				{Ordinal: 1, Observation: Observation{Kind: ObservationImage, ImageRef: "k"}},
			}},
			false,
		},
		{
			"nested multi rejected",
			Observation{Kind: ObservationMulti, Items: []ObservationItem{
				{Ordinal: 0, Observation: Observation{Kind: ObservationMulti}},
			}},
			true,
		},
		{
			"invalid child rejected",
			Observation{Kind: ObservationMulti, Items: []ObservationItem{
				{Ordinal: 0, Observation: Observation{Kind: "bogus"}},
			}},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.obs.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObservation_IsZero(t *testing.T) {
	if !(Observation{}).IsZero() {
		t.Error("zero observation should report IsZero")
	}
	if TextObservation("x").IsZero() {
		t.Error("text observation should not report IsZero")
	}
}
