package main

import (
	"reflect"
	"testing"

	"github.com/joshp123/gohome-electra/plugins/electrasmart"
)

func TestResolveNamedIDNormalizes(t *testing.T) {
	options := map[string]string{"Living Room": "aa:01", "aa:01": "aa:01", "Kids-Room": "aa:02"}

	for input, want := range map[string]string{"living_room": "aa:01", " kids room ": "aa:02", "AA:01": "aa:01"} {
		got, err := resolveNamedID("climate", input, options)
		if err != nil {
			t.Fatalf("resolve %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("resolve %q = %q, want %q", input, got, want)
		}
	}

	if _, err := resolveNamedID("climate", "attic", options); err == nil {
		t.Fatal("expected error for unknown name")
	}
}

func TestExtractJSONFlag(t *testing.T) {
	args, jsonOutput := extractJSONFlag([]string{"climates", "--json", "list"})
	if !jsonOutput {
		t.Fatal("expected json output")
	}
	if !reflect.DeepEqual(args, []string{"climates", "list"}) {
		t.Fatalf("args = %v", args)
	}
}

func TestClimateRow(t *testing.T) {
	room := 22.5
	row := climateRow(electrasmart.ClimateState{
		Name: "Living", UniqueID: "aa:01", HVACMode: "cool", FanMode: "low",
		SwingMode: "off", PresetMode: "None", TargetTemperature: 24,
		CurrentTemperature: &room, Available: true,
	})
	want := []string{"Living", "aa:01", "cool", "low", "off", "None", "24", "22.5", "true"}
	if !reflect.DeepEqual(row, want) {
		t.Fatalf("row = %v, want %v", row, want)
	}

	row = climateRow(electrasmart.ClimateState{Name: "Off"})
	if row[7] != "-" {
		t.Fatalf("room without sensor = %q", row[7])
	}
}
