package completion_test

import (
	"reflect"
	"testing"

	"github.com/TrailTally/TT-Backend/internal/completion"
)

func TestContinentFor(t *testing.T) {
	cases := map[string]string{
		"FR": "EU",
		"US": "NA",
		"JP": "AS",
		"BR": "SA",
		"AU": "OC",
		"ZZ": "",
	}
	for iso, want := range cases {
		if got := completion.ContinentFor(iso); got != want {
			t.Errorf("ContinentFor(%q) = %q, want %q", iso, got, want)
		}
	}
}

func TestGroupByContinent(t *testing.T) {
	countries := []completion.AdminAreaOut{
		{ISOCode: "FR", Level: 1},
		{ISOCode: "US", Level: 1},
		{ISOCode: "ZZ", Level: 1}, // unmapped, dropped
	}
	regions := []completion.AdminAreaOut{
		{ISOCode: "FR-IDF", Level: 2, ParentISOCode: "FR"},
		{ISOCode: "US-CA", Level: 2, ParentISOCode: "US"},
		{ISOCode: "US-NV", Level: 2, ParentISOCode: "US"},
	}

	got := completion.GroupByContinent(countries, regions)
	want := map[string][]string{
		"EU":        {"FR"},
		"NA":        {"US"},
		"Region_FR": {"FR-IDF"},
		"Region_US": {"US-CA", "US-NV"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GroupByContinent = %v, want %v", got, want)
	}
}
