package utils_test

import (
	"reflect"
	"testing"

	"github.com/TrailTally/TT-Backend/internal/utils"
)

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"US-CA, US-NV,US-OR", []string{"US-CA", "US-NV", "US-OR"}},
		{"  FR-IDF  ", []string{"FR-IDF"}},
		{"a,,b, ,c", []string{"a", "b", "c"}},
		{"", nil},
		{"   ", nil},
	}

	for _, c := range cases {
		got := utils.SplitList(c.in, ",")
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("SplitList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
