package model

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestMetricsCacheKey(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{name: "empty", labels: nil, want: ""},
		{name: "single", labels: []string{"desktop"}, want: "desktop"},
		{name: "sorted join", labels: []string{"mobile", "desktop"}, want: "desktop,mobile"},
		{name: "duplicates collapsed", labels: []string{"desktop", "desktop", "mobile"}, want: "desktop,mobile"},
		{name: "whitespace trimmed", labels: []string{" desktop ", "", "mobile"}, want: "desktop,mobile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MetricsCacheKey(tt.labels))
		})
	}
}

func TestMetricsCacheKeyOrderInsensitive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		labels := rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,8}`), 0, 6).Draw(t, "labels")

		shuffled := append([]string(nil), labels...)
		sort.Sort(sort.Reverse(sort.StringSlice(shuffled)))

		key := MetricsCacheKey(labels)
		if key != MetricsCacheKey(shuffled) {
			t.Fatalf("key not order-insensitive: %q", key)
		}

		// The key never carries empty segments.
		for _, part := range strings.Split(key, ",") {
			if key != "" && part == "" {
				t.Fatalf("empty segment in key %q", key)
			}
		}
	})
}

func TestUniqueCountsForCategory(t *testing.T) {
	u := UniqueCounts{Errors: 3, ContrastErrors: 1, Alerts: 2, Total: 6}
	assert.Equal(t, 3, u.ForCategory(CategoryError))
	assert.Equal(t, 1, u.ForCategory(CategoryContrast))
	assert.Equal(t, 2, u.ForCategory(CategoryAlert))
	assert.Equal(t, 0, u.ForCategory(CategoryFeature))
}

func TestSelectorHash(t *testing.T) {
	a := SelectorHash("#nav > a")
	b := SelectorHash("#nav > a")
	c := SelectorHash("#nav > a:first-child")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
