package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzers(t *testing.T) {
	names := map[string]int{}
	for _, a := range analyzers() {
		names[a.Name]++
	}

	for _, want := range []string{"printf", "SA1000", "S1000", "ST1005", "bodyclose", "nilerr", "asciicheck", "noosexit"} {
		assert.Contains(t, names, want)
	}
	assert.NotContains(t, names, "exportloopref")
	for name, n := range names {
		assert.Equal(t, 1, n, "analyzer %s registered twice", name)
	}
}
