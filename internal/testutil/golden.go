// Package testutil provides testing utilities.
package testutil

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir is where golden files live, relative to the package under test.
const GoldenDir = "testdata/golden"

// Golden compares output against testdata/golden/<name>.golden.
// Run the tests with -update to rewrite the golden files.
func Golden(t *testing.T, name string, got []byte) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, got)
}

// GoldenString is like Golden but takes a string.
func GoldenString(t *testing.T, name string, got string) {
	t.Helper()
	Golden(t, name, []byte(got))
}
