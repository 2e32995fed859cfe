package environment

import (
	"testing"
)

func TestParse(t *testing.T) {
	for _, x := range []string{
		"staging", "production", "eu-west-1-canary", "team2",
	} {
		e, err := Parse(x)
		if err != nil {
			t.Errorf("Failed parsing %q: %s", x, err)
		}
		if e.String() != x {
			t.Errorf("%q does not stringify as itself; got %q", x, e)
		}
	}
}

func TestParseErrorCases(t *testing.T) {
	for _, x := range []string{
		"", "Staging", "env:prod", "has space", "-leading", "trailing-", "under_score",
	} {
		if _, err := Parse(x); err == nil {
			t.Errorf("Expected parse failure for %q", x)
		}
	}
}

func TestPartitionKey(t *testing.T) {
	e, err := Parse("staging")
	if err != nil {
		t.Fatal(err)
	}
	if key := e.PartitionKey(); key != "env:staging" {
		t.Errorf("Expected partition key %q, got %q", "env:staging", key)
	}
}
