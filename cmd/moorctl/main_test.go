package main

import (
	"bytes"
	"strings"
	"testing"
)

// execute runs the full command tree the way main does, so usage
// checks go through flag parsing and the persistent pre-run.
func execute(args ...string) error {
	cmd := newRoot().Command()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestUsageErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"deploy wants environment", []string{"deploy"}, "environment"},
		{"deploy wants source-ref", []string{"deploy", "-e", "staging"}, "--source-ref"},
		{"deploy wants build-id", []string{"deploy", "-e", "staging", "--source-ref", "abc123"}, "--build-id"},
		{"status wants environment", []string{"status"}, "environment"},
		{"history wants environment", []string{"history"}, "environment"},
		{"images wants environment", []string{"images"}, "environment"},
		{"save wants environment", []string{"save"}, "environment"},
		{"unlock wants environment", []string{"unlock"}, "environment"},
		{"unlock wants force", []string{"unlock", "-e", "staging"}, "--force"},
		{"status wants no args", []string{"status", "bogus"}, "no (non-flag) arguments"},
		{"bad log format", []string{"--log-format", "yaml", "version"}, "log format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := execute(tc.args...)
			if err == nil {
				t.Fatal("expected a usage error")
			}
			if _, ok := err.(usageError); !ok {
				t.Fatalf("expected a usage error, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %q", tc.want, err.Error())
			}
		})
	}
}

func TestMakeExample(t *testing.T) {
	got := makeExample("moorctl deploy", "moorctl status")
	want := "  moorctl deploy\n  moorctl status"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
