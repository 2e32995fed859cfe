package cluster

import (
	"testing"
)

func TestParseServiceID(t *testing.T) {
	id, err := ParseServiceID("main/helloworld")
	if err != nil {
		t.Fatal(err)
	}
	if id.Cluster != "main" || id.Service != "helloworld" {
		t.Errorf("unexpected parse: %#v", id)
	}
	if id.String() != "main/helloworld" {
		t.Errorf("%q does not stringify as itself; got %q", "main/helloworld", id)
	}
}

func TestParseServiceIDErrorCases(t *testing.T) {
	for _, s := range []string{
		"", "helloworld", "main/", "/helloworld", "main/api/helloworld",
	} {
		if _, err := ParseServiceID(s); err == nil {
			t.Errorf("expected parse failure for %q", s)
		}
	}
}

func TestServiceStatusStable(t *testing.T) {
	const rev = "arn:aws:ecs:eu-west-1:123456789012:task-definition/helloworld:8"
	for _, x := range []struct {
		name   string
		status ServiceStatus
		stable bool
	}{
		{
			"converged",
			ServiceStatus{PrimaryRevision: rev, RunningCount: 2, DesiredCount: 2, Deployments: 1},
			true,
		},
		{
			"running over desired after a scale-in",
			ServiceStatus{PrimaryRevision: rev, RunningCount: 3, DesiredCount: 2, Deployments: 1},
			true,
		},
		{
			"still starting tasks",
			ServiceStatus{PrimaryRevision: rev, RunningCount: 1, DesiredCount: 2, Deployments: 1},
			false,
		},
		{
			"old deployment still draining",
			ServiceStatus{PrimaryRevision: rev, RunningCount: 2, DesiredCount: 2, Deployments: 2},
			false,
		},
		{
			"primary is another revision",
			ServiceStatus{PrimaryRevision: "arn:aws:ecs:eu-west-1:123456789012:task-definition/helloworld:7", RunningCount: 2, DesiredCount: 2, Deployments: 1},
			false,
		},
	} {
		if got := x.status.Stable(rev); got != x.stable {
			t.Errorf("%s: expected Stable=%v, got %v", x.name, x.stable, got)
		}
	}
}
