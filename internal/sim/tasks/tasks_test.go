package tasks

import "testing"

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(" " + string(k))
		if !ok || got != k {
			t.Fatalf("parse %q: got %q ok=%v", k, got, ok)
		}
	}
	if got, ok := ParseKind("self_destruct"); !ok || got != KindSelfDestruct {
		t.Fatalf("lower case: got %q ok=%v", got, ok)
	}
	if _, ok := ParseKind("TELEPORT"); ok {
		t.Fatalf("parsed an unknown kind")
	}
}

func TestTaskString(t *testing.T) {
	cases := map[string]Task{
		"DOCK Base block Dock": {Kind: KindDock, Target: "Base", Block: "Dock"},
		"FLY (1, 2, 3)":        {Kind: KindFly, Position: &Vec{1, 2, 3}},
		"WAYPOINT #7":          {Kind: KindWaypoint, Entity: 7},
		"STOP":                 {Kind: KindStop},
	}
	for want, task := range cases {
		if got := task.String(); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}
