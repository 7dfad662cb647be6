package main

import (
	"testing"
)

func TestLoadPlanPrefersBuiltIn(t *testing.T) {
	p, err := loadPlan("storm-damage")
	if err != nil {
		t.Fatalf("loadPlan returned error: %v", err)
	}
	if len(p.Missions) != 1 {
		t.Fatalf("expected 1 mission, got %d", len(p.Missions))
	}

	p, err = loadPlan("../../internal/plan/testdata/simple.yaml")
	if err != nil {
		t.Fatalf("loadPlan from file returned error: %v", err)
	}
	if p.Name == "" {
		t.Fatalf("expected plan name from file")
	}

	if _, err := loadPlan("no-such-plan"); err == nil {
		t.Fatalf("expected error for unknown plan")
	}
}

func TestBuiltinNamesSorted(t *testing.T) {
	names := builtinNames()
	if len(names) < 3 {
		t.Fatalf("expected built-in plans, got %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
