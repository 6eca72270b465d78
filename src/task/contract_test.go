package task

import (
	"testing"
)

func TestContractValidate(t *testing.T) {
	good := &TaskContract{
		TaskID:          "0A1B2C3D",
		Stages:          []string{"stage1", "stage2", "stage3"},
		QuorumThreshold: 0.6,
	}
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}

	bad := []*TaskContract{
		{Stages: []string{"s"}, QuorumThreshold: 0.5},
		{TaskID: "T", QuorumThreshold: 0.5},
		{TaskID: "T", Stages: []string{"a", "a"}, QuorumThreshold: 0.5},
		{TaskID: "T", Stages: []string{"a"}, QuorumThreshold: 0},
		{TaskID: "T", Stages: []string{"a"}, QuorumThreshold: 1.5},
		{TaskID: "T", Stages: []string{"a"}, QuorumThreshold: 0.5,
			Policies: map[string]StagePolicy{"ghost": {}}},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("contract %d should not validate", i)
		}
	}
}

func TestContractStages(t *testing.T) {
	c := &TaskContract{
		TaskID:          "T",
		Stages:          []string{"stage1", "stage2", "stage3"},
		QuorumThreshold: 0.6,
	}

	if c.FirstStage() != "stage1" || c.FinalStage() != "stage3" {
		t.Fatalf("wrong first/final stage: %s/%s", c.FirstStage(), c.FinalStage())
	}

	next, ok := c.NextStage("stage1")
	if !ok || next != "stage2" {
		t.Fatalf("NextStage(stage1)=%s,%v", next, ok)
	}

	if _, ok := c.NextStage("stage3"); ok {
		t.Fatal("final stage should have no successor")
	}

	if _, ok := c.NextStage("ghost"); ok {
		t.Fatal("unknown stage should have no successor")
	}
}

func TestContractQuorum(t *testing.T) {
	c := &TaskContract{QuorumThreshold: 0.6}

	// 0.6 over 5 nodes is exactly 3 votes
	if q := c.Quorum(5); q != 3 {
		t.Fatalf("Quorum(5)=%d, want 3", q)
	}

	// fractions round up
	if q := c.Quorum(4); q != 3 {
		t.Fatalf("Quorum(4)=%d, want 3", q)
	}

	unanimity := &TaskContract{QuorumThreshold: 1.0}
	if q := unanimity.Quorum(5); q != 5 {
		t.Fatalf("Quorum(5)=%d, want 5", q)
	}
}

func TestHexBytesRoundTrip(t *testing.T) {
	c := &TaskContract{
		TaskID:          "T",
		Stages:          []string{"a"},
		QuorumThreshold: 0.5,
		Policies: map[string]StagePolicy{
			"a": {ForbiddenPattern: HexBytes{0xde, 0xad}},
		},
	}

	raw, err := c.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var decoded TaskContract
	if err := decoded.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	pattern := decoded.PolicyFor("a").ForbiddenPattern
	if len(pattern) != 2 || pattern[0] != 0xde || pattern[1] != 0xad {
		t.Fatalf("pattern corrupted across marshalling: %x", pattern)
	}
}
