package store

import (
	"crypto/ecdsa"
	"testing"

	"github.com/hetu-project/pohb/src/clock"
	cm "github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/crypto/keys"
	"github.com/hetu-project/pohb/src/task"
)

func testChain(t *testing.T) (*ecdsa.PrivateKey, *task.Event, *task.Event, *task.Event) {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := keys.FromPublicKey(&key.PublicKey)

	genesis := task.NewEvent("T", "stage1", pub, "", []byte("in"), clock.VectorClock{1: 1})
	if err := genesis.Sign(key); err != nil {
		t.Fatal(err)
	}
	second := task.NewEvent("T", "stage2", pub, genesis.Hex(), []byte("mid"), clock.VectorClock{1: 1, 2: 1})
	if err := second.Sign(key); err != nil {
		t.Fatal(err)
	}
	third := task.NewEvent("T", "stage3", pub, second.Hex(), []byte("out"), clock.VectorClock{1: 1, 2: 1, 3: 1})
	if err := third.Sign(key); err != nil {
		t.Fatal(err)
	}

	return key, genesis, second, third
}

func TestAddEventIdempotent(t *testing.T) {
	s := NewInmemStore()
	_, genesis, _, _ := testChain(t)

	inserted, err := s.AddEvent(genesis)
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted event, got %d", len(inserted))
	}

	manifestBefore := s.Manifest()

	// second insert is a benign no-op
	inserted, err = s.AddEvent(genesis)
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 0 {
		t.Fatalf("duplicate insert should be a no-op, got %d inserted", len(inserted))
	}

	manifestAfter := s.Manifest()
	if len(manifestBefore) != len(manifestAfter) {
		t.Fatalf("manifest changed on duplicate insert: %d -> %d",
			len(manifestBefore), len(manifestAfter))
	}
}

func TestPendingDependency(t *testing.T) {
	s := NewInmemStore()
	_, genesis, second, third := testChain(t)

	// out-of-order arrival: stage3, then stage2, then stage1
	_, err := s.AddEvent(third)
	if !cm.IsStore(err, cm.PendingDependency) {
		t.Fatalf("expected PendingDependency, got %v", err)
	}

	_, err = s.AddEvent(second)
	if !cm.IsStore(err, cm.PendingDependency) {
		t.Fatalf("expected PendingDependency, got %v", err)
	}

	if s.PendingCount() != 2 {
		t.Fatalf("expected 2 pending events, got %d", s.PendingCount())
	}

	// the genesis arrival drains the whole chain, no re-gossip needed
	inserted, err := s.AddEvent(genesis)
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 3 {
		t.Fatalf("expected 3 inserted events, got %d", len(inserted))
	}

	if s.PendingCount() != 0 {
		t.Fatalf("pending buffer should be empty, got %d", s.PendingCount())
	}

	events := s.TaskEvents("T")
	if len(events) != 3 {
		t.Fatalf("expected 3 task events, got %d", len(events))
	}
	if events[0].Body.Stage != "stage1" ||
		events[1].Body.Stage != "stage2" ||
		events[2].Body.Stage != "stage3" {
		t.Fatalf("wrong causal order: %s %s %s",
			events[0].Body.Stage, events[1].Body.Stage, events[2].Body.Stage)
	}
}

func TestDuplicatePendingEvent(t *testing.T) {
	s := NewInmemStore()
	_, _, second, _ := testChain(t)

	s.AddEvent(second)
	s.AddEvent(second)

	if s.PendingCount() != 1 {
		t.Fatalf("duplicate pending event should be parked once, got %d", s.PendingCount())
	}
}

func TestDiff(t *testing.T) {
	s := NewInmemStore()
	key, genesis, second, _ := testChain(t)

	s.AddEvent(genesis)
	s.AddEvent(second)

	vote := task.NewVote("T", genesis.Body.Creator, second.Hex())
	if err := vote.Sign(key); err != nil {
		t.Fatal(err)
	}
	s.AddVote(vote)

	// peer knows nothing
	events, votes := s.Diff(nil)
	if len(events) != 2 || len(votes) != 1 {
		t.Fatalf("expected 2 events and 1 vote, got %d/%d", len(events), len(votes))
	}

	// events come parent-first
	if events[0].Hex() != genesis.Hex() {
		t.Fatal("diff should ship the genesis event first")
	}

	// peer knows the genesis event and the vote
	events, votes = s.Diff([]string{genesis.Hex(), vote.Hex()})
	if len(events) != 1 || len(votes) != 0 {
		t.Fatalf("expected 1 event and 0 votes, got %d/%d", len(events), len(votes))
	}
	if events[0].Hex() != second.Hex() {
		t.Fatal("diff returned the wrong event")
	}
}

func TestVotes(t *testing.T) {
	s := NewInmemStore()
	key, genesis, _, _ := testChain(t)

	vote := task.NewVote("T", genesis.Body.Creator, genesis.Hex())
	if err := vote.Sign(key); err != nil {
		t.Fatal(err)
	}

	fresh, err := s.AddVote(vote)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("first insert should be fresh")
	}

	fresh, err = s.AddVote(vote)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Fatal("duplicate vote should be a no-op")
	}

	if len(s.TaskVotes("T")) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(s.TaskVotes("T")))
	}
}

func TestCorruptedEventSignatureRefused(t *testing.T) {
	s := NewInmemStore()
	_, genesis, _, _ := testChain(t)

	// a relayed copy with a corrupted signature carries the same body, so it
	// has the same digest as the honest event
	corrupted := &task.Event{
		Body:      genesis.Body,
		Signature: "deadbeef",
	}

	_, err := s.AddEvent(corrupted)
	if !cm.IsStore(err, cm.InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
	if s.HasEvent(genesis.Hex()) {
		t.Fatal("corrupted copy must not be stored")
	}

	// the honest copy must not be treated as a duplicate of the refused one
	inserted, err := s.AddEvent(genesis)
	if err != nil {
		t.Fatal(err)
	}
	if len(inserted) != 1 {
		t.Fatal("honest copy should be stored after the corrupted one was refused")
	}
}

func TestCorruptedVoteSignatureRefused(t *testing.T) {
	s := NewInmemStore()
	key, genesis, _, _ := testChain(t)

	vote := task.NewVote("T", genesis.Body.Creator, genesis.Hex())
	if err := vote.Sign(key); err != nil {
		t.Fatal(err)
	}

	corrupted := task.NewVote("T", genesis.Body.Creator, genesis.Hex())
	corrupted.Signature = "deadbeef"

	_, err := s.AddVote(corrupted)
	if !cm.IsStore(err, cm.InvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}

	// the honest vote still lands even though the corrupted copy with the
	// same digest arrived first
	fresh, err := s.AddVote(vote)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("honest vote should be fresh after the corrupted copy was refused")
	}
	if len(s.TaskVotes("T")) != 1 {
		t.Fatalf("expected 1 stored vote, got %d", len(s.TaskVotes("T")))
	}
}

func TestRecordWriteOnce(t *testing.T) {
	s := NewInmemStore()

	record := &task.ConsensusRecord{TaskID: "T", FinalDigest: "0XAA"}
	if err := s.SetRecord(record); err != nil {
		t.Fatal(err)
	}

	err := s.SetRecord(&task.ConsensusRecord{TaskID: "T", FinalDigest: "0XBB"})
	if !cm.IsStore(err, cm.RecordExists) {
		t.Fatalf("expected RecordExists, got %v", err)
	}

	got, err := s.GetRecord("T")
	if err != nil {
		t.Fatal(err)
	}
	if got.FinalDigest != "0XAA" {
		t.Fatal("record should be immutable after first write")
	}
}
