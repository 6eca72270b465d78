package net

import (
	"reflect"
	"testing"
	"time"

	"github.com/hetu-project/pohb/src/clock"
	"github.com/hetu-project/pohb/src/common"
	"github.com/hetu-project/pohb/src/task"

	"github.com/sirupsen/logrus"
)

func testPullResponse() *PullResponse {
	ev := task.NewEvent("T", "stage1", []byte("creator"), "", []byte("payload"),
		clock.VectorClock{1: 1})
	vote := task.NewVote("T", []byte("voter"), ev.Hex())

	return &PullResponse{
		FromID: 2,
		Events: []*task.Event{ev},
		Votes:  []*task.Vote{vote},
		Known:  []string{ev.Hex(), vote.Hex()},
	}
}

func TestNetworkTransportPull(t *testing.T) {
	logger := common.NewTestEntry(t, logrus.ErrorLevel)

	trans1, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans1.Close()
	go trans1.Listen()

	want := testPullResponse()

	go func() {
		select {
		case rpc := <-trans1.Consumer():
			req, ok := rpc.Command.(*PullRequest)
			if !ok {
				rpc.Respond(nil, ErrTransportShutdown)
				return
			}
			if req.FromID != 1 || len(req.Known) != 2 {
				rpc.Respond(nil, ErrTransportShutdown)
				return
			}
			rpc.Respond(want, nil)
		case <-time.After(5 * time.Second):
			return
		}
	}()

	trans2, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans2.Close()
	go trans2.Listen()

	var resp PullResponse
	args := &PullRequest{FromID: 1, Known: []string{"a", "b"}}
	if err := trans2.Pull(trans1.LocalAddr(), args, &resp); err != nil {
		t.Fatal(err)
	}

	if resp.FromID != want.FromID {
		t.Fatalf("FromID: got %d, want %d", resp.FromID, want.FromID)
	}
	if len(resp.Events) != 1 || resp.Events[0].Hex() != want.Events[0].Hex() {
		t.Fatal("events were mangled on the wire")
	}
	if len(resp.Votes) != 1 || resp.Votes[0].Hex() != want.Votes[0].Hex() {
		t.Fatal("votes were mangled on the wire")
	}
	if !reflect.DeepEqual(resp.Known, want.Known) {
		t.Fatal("manifest was mangled on the wire")
	}
	if !reflect.DeepEqual(resp.Events[0].Body.Clock, want.Events[0].Body.Clock) {
		t.Fatal("clock was mangled on the wire")
	}
}

func TestNetworkTransportPush(t *testing.T) {
	logger := common.NewTestEntry(t, logrus.ErrorLevel)

	trans1, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans1.Close()
	go trans1.Listen()

	go func() {
		select {
		case rpc := <-trans1.Consumer():
			req, ok := rpc.Command.(*PushRequest)
			if !ok || len(req.Events) != 1 {
				rpc.Respond(nil, ErrTransportShutdown)
				return
			}
			rpc.Respond(&PushResponse{FromID: 2, Success: true}, nil)
		case <-time.After(5 * time.Second):
			return
		}
	}()

	trans2, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans2.Close()
	go trans2.Listen()

	ev := task.NewEvent("T", "stage1", []byte("creator"), "", []byte("payload"),
		clock.VectorClock{1: 1})

	var resp PushResponse
	args := &PushRequest{FromID: 1, Events: []*task.Event{ev}}
	if err := trans2.Push(trans1.LocalAddr(), args, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatal("push should have succeeded")
	}
}

func TestInmemTransport(t *testing.T) {
	addr1, trans1 := NewInmemTransport("")
	addr2, trans2 := NewInmemTransport("")

	trans1.Connect(addr2, trans2)
	trans2.Connect(addr1, trans1)

	want := testPullResponse()

	go func() {
		rpc := <-trans2.Consumer()
		rpc.Respond(want, nil)
	}()

	var resp PullResponse
	if err := trans1.Pull(addr2, &PullRequest{FromID: 1}, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.FromID != want.FromID || len(resp.Events) != 1 {
		t.Fatal("pull response was mangled")
	}

	// unknown target
	if err := trans1.Pull("nowhere", &PullRequest{FromID: 1}, &resp); err == nil {
		t.Fatal("pull to unknown target should fail")
	}
}
