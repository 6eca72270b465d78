package net

import (
	"github.com/hetu-project/pohb/src/task"
)

// PullRequest corresponds to the pull half of an anti-entropy round. The
// requester sends the digest manifest of everything it holds; the responder
// answers with the items the requester is missing.
type PullRequest struct {
	FromID uint32
	Known  []string
}

// PullResponse returns the events and votes absent from the requester's
// manifest, along with the responder's own manifest so the requester can
// reciprocate with a push.
type PullResponse struct {
	FromID uint32
	Events []*task.Event
	Votes  []*task.Vote
	Known  []string
}

// PushRequest corresponds to the push half of an anti-entropy round: items
// the sender believes the target is missing.
type PushRequest struct {
	FromID uint32
	Events []*task.Event
	Votes  []*task.Vote
}

// PushResponse indicates the success or failure of a PushRequest.
type PushResponse struct {
	FromID  uint32
	Success bool
}
