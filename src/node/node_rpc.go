package node

import (
	"fmt"

	"github.com/hetu-project/pohb/src/net"

	"github.com/sirupsen/logrus"
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.PullRequest:
		n.processPullRequest(rpc, cmd)
	case *net.PushRequest:
		n.processPushRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processPullRequest(rpc net.RPC, cmd *net.PullRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"known":   len(cmd.Known),
	}).Debug("process PullRequest")

	n.coreLock.Lock()
	events, votes := n.core.Diff(cmd.Known)
	manifest := n.core.Manifest()
	n.coreLock.Unlock()

	resp := &net.PullResponse{
		FromID: n.validator.ID(),
		Events: events,
		Votes:  votes,
		Known:  manifest,
	}

	n.logger.WithFields(logrus.Fields{
		"events": len(resp.Events),
		"votes":  len(resp.Votes),
	}).Debug("Responding to PullRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processPushRequest(rpc net.RPC, cmd *net.PushRequest) {
	n.logger.WithFields(logrus.Fields{
		"from_id": cmd.FromID,
		"events":  len(cmd.Events),
		"votes":   len(cmd.Votes),
	}).Debug("process PushRequest")

	var respErr error

	success := true

	n.coreLock.Lock()
	if err := n.core.AddEvents(cmd.Events); err != nil {
		success = false
		respErr = err
	} else if err := n.core.AddVotes(cmd.Votes); err != nil {
		success = false
		respErr = err
	}
	n.coreLock.Unlock()

	resp := &net.PushResponse{
		FromID:  n.validator.ID(),
		Success: success,
	}

	rpc.Respond(resp, respErr)
}
