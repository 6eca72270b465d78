// Package node implements the top-level component of a participant: it ties
// the store, the policy verifier, the stage executor, and the agreement engine
// together, and drives the anti-entropy gossip loop that keeps every node's
// view converging.
package node
