package net

// Transport provides an interface for network transports to allow a node to
// exchange anti-entropy rounds with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Pull and Push send the corresponding half of an anti-entropy round to
	// the target node.

	Pull(target string, args *PullRequest, resp *PullResponse) error

	Push(target string, args *PushRequest, resp *PushResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
