// Package peers defines the concept of a peer and manages the static set of
// participants a node gossips with.
package peers
