// Package net implements the point-to-point transport that carries
// anti-entropy rounds between nodes.
package net
