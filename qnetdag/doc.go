// Package qnetdag (Quorumnet NETwork Directed Acyclic Graph)
// contains types for determining directional flow of network traffic.
//
// Types in this package are focused on int values,
// so that they remain decoupled from any concrete implementations
// of validators, network addresses, and so on.
// Callers may simply use the int values as indices into slices
// of the actual type needing the directed graph.
//
// This package currently contains the [Ring] type,
// which maps each position in an ordered set to a small set of
// downstream positions at power-of-two strides, such that repeated
// relay from any single position reaches every position within
// O(log n) hops.
package qnetdag
