// Package rmsync provides concurrent containers optimized for
// read-mostly workloads: a hash map (Map), a sorted map (OrderedMap),
// a growable list (Sequence) and a completion barrier (Barrier).
//
// Readers of the containers take no locks. Each container publishes
// its current state through an atomic pointer, and readers work on
// whatever state was published last. Writers are serialized by a
// single writer lock per container and publish their effect before
// returning, so a value written by a goroutine is visible to its own
// next read.
//
// Every writer method has a ...Context counterpart that gives up
// waiting for the writer lock once the context is done. A write that
// acquired the lock always runs to completion.
package rmsync
