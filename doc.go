// Package gatekit provides a composable workflow lifecycle and resilience
// engine for Go. It coordinates long-running, failure-prone business
// workflows: an external trigger starts a multi-step process, the process
// tracks its own lifecycle through a finite state machine, a deterministic
// rule engine decides whether the produced artifact may be released without
// human review, and a bounded-backoff retry coordinator recovers from
// partial failures without duplicating work.
//
// Gatekit is designed as a library, not a service. Import it, configure a
// store, register retry handlers, and inject your task runner.
//
// # Quick Start
//
//	c, err := gatekit.New(
//	    gatekit.WithStore(pgStore),
//	    gatekit.WithConcurrency(10),
//	)
//
// # Architecture
//
// Gatekit follows a composable store pattern where each subsystem
// (workflow, retry, approval, cluster) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package gatekit
