// Package workflow implements Temporal workflow definitions for durable
// batch validation.
//
// Workflows should not contain any non-deterministic operations such as
// random number generation, system time access, or external I/O. Such
// operations are delegated to activities; the batch itself runs inside the
// service.Activities.ValidateBatch activity.
package workflow
