// Package component defines the core interfaces for lifecycle-managed
// infrastructure services in the pipeline.
//
// Components represent services that require initialization, startup,
// shutdown, and health monitoring. They are registered with a Registry
// that starts them in registration order and stops them in reverse.
package component
