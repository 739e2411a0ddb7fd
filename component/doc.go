// Package component defines the lifecycle interface shared by suite
// environments, the control plane and database containers, plus a Registry
// that starts them in order and stops them in reverse.
//
// A Group starts independent components concurrently, which is how all suite
// environments of a run come up at once.
package component
