// Package events publishes cluster lifecycle events (state changes, node
// starts and stops, pool creation) to in-process subscribers such as tests
// and the CLI.
package events
