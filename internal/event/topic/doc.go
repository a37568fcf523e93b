// Package topic provides the topic names used to route events on the bus.
//
// # Topic Format
//
// Topics are lowercase kebab-case names:
//
//	stage-structure-changed
//	stage-data
//	stage-data-full
//	run-full-resolution
//	converter-finished
//
// # Patterns
//
// A subscription may use a pattern instead of a concrete topic:
//
//	converter-*    matches converter-started, converter-finished, converter-failed
//	stage-data-*   matches stage-data-full (but not stage-data)
//	*              matches every topic
//
// Patterns are matched against the topic of each published event at
// delivery time; concrete topics match only themselves.
package topic
