// Package pipeline implements the stage registry: the shared table of
// stage slots that producers write artifacts into and consumers read from.
//
// Every stage has an integer id, assigned in increasing order and never
// reused within a process, a mutable label and two independent artifact
// slots: the preview tier for interactive work and the full-resolution tier
// for final output. Every mutation is announced on the event bus:
//
//	stage-structure-changed  Structure   register, rename, remove, republish
//	stage-data               StageData   preview publish
//	stage-data-full          StageData   full-resolution publish
//	run-full-resolution      RunFull     RunFullResolution
//
// Consumers hold only stage ids. Labels are cosmetic and may change at any
// time. Unknown ids are never an error: reads return nothing and mutations
// do nothing, since removals race with in-flight events by nature.
package pipeline
