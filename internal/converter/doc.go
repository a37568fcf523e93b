// Package converter turns source files into artifacts on a background
// worker so the interactive loop never waits for a decode.
//
// A Converter owns one goroutine and an unbounded FIFO of source paths.
// Enqueue never blocks. For every item the worker reads the current
// Settings from its SettingsStore, so a settings change made while an item
// is queued affects that item. The worker moves through
//
//	Idle -> Converting -> Publishing -> Idle
//	Idle -> Converting -> Failed     -> Idle
//
// and announces each step on the bus when a publisher is configured.
// Failures are logged with the source path and never retried; the worker
// continues with the next item. A panicking decoder counts as a failure.
//
// Decoders are chosen by file extension. Standard formats are decoded in
// process; camera raw files are developed by an external dcraw-compatible
// binary that writes a TIFF to stdout.
package converter
