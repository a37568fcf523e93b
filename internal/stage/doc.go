// Package stage implements the consumers that sit on the stage registry.
//
// A Node binds one input stage and, unless it is a sink, one output stage
// it registers itself. It listens on the bus with main-thread delivery, so
// every transform runs when the host drains the main queue, and republishes
// its result into the output stage under the tier it received. A new node
// asks the registry to republish the structure so it can catch up with
// stages registered before it joined.
//
// The behaviour of a node comes from its kind:
//
//	open         source; decodes files on a background converter
//	invert       1 - v on the colour channels
//	monochrome   Rec.709 luminance
//	crop         relative rectangle
//	orientation  quarter turns and mirroring
//	framing      free rotation with bilinear sampling, then a crop
//	curve        tone curve from a Lua function
//	histogram    sink; 64-bin log-scaled histograms
//	export       sink; writes the full-resolution result to disk
//	viewer       sink; keeps the latest artifacts for inspection
package stage
