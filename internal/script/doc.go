// Package script runs small sandboxed Lua programs.
//
// Stages use it for user-defined tone curves: a script defines a global
// function that maps one sample to another, and the stage samples that
// function into a lookup table. Only the base, table, string and math
// libraries are opened; file, OS, debug and module loading are unavailable.
//
// A State is not safe for concurrent use by multiple goroutines without the
// internal mutex, which every exported method takes.
package script
