// Package rules implements the trigger-driven automation engine.
//
// A rule binds a trigger (a watched store diff, a wall-clock time, a
// repeat interval, or a named event) to a sequence of commands. The
// engine polls, diffs watched files against in-memory snapshots, and
// dispatches matching rules' commands through a tool registry. Rule
// conditions are interpreted by the expr package; stored rule text is
// never executed as code.
package rules
