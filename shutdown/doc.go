// Package shutdown sequences process cleanup. Long-running commands
// register their stop steps at startup; a signal or normal exit then
// drains them in reverse order under a deadline.
package shutdown
