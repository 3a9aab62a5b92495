// Package spawn coordinates worker process launches. A single lock
// sentinel is both the mutual exclusion and the record of the live
// worker: its pid, start time, and the task count it was handed.
package spawn
