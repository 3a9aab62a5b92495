// Package lock provides cross-process mutual exclusion over named
// resources via sentinel files.
//
// A sentinel is a small JSON record {created_at, pid, task_count?}
// written with O_EXCL next to the resource it guards. Contenders retry
// briefly until a caller-visible timeout. A sentinel whose age exceeds
// the staleness bound, or whose recorded holder is no longer alive, is
// forcibly cleared by the next acquirer; holders of long-lived locks
// counter the age bound by refreshing the sentinel as a lease.
package lock
