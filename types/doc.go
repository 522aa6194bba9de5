// Package types provides the common types shared by the task runtime and its
// callers including Result, Size and Status.
//
// Status
//
// Status defines the task termination status including
//  Normal
//  Runtime Error (Nonzero Exit Status / Killed / Fault)
//  Unauthorized Access (Disallowed Syscall)
//  Task Runner Error
//
// Size
//
// Size defines size in bytes, underlying type is uint64 so it
// is effective to store up to EiB of size
//
// Result
//
// Result defines task termination result including
// Status, ExitStatus, Detailed Error, peak Memory, leaked resources,
// SetupTime and RunningTime (in real clock)
package types
