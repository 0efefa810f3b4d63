// Package submission defines the durable record of a requested
// student-record change, its status state machine, and the transient
// work item shape that carries one or a batch of rows through the work
// queue. The submission record is the auditable source of truth for an
// outcome; work items exist only until acknowledged.
package submission
