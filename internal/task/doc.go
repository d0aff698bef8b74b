// Package task runs submitted tasks in the background and maintains the
// periodic jobs around them.
//
// The Executor drives a single delivery through the task state machine and
// reports an Outcome. The WorkerPool consumes the queue, runs the Executor
// and turns each Outcome into an ack or a delayed nack. The Sweeper and
// Aggregator are scheduled by the Scheduler: the first deletes old terminal
// tasks, the second counts tasks by status.
package task
