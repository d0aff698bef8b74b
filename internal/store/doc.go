// Package store defines the persistence contract for tasks: the TaskStore
// interface, the filter, ordering and conditional update types shared by
// every backend, and the errors those backends report.
package store
