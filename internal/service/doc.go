// Package service implements the task API use cases on top of the store,
// cache and queue interfaces. Every operation receives the authenticated
// domain.Principal: admin-only actions are rejected up front by Authorize and
// per-task ownership is checked once the task is loaded.
//
// Expected conditions are reported with the sentinel errors in errors.go.
// Unexpected failures are wrapped in ServiceError; the api package maps both
// to HTTP status codes.
package service
