// Package api exposes the task service over HTTP. It decodes and validates
// requests, resolves the authenticated principal placed in the context by
// the middleware package, calls service.TaskService and maps its errors to
// status codes without leaking internal details.
package api
