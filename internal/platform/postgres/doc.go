// Package postgres implements store.TaskStore and queue.Queue on PostgreSQL
// and embeds the goose migrations that create their tables.
package postgres
