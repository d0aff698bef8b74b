package postgres

import "embed"

// Migrations holds the goose SQL migrations for the tasks schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that goose reads from.
const MigrationsDir = "migrations"
