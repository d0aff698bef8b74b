// Package domain holds the task entity, its status lifecycle and the
// Principal that requests act on behalf of. It has no infrastructure
// dependencies.
package domain
