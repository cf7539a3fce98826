// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx     context.Context
	machine Machine
	db      *sql.DB
	chat    ChatStatus
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	return &Handlers{
		ctx:     ctx,
		machine: deps.Machine,
		db:      deps.DB,
		chat:    deps.Chat,
	}
}
