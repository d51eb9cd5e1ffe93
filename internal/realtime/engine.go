package realtime

import (
	"context"
	"time"

	"tracking/internal/logger"
)

// Engine owns the shared tracking state: sessions and rooms, live snapshots,
// and the dispatcher that fans out over them.
type Engine struct {
	Hub        *Hub
	Store      *Store
	Dispatcher *Dispatcher

	log logger.Logger
}

// NewEngine creates an Engine whose snapshots expire after idleTTL without updates.
func NewEngine(idleTTL time.Duration, log logger.Logger, opts ...StoreOption) *Engine {
	hub := NewHub()
	return &Engine{
		Hub:        hub,
		Store:      NewStore(idleTTL, opts...),
		Dispatcher: NewDispatcher(hub, log),
		log:        log,
	}
}

// Run starts the idle-snapshot sweeper and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, sweepInterval time.Duration) {
	e.Store.Run(ctx, sweepInterval, e.log.Action("store_sweep"))
}

// Stats is the engine-wide view used by the stats endpoint.
type Stats struct {
	ActiveDeliveries int `json:"active_deliveries"`
	Counts
}

// Stats returns current counts.
func (e *Engine) Stats() Stats {
	return Stats{ActiveDeliveries: e.Store.Len(), Counts: e.Hub.Counts()}
}
