package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.tickInterval())
	defer ticker.Stop()

	var pendingDisconnects []DisconnectRequest

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return ctx.Err()
		case <-w.stop:
			w.shutdown()
			return nil
		case req := <-w.connect:
			// Connects are answered right away so the handshake is not held
			// for a tick; the new link first sees traffic at the next flush.
			w.handleConnect(req)
		case req := <-w.disconnect:
			pendingDisconnects = append(pendingDisconnects, req)
		case <-ticker.C:
			w.step(pendingDisconnects)
			pendingDisconnects = pendingDisconnects[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// shutdown closes every link so transport writers exit.
func (w *World) shutdown() {
	for _, id := range w.conns.IDs() {
		w.dropConnection(id, "shutdown")
	}
}
