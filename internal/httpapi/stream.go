package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/event"
)

// stream upgrades to a websocket carrying the scope's events. The client
// first receives a snapshot of the active player stamped with the last
// committed sequence, then every later event in order.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")

	// Subscribe before reading state so no event between the two is lost;
	// the client drops events the snapshot already covers.
	sub := s.hub.Subscribe(scope, s.buffer)
	view, err := s.engine.Active(r.Context(), scope)
	if err != nil {
		sub.Close()
		s.fail(w, r, err)
		return
	}
	data := event.SnapshotData{}
	if view.Active != nil {
		snap := view.Active.Snapshot()
		data.Player = &snap
	}
	snapshot, err := event.New(scope, event.Snapshot, data)
	if err != nil {
		sub.Close()
		s.fail(w, r, err)
		return
	}
	snapshot.Sequence = view.Sequence

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.logger.DebugContext(r.Context(), "websocket upgrade failed",
			slog.String("scope", scope),
			slog.Any("error", err),
		)
		return
	}

	logger := s.logger.With(slog.String("scope", scope), slog.String("subject", actor(r)))
	logger.DebugContext(r.Context(), "stream subscriber connected", slog.Int64("sequence", view.Sequence))
	broadcast.NewClient(conn, sub, logger).Serve(r.Context(), snapshot)
	logger.DebugContext(r.Context(), "stream subscriber disconnected")
}
