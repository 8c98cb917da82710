package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// auctionState is the response for auction reads and commands.
type auctionState struct {
	Scope    string                `json:"scope"`
	Sequence int64                 `json:"sequence"`
	Player   *event.PlayerSnapshot `json:"player"`
	// Watchers is the number of live stream subscribers for the scope.
	Watchers int `json:"watchers"`
	// Remaining is the number of players that can still be opened.
	Remaining int `json:"remaining"`
}

type commandResponse struct {
	Player event.PlayerSnapshot `json:"player"`
	Winner *bidderView          `json:"winner,omitempty"`
	Events []event.Event        `json:"events"`
}

func newCommandResponse(res *auction.Result) commandResponse {
	resp := commandResponse{Player: res.Player.Snapshot(), Events: res.Events}
	if res.Winner != nil {
		v := newBidderView(res.Winner)
		resp.Winner = &v
	}
	return resp
}

func (s *Server) getAuction(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Active(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	remaining, err := s.roster.Remaining(r.Context(), view.Scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	st := newAuctionState(view)
	st.Watchers = s.hub.Count(view.Scope)
	st.Remaining = remaining
	writeJSON(w, http.StatusOK, st)
}

func newAuctionState(v auction.View) auctionState {
	st := auctionState{Scope: v.Scope, Sequence: v.Sequence}
	if v.Active != nil {
		snap := v.Active.Snapshot()
		st.Player = &snap
	}
	return st
}

type playerRequest struct {
	PlayerID string `json:"player_id"`
}

type priceRequest struct {
	PlayerID string `json:"player_id"`
	Price    int    `json:"price"`
}

type bidRequest struct {
	PlayerID string `json:"player_id"`
	Amount   int    `json:"amount"`
}

func (s *Server) openPlayer(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, auction.OpenPlayer{Scope: chi.URLParam(r, "scope"), PlayerID: req.PlayerID, Actor: actor(r)})
}

func (s *Server) openRandomPlayer(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, auction.OpenRandomPlayer{Scope: chi.URLParam(r, "scope"), Actor: actor(r)})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, auction.SetPrice{Scope: chi.URLParam(r, "scope"), PlayerID: req.PlayerID, Price: req.Price, Actor: actor(r)})
}

func (s *Server) finalizeSold(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, auction.FinalizeSold{Scope: chi.URLParam(r, "scope"), PlayerID: req.PlayerID, Actor: actor(r)})
}

func (s *Server) finalizeUnsold(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, auction.FinalizeUnsold{Scope: chi.URLParam(r, "scope"), PlayerID: req.PlayerID, Actor: actor(r)})
}

// submitBid places a bid for the token's subject.
func (s *Server) submitBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.run(w, r, auction.SubmitBid{
		Scope:    chi.URLParam(r, "scope"),
		PlayerID: req.PlayerID,
		BidderID: actor(r),
		Amount:   req.Amount,
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd auction.Command) {
	res, err := s.engine.Execute(r.Context(), cmd)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCommandResponse(res))
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readJSON(w, r, dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "bad_request")
		return false
	}
	return true
}

func actor(r *http.Request) string {
	if c, ok := ClaimsFrom(r.Context()); ok {
		return c.Subject
	}
	return ""
}

type bidderView struct {
	ID         string   `json:"id"`
	ExternalID string   `json:"external_id,omitempty"`
	Name       string   `json:"name"`
	TeamName   string   `json:"team_name,omitempty"`
	Budget     int      `json:"budget"`
	Players    []string `json:"players"`
}

func newBidderView(b *store.Bidder) bidderView {
	players := b.Players
	if players == nil {
		players = []string{}
	}
	return bidderView{
		ID:         b.ID,
		ExternalID: b.ExternalID,
		Name:       b.Name,
		TeamName:   b.TeamName,
		Budget:     b.Budget,
		Players:    players,
	}
}
