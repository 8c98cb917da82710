package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/roster"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

type playerView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Position     string    `json:"position"`
	ImageURL     string    `json:"image_url,omitempty"`
	BasePrice    int       `json:"base_price"`
	CurrentPrice int       `json:"current_price"`
	Status       string    `json:"status"`
	Leader       string    `json:"leader,omitempty"`
	SoldTo       string    `json:"sold_to,omitempty"`
	SoldPrice    int       `json:"sold_price,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func newPlayerView(p *store.Player) playerView {
	v := playerView{
		ID:           p.ID,
		Name:         p.Name,
		Position:     p.Position,
		ImageURL:     p.ImageURL,
		BasePrice:    p.BasePrice,
		CurrentPrice: p.CurrentPrice,
		Status:       string(p.Status),
		Leader:       p.Leader(),
		SoldPrice:    p.SoldPrice,
		CreatedAt:    p.CreatedAt,
	}
	if p.SoldTo != nil {
		v.SoldTo = *p.SoldTo
	}
	return v
}

type bidView struct {
	ID        string    `json:"id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

type addPlayerRequest struct {
	Name      string `json:"name"`
	Position  string `json:"position"`
	BasePrice int    `json:"base_price"`
	ImageURL  string `json:"image_url"`
}

type registerBidderRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	TeamName   string `json:"team_name"`
	Budget     int    `json:"budget"`
}

type budgetRequest struct {
	Budget int `json:"budget"`
}

func (s *Server) listPlayers(w http.ResponseWriter, r *http.Request) {
	players, err := s.roster.ListPlayers(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]playerView, 0, len(players))
	for i := range players {
		out = append(out, newPlayerView(&players[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addPlayer(w http.ResponseWriter, r *http.Request) {
	var req addPlayerRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.roster.AddPlayer(r.Context(), chi.URLParam(r, "scope"), roster.NewPlayer{
		Name:      req.Name,
		Position:  req.Position,
		BasePrice: req.BasePrice,
		ImageURL:  req.ImageURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlayerView(p))
}

func (s *Server) removePlayer(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.RemovePlayer(r.Context(), chi.URLParam(r, "scope"), chi.URLParam(r, "playerID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) bidHistory(w http.ResponseWriter, r *http.Request) {
	bids, err := s.roster.BidHistory(r.Context(), chi.URLParam(r, "scope"), chi.URLParam(r, "playerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{ID: b.ID, BidderID: b.BidderID, Amount: b.Amount, CreatedAt: b.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listBidders(w http.ResponseWriter, r *http.Request) {
	bidders, err := s.roster.ListBidders(r.Context(), chi.URLParam(r, "scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]bidderView, 0, len(bidders))
	for i := range bidders {
		out = append(out, newBidderView(&bidders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) registerBidder(w http.ResponseWriter, r *http.Request) {
	var req registerBidderRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.roster.RegisterBidder(r.Context(), chi.URLParam(r, "scope"), roster.NewBidder{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		TeamName:   req.TeamName,
		Budget:     req.Budget,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBidderView(b))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	b, err := s.roster.GetBidder(r.Context(), chi.URLParam(r, "scope"), actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBidderView(b))
}

func (s *Server) setBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.roster.SetBudget(r.Context(), chi.URLParam(r, "scope"), chi.URLParam(r, "bidderID"), req.Budget)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBidderView(b))
}

func (s *Server) journal(w http.ResponseWriter, r *http.Request) {
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "since must be a non-negative integer", "bad_request")
			return
		}
		since = n
	}
	events, err := s.roster.Journal(r.Context(), chi.URLParam(r, "scope"), since)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
