package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/draft-auction/internal/store"
)

func seedPlayer(t *testing.T, repo store.PlayerRepository, scope, name string, status store.Status) *store.Player {
	t.Helper()
	p := &store.Player{Scope: scope, Name: name, BasePrice: 100, CurrentPrice: 100, Status: status}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return p
}

func TestPlayerRepo_CreateAndGet(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	p := seedPlayer(t, repos.Players, "ipl-2026", "Virat", store.StatusAvailable)
	if p.ID == "" {
		t.Fatal("expected ID to be set after Create")
	}

	got, err := repos.Players.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Virat" || got.BasePrice != 100 || got.Status != store.StatusAvailable {
		t.Errorf("Get = %+v", got)
	}
	if got.CurrentBidder != nil {
		t.Errorf("CurrentBidder = %v, want nil", *got.CurrentBidder)
	}

	if _, err := repos.Players.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPlayerRepo_SaveAndFindInAuction(t *testing.T) {
	repos, clk := newTestRepos(t)
	ctx := context.Background()

	b := &store.Bidder{Scope: "s", Name: "Alice", Budget: 1000}
	if err := repos.Bidders.Create(ctx, b); err != nil {
		t.Fatalf("Create bidder: %v", err)
	}
	p := seedPlayer(t, repos.Players, "s", "Rohit", store.StatusAvailable)

	if _, err := repos.Players.FindInAuction(ctx, "s"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("FindInAuction before open: %v, want ErrNotFound", err)
	}

	clk.Advance(time.Minute)
	p.Status = store.StatusInAuction
	p.CurrentPrice = 150
	p.CurrentBidder = &b.ID
	if err := repos.Players.Save(ctx, p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repos.Players.FindInAuction(ctx, "s")
	if err != nil {
		t.Fatalf("FindInAuction: %v", err)
	}
	if got.ID != p.ID || got.CurrentPrice != 150 || got.Leader() != b.ID {
		t.Errorf("FindInAuction = %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestPlayerRepo_OneInAuctionPerScope(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	seedPlayer(t, repos.Players, "s", "A", store.StatusInAuction)
	if err := repos.Players.Create(ctx, &store.Player{
		Scope: "s", Name: "B", BasePrice: 10, CurrentPrice: 10, Status: store.StatusInAuction,
	}); err == nil {
		t.Fatal("expected unique violation for a second in-auction player")
	}

	// Other scopes are independent.
	seedPlayer(t, repos.Players, "other", "C", store.StatusInAuction)
}

func TestPlayerRepo_PriceBelowBaseRejected(t *testing.T) {
	repos, _ := newTestRepos(t)
	p := seedPlayer(t, repos.Players, "s", "A", store.StatusAvailable)
	p.CurrentPrice = p.BasePrice - 1
	if err := repos.Players.Save(context.Background(), p); err == nil {
		t.Fatal("expected check violation for current_price < base_price")
	}
}

func TestPlayerRepo_PickRandomAvailableOrUnsold(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	first := func(int) int { return 0 }

	if _, err := repos.Players.PickRandomAvailableOrUnsold(ctx, "s", first); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty scope: %v, want ErrNotFound", err)
	}

	unsold := seedPlayer(t, repos.Players, "s", "Unsold", store.StatusUnsold)
	seedPlayer(t, repos.Players, "s", "Sold", store.StatusSold)

	got, err := repos.Players.PickRandomAvailableOrUnsold(ctx, "s", first)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != unsold.ID {
		t.Errorf("picked %s, want unsold fallback %s", got.Name, unsold.Name)
	}

	avail := seedPlayer(t, repos.Players, "s", "Available", store.StatusAvailable)
	got, err = repos.Players.PickRandomAvailableOrUnsold(ctx, "s", first)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != avail.ID {
		t.Errorf("picked %s, want available %s", got.Name, avail.Name)
	}

	n, err := repos.Players.CountAvailable(ctx, "s")
	if err != nil {
		t.Fatalf("CountAvailable: %v", err)
	}
	if n != 2 {
		t.Errorf("CountAvailable = %d, want 2", n)
	}
}

func TestPlayerRepo_ListAndDelete(t *testing.T) {
	repos, clk := newTestRepos(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		seedPlayer(t, repos.Players, "s", name, store.StatusAvailable)
		clk.Advance(time.Second)
	}
	seedPlayer(t, repos.Players, "other", "X", store.StatusAvailable)

	players, err := repos.Players.List(ctx, "s")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(players) != 3 || players[0].Name != "A" || players[2].Name != "C" {
		t.Fatalf("List = %v", players)
	}

	if err := repos.Players.Delete(ctx, players[1].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repos.Players.Delete(ctx, players[1].ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}
}
