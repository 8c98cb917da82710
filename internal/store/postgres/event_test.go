package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

func TestEventStore_AppendAndLoad(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	events := []event.Event{
		{Scope: "s", Sequence: 1, Type: event.AuctionOpened, Data: json.RawMessage(`{"opened_by":"admin"}`)},
		{Scope: "s", Sequence: 2, Type: event.AuctionBidAccepted, Data: json.RawMessage(`{"amount":150}`)},
		{Scope: "other", Sequence: 1, Type: event.PlayersChanged, Data: json.RawMessage(`{}`)},
	}
	if err := repos.Events.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := repos.Events.Load(ctx, "s", 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Load returned %d events, want 2", len(loaded))
	}
	if loaded[0].Sequence != 1 || loaded[1].Sequence != 2 {
		t.Errorf("sequences = [%d, %d], want [1, 2]", loaded[0].Sequence, loaded[1].Sequence)
	}
	if loaded[1].Type != event.AuctionBidAccepted || loaded[1].ID == "" {
		t.Errorf("event[1] = %+v", loaded[1])
	}

	after, err := repos.Events.Load(ctx, "s", 1)
	if err != nil {
		t.Fatalf("Load after 1: %v", err)
	}
	if len(after) != 1 || after[0].Sequence != 2 {
		t.Errorf("Load after 1 = %+v", after)
	}

	last, err := repos.Events.LastSequence(ctx, "s")
	if err != nil {
		t.Fatalf("LastSequence: %v", err)
	}
	if last != 2 {
		t.Errorf("LastSequence = %d, want 2", last)
	}
	if last, _ := repos.Events.LastSequence(ctx, "empty"); last != 0 {
		t.Errorf("LastSequence(empty) = %d, want 0", last)
	}
}

func TestEventStore_DuplicateSequence(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	e := event.Event{Scope: "s", Sequence: 1, Type: event.AuctionOpened, Data: json.RawMessage(`{}`)}
	if err := repos.Events.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := repos.Events.Append(ctx, e); err == nil {
		t.Fatal("expected error appending a duplicate sequence")
	}
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repos.Tx.WithinTx(ctx, func(ctx context.Context, u store.Unit) error {
		p := &store.Player{Scope: "s", Name: "A", BasePrice: 10, CurrentPrice: 10, Status: store.StatusAvailable}
		if err := u.Players.Create(ctx, p); err != nil {
			return err
		}
		if err := u.Events.Append(ctx, event.Event{Scope: "s", Sequence: 1, Type: event.PlayersChanged, Data: json.RawMessage(`{}`)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx error = %v, want boom", err)
	}

	players, _ := repos.Players.List(ctx, "s")
	if len(players) != 0 {
		t.Errorf("players after rollback = %d, want 0", len(players))
	}
	if last, _ := repos.Events.LastSequence(ctx, "s"); last != 0 {
		t.Errorf("LastSequence after rollback = %d, want 0", last)
	}
}

func TestBidRepo_AppendAndList(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	b := &store.Bidder{Scope: "s", Name: "A", Budget: 100}
	if err := repos.Bidders.Create(ctx, b); err != nil {
		t.Fatalf("Create bidder: %v", err)
	}
	for _, amount := range []int{20, 30} {
		if err := repos.Bids.Append(ctx, &store.Bid{Scope: "s", PlayerID: "p1", BidderID: b.ID, Amount: amount}); err != nil {
			t.Fatalf("Append(%d): %v", amount, err)
		}
	}
	bids, err := repos.Bids.ListByPlayer(ctx, "p1")
	if err != nil {
		t.Fatalf("ListByPlayer: %v", err)
	}
	if len(bids) != 2 || bids[0].Amount != 20 || bids[1].Amount != 30 {
		t.Errorf("ListByPlayer = %+v", bids)
	}
}
