package auction_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// TestProperties_RandomCommandStreams drives the engine with random command
// sequences and checks the single-active, monotonic-price, budget and
// winner invariants after every step.
func TestProperties_RandomCommandStreams(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()

		var players []*store.Player
		for i := range rapid.IntRange(1, 4).Draw(rt, "players") {
			players = append(players, f.player(t, fmt.Sprintf("P%d", i), rapid.IntRange(1, 50).Draw(rt, "base")))
		}
		var bidders []*store.Bidder
		for i := range rapid.IntRange(1, 4).Draw(rt, "bidders") {
			bidders = append(bidders, f.bidder(t, fmt.Sprintf("B%d", i), rapid.IntRange(0, 300).Draw(rt, "budget")))
		}
		initialTotal := 0
		for _, b := range bidders {
			initialTotal += b.Budget
		}

		roundBids := []int{}
		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for range steps {
			p := rapid.SampledFrom(players).Draw(rt, "player")
			b := rapid.SampledFrom(bidders).Draw(rt, "bidder")
			before, err := f.m.Active(ctx, testScope)
			if err != nil {
				rt.Fatalf("Active: %v", err)
			}

			switch op := rapid.IntRange(0, 9).Draw(rt, "op"); {
			case op < 2:
				if _, err := f.m.OpenPlayer(ctx, testScope, p.ID, "admin"); err == nil {
					roundBids = roundBids[:0]
				} else if before.Active == nil && !errors.Is(err, auction.ErrNotEligible) {
					rt.Fatalf("open from idle: %v", err)
				}
			case op < 7:
				amount := rapid.IntRange(1, 350).Draw(rt, "amount")
				_, err := f.m.SubmitBid(ctx, testScope, p.ID, b.ID, amount)
				after, _ := f.m.Active(ctx, testScope)
				if err == nil {
					roundBids = append(roundBids, amount)
					continue
				}
				if !auction.Rejected(err) {
					rt.Fatalf("bid failed: %v", err)
				}
				if after.Sequence != before.Sequence {
					rt.Fatalf("rejected bid (%v) advanced sequence", err)
				}
				if before.Active != nil && (after.Active.CurrentPrice != before.Active.CurrentPrice || after.Active.Leader() != before.Active.Leader()) {
					rt.Fatalf("rejected bid (%v) changed price/leader", err)
				}
			case op < 8:
				if before.Active != nil {
					price := rapid.IntRange(before.Active.BasePrice, before.Active.BasePrice+100).Draw(rt, "price")
					if _, err := f.m.SetPrice(ctx, testScope, before.Active.ID, price, "admin"); err != nil {
						rt.Fatalf("set price: %v", err)
					}
					roundBids = roundBids[:0]
				}
			case op < 9:
				if before.Active != nil {
					res, err := f.m.FinalizeSold(ctx, testScope, before.Active.ID, "admin")
					if before.Active.Leader() == "" {
						if !errors.Is(err, auction.ErrInvalidState) {
							rt.Fatalf("sold without leader: %v", err)
						}
						continue
					}
					if err != nil {
						rt.Fatalf("sold: %v", err)
					}
					if res.Winner.ID != before.Active.Leader() || res.Player.SoldPrice != before.Active.CurrentPrice {
						rt.Fatalf("sale %+v does not match leader %s at %d", res.Player, before.Active.Leader(), before.Active.CurrentPrice)
					}
				}
			default:
				if before.Active != nil {
					if _, err := f.m.FinalizeUnsold(ctx, testScope, before.Active.ID, "admin"); err != nil {
						rt.Fatalf("unsold: %v", err)
					}
				}
			}

			for i := 1; i < len(roundBids); i++ {
				if roundBids[i] <= roundBids[i-1] {
					rt.Fatalf("admitted bids not increasing: %v", roundBids)
				}
			}
			checkStoreInvariants(rt, f, initialTotal)
		}

		var lastSeq int64
		for _, e := range f.pub.Events() {
			if e.Sequence != lastSeq+1 {
				rt.Fatalf("published sequence %d after %d", e.Sequence, lastSeq)
			}
			lastSeq = e.Sequence
		}
	})
}

func checkStoreInvariants(rt *rapid.T, f *fixture, initialTotal int) {
	ctx := context.Background()
	players, err := f.repos.Players.List(ctx, testScope)
	if err != nil {
		rt.Fatalf("List players: %v", err)
	}
	bidders, err := f.repos.Bidders.List(ctx, testScope)
	if err != nil {
		rt.Fatalf("List bidders: %v", err)
	}

	inAuction := 0
	spent := 0
	owners := map[string]string{}
	for _, p := range players {
		if p.CurrentPrice < p.BasePrice {
			rt.Fatalf("player %s price %d below base %d", p.Name, p.CurrentPrice, p.BasePrice)
		}
		if p.CurrentBidder != nil && p.Status != store.StatusInAuction {
			rt.Fatalf("player %s has leader with status %s", p.Name, p.Status)
		}
		switch p.Status {
		case store.StatusInAuction:
			inAuction++
		case store.StatusSold:
			if p.SoldTo == nil || p.SoldPrice == 0 {
				rt.Fatalf("sold player %s without winner/price", p.Name)
			}
			spent += p.SoldPrice
			owners[p.ID] = *p.SoldTo
		default:
			if p.SoldTo != nil || p.SoldPrice != 0 {
				rt.Fatalf("player %s with status %s has sale fields", p.Name, p.Status)
			}
		}
	}
	if inAuction > 1 {
		rt.Fatalf("%d players in auction", inAuction)
	}

	remaining := 0
	for _, b := range bidders {
		if b.Budget < 0 {
			rt.Fatalf("bidder %s budget %d", b.Name, b.Budget)
		}
		remaining += b.Budget
		for _, pid := range b.Players {
			if owners[pid] != b.ID {
				rt.Fatalf("bidder %s lists %s owned by %q", b.Name, pid, owners[pid])
			}
			delete(owners, pid)
		}
	}
	if len(owners) != 0 {
		rt.Fatalf("sold players missing from won sets: %v", owners)
	}
	if remaining+spent != initialTotal {
		rt.Fatalf("budgets %d + spent %d != initial %d", remaining, spent, initialTotal)
	}
}

// The journal is the same stream that was published.
func TestProperties_JournalMatchesPublished(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		ctx := context.Background()
		p := f.player(t, "P", 10)
		b := f.bidder(t, "B", 1000)
		if _, err := f.m.OpenPlayer(ctx, testScope, p.ID, "admin"); err != nil {
			rt.Fatalf("open: %v", err)
		}
		for _, amount := range rapid.SliceOfN(rapid.IntRange(1, 1000), 1, 30).Draw(rt, "amounts") {
			_, _ = f.m.SubmitBid(ctx, testScope, p.ID, b.ID, amount)
		}

		journal, err := f.repos.Events.Load(ctx, testScope, 0)
		if err != nil {
			rt.Fatalf("Load: %v", err)
		}
		published := f.pub.Events()
		if len(journal) != len(published) {
			rt.Fatalf("journal %d events, published %d", len(journal), len(published))
		}
		for i := range journal {
			if journal[i].ID != published[i].ID || journal[i].Sequence != published[i].Sequence {
				rt.Fatalf("event %d differs: %+v vs %+v", i, journal[i], published[i])
			}
			if journal[i].Type == event.AuctionBidAccepted && i > 0 {
				var cur, prev event.BidAcceptedData
				_ = journal[i].Decode(&cur)
				if journal[i-1].Type == event.AuctionBidAccepted {
					_ = journal[i-1].Decode(&prev)
					if cur.Amount <= prev.Amount {
						rt.Fatalf("journal amounts not increasing: %d then %d", prev.Amount, cur.Amount)
					}
				}
			}
		}
	})
}
