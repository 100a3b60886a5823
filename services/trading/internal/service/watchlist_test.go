package service

import (
	"context"
	"slices"
	"testing"

	"github.com/google/uuid"
)

func TestWatchlistToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	watchlists := NewWatchlists(h.store, nil)
	userID := uuid.New()

	list, err := watchlists.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get watchlist: %v", err)
	}
	if len(list.CoinIDs) != 0 {
		t.Fatalf("expected empty watchlist, got %v", list.CoinIDs)
	}

	eth := Coin{ID: "ethereum", Symbol: "eth", CurrentPrice: dec("2000")}
	for _, coin := range []Coin{btc("30000"), eth} {
		watched, err := watchlists.Toggle(ctx, userID, coin)
		if err != nil || !watched {
			t.Fatalf("add %s: watched=%v err=%v", coin.ID, watched, err)
		}
	}
	watched, err := watchlists.Toggle(ctx, userID, btc("30000"))
	if err != nil || watched {
		t.Fatalf("remove bitcoin: watched=%v err=%v", watched, err)
	}

	again, err := watchlists.Get(ctx, userID)
	if err != nil {
		t.Fatalf("get watchlist: %v", err)
	}
	if again.ID != list.ID {
		t.Fatalf("expected the same watchlist, got %s and %s", list.ID, again.ID)
	}
	if !slices.Equal(again.CoinIDs, []string{"ethereum"}) {
		t.Fatalf("expected [ethereum], got %v", again.CoinIDs)
	}

	other, err := watchlists.Get(ctx, uuid.New())
	if err != nil {
		t.Fatalf("get other watchlist: %v", err)
	}
	if len(other.CoinIDs) != 0 {
		t.Fatalf("expected other user's watchlist to be empty, got %v", other.CoinIDs)
	}
}

func TestWatchlistValidation(t *testing.T) {
	h := newHarness(t)
	watchlists := NewWatchlists(h.store, nil)

	if _, err := watchlists.Get(context.Background(), uuid.Nil); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := watchlists.Toggle(context.Background(), uuid.New(), Coin{}); KindOf(err) != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
