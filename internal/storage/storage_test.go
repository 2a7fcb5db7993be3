package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/price"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewMemory()}

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Logf("sqlite unavailable (cgo disabled?): %v", err)
	} else {
		t.Cleanup(func() { sqlite.Close() })
		out["sqlite"] = sqlite
	}

	if dsn := os.Getenv("POSTGRES_TEST_URL"); dsn != "" {
		pg, err := NewPostgresStore(context.Background(), dsn)
		if err != nil {
			t.Fatal(err)
		}
		if err := pg.Migrate(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { pg.Close() })
		out["postgres"] = pg
	}
	return out
}

// uniqueURL keeps tests independent when a shared Postgres database is used.
func uniqueURL(t *testing.T, suffix string) string {
	return fmt.Sprintf("https://shop.test/%s/%s", t.Name(), suffix)
}

func TestUpsertCompareAndSet(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			url := uniqueURL(t, "kettle")

			if _, err := s.Get(ctx, url); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store: %v", err)
			}

			first, err := s.Upsert(ctx, domain.PriceRecord{URL: url, SKU: "K1", Price: price.MustParse("100.00")})
			if err != nil {
				t.Fatal(err)
			}
			if first.Version != 1 {
				t.Errorf("version after insert = %d, want 1", first.Version)
			}

			// a second insert for the same url must not overwrite
			if _, err := s.Upsert(ctx, domain.PriceRecord{URL: url, Price: price.MustParse("1.00")}); !errors.Is(err, ErrConflict) {
				t.Fatalf("duplicate insert error = %v, want ErrConflict", err)
			}

			got, err := s.Get(ctx, url)
			if err != nil {
				t.Fatal(err)
			}
			if got.Price.String() != "100.00" || got.SKU != "K1" {
				t.Errorf("stored record = %+v", got)
			}

			got.Price = price.MustParse("90.00")
			second, err := s.Upsert(ctx, *got)
			if err != nil {
				t.Fatal(err)
			}
			if second.Version != 2 {
				t.Errorf("version after update = %d, want 2", second.Version)
			}

			// stale version
			stale := *got
			stale.Price = price.MustParse("80.00")
			if _, err := s.Upsert(ctx, stale); !errors.Is(err, ErrConflict) {
				t.Fatalf("stale update error = %v, want ErrConflict", err)
			}

			final, err := s.Get(ctx, url)
			if err != nil {
				t.Fatal(err)
			}
			if final.Price.String() != "90.00" || final.Version != 2 {
				t.Errorf("final record = %s v%d, want 90.00 v2", final.Price, final.Version)
			}

			hist, err := s.History(ctx, url, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(hist) != 2 || hist[0].Price.String() != "90.00" || hist[1].Price.String() != "100.00" {
				t.Errorf("history = %+v, want [90.00 100.00]", hist)
			}
		})
	}
}

func TestPricesRoundTripExactly(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			url := uniqueURL(t, "tv")
			if _, err := s.Upsert(ctx, domain.PriceRecord{URL: url, Price: price.MustParse("1.234,995 €")}); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get(ctx, url)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Price.Equal(price.MustParse("1234.995")) || got.Price.String() != "1234.995" {
				t.Errorf("price = %s, want 1234.995", got.Price)
			}
		})
	}
}

func TestConcurrentUpsertsForDifferentURLs(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 20)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Upsert(ctx, domain.PriceRecord{
						URL:   uniqueURL(t, fmt.Sprint(i)),
						Price: price.MustParse(fmt.Sprintf("%d.50", i+1)),
					})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatal(err)
				}
			}
			for i := 0; i < 20; i++ {
				rec, err := s.Get(ctx, uniqueURL(t, fmt.Sprint(i)))
				if err != nil {
					t.Fatal(err)
				}
				if want := fmt.Sprintf("%d.50", i+1); rec.Price.String() != want {
					t.Errorf("url %d price = %s, want %s", i, rec.Price, want)
				}
			}
		})
	}
}

func TestTargets(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a, err := s.SaveTarget(ctx, uniqueURL(t, "a"), "Kettle")
			if err != nil {
				t.Fatal(err)
			}
			b, err := s.SaveTarget(ctx, uniqueURL(t, "b"), "")
			if err != nil {
				t.Fatal(err)
			}

			// re-adding keeps the id and the name when none is given
			again, err := s.SaveTarget(ctx, uniqueURL(t, "a"), "")
			if err != nil {
				t.Fatal(err)
			}
			if again.ID != a.ID || again.Name != "Kettle" {
				t.Errorf("re-add = %+v, want id %d and name Kettle", again, a.ID)
			}
			renamed, err := s.SaveTarget(ctx, uniqueURL(t, "a"), "Steel kettle")
			if err != nil {
				t.Fatal(err)
			}
			if renamed.Name != "Steel kettle" {
				t.Errorf("rename = %q", renamed.Name)
			}

			list, err := s.ListTargets(ctx)
			if err != nil {
				t.Fatal(err)
			}
			idx := map[int64]int{}
			for i, tg := range list {
				idx[tg.ID] = i
			}
			if ia, ok := idx[a.ID]; !ok {
				t.Fatal("target a missing from list")
			} else if ib, ok := idx[b.ID]; !ok || ib < ia {
				t.Errorf("targets not in creation order: %+v", list)
			}

			if err := s.DeleteTarget(ctx, b.ID); err != nil {
				t.Fatal(err)
			}
			if err := s.DeleteTarget(ctx, b.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("second delete error = %v, want ErrNotFound", err)
			}
		})
	}
}
