package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/models"
	"github.com/alfan-chat/relay/pkg/logger"
)

func key(i int) Key {
	return Key{Persona: "ceria", Text: fmt.Sprintf("pesan %d", i)}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	const n = 30
	l := NewLRU(n)
	for i := 0; i < n; i++ {
		l.Put(key(i), fmt.Sprintf("balasan %d", i))
	}

	// touch 0 so 1 becomes the oldest
	if _, ok := l.Get(key(0)); !ok {
		t.Fatal("expected key 0 to be cached")
	}
	l.Put(key(n), "baru")

	if l.Len() != n {
		t.Fatalf("expected %d entries, got %d", n, l.Len())
	}
	if _, ok := l.Get(key(1)); ok {
		t.Error("least recently used entry should have been evicted")
	}
	for _, i := range []int{0, 2, n} {
		if _, ok := l.Get(key(i)); !ok {
			t.Errorf("expected key %d to survive", i)
		}
	}
}

func TestLRU_PutIgnoresEmptyText(t *testing.T) {
	l := NewLRU(2)
	l.Put(key(1), "")
	if l.Len() != 0 {
		t.Fatalf("empty text must not be cached")
	}
}

func TestLRU_PutRefreshesExisting(t *testing.T) {
	l := NewLRU(2)
	l.Put(key(1), "a")
	l.Put(key(2), "b")
	l.Put(key(1), "a2")
	l.Put(key(3), "c")

	if got, ok := l.Get(key(1)); !ok || got != "a2" {
		t.Errorf("expected refreshed entry, got %q %v", got, ok)
	}
	if _, ok := l.Get(key(2)); ok {
		t.Error("key 2 should have been evicted")
	}
}

func TestLRU_StatsAndClear(t *testing.T) {
	l := NewLRU(0)
	l.Put(key(1), "a")
	l.Get(key(1))
	l.Get(key(2))
	l.Clear()

	stats := l.Stats()
	if stats.Entries != 0 || stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestLRU_ConcurrentAccess(t *testing.T) {
	l := NewLRU(10)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l.Put(key(g*1000+i), "x")
				l.Get(key(g*1000 + i/2))
			}
		}(g)
	}
	wg.Wait()
	if l.Len() != 10 {
		t.Errorf("expected bound of 10, got %d", l.Len())
	}
}

func TestNewKey_Sensitivity(t *testing.T) {
	a := NewKey("formal", "  Apa ibu kota Indonesia? ", nil)
	b := NewKey("formal", "apa IBU kota indonesia?", nil)
	c := NewKey("tsundere", "apa ibu kota indonesia?", nil)

	if a != b {
		t.Errorf("case and whitespace must not matter: %+v vs %+v", a, b)
	}
	if a == c {
		t.Error("different personas must not share a key")
	}
	if a.Text != "apa ibu kota indonesia?" || a.Attachment != "" {
		t.Errorf("unexpected key %+v", a)
	}
}

func TestFingerprint(t *testing.T) {
	img1 := &models.Attachment{MIMEType: "image/png", Data: "aGVsbG8="}
	img2 := &models.Attachment{MIMEType: "image/jpeg", Data: "aGVsbG8="}
	img3 := &models.Attachment{MIMEType: "image/png", Data: "d29ybGQ="}

	if Fingerprint(nil) != "" {
		t.Error("missing image must fingerprint to empty")
	}
	if Fingerprint(img1) != Fingerprint(img2) {
		t.Error("fingerprint should depend on bytes only")
	}
	if Fingerprint(img1) == Fingerprint(img3) {
		t.Error("different images must differ")
	}
	if NewKey("ceria", "lihat", img1) == NewKey("ceria", "lihat", nil) {
		t.Error("attachment must be part of the key")
	}
}

func TestCache_UnreachableRedisDegrades(t *testing.T) {
	c := NewCache(&config.CacheConfig{
		MaxSize: 2,
		Redis:   config.RedisConfig{Enabled: true, Addr: "127.0.0.1:1"},
	}, logger.Discard())
	defer c.Close()

	ctx := context.Background()
	k := NewKey("ceria", "halo", nil)
	if err := c.Set(ctx, k, "hai!"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, ok := c.Get(ctx, k); !ok || got != "hai!" {
		t.Fatalf("expected cached reply, got %q %v", got, ok)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := c.Get(ctx, k); ok {
		t.Error("expected empty cache after Clear")
	}
}

func TestCache_ClearDropsPendingWrite(t *testing.T) {
	c := NewCache(&config.CacheConfig{MaxSize: 4}, logger.Discard())
	ctx := context.Background()
	k := NewKey("formal", "apa kabar?", nil)

	epoch := c.Epoch()
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if c.Epoch() == epoch {
		t.Fatal("Clear must advance the epoch")
	}

	stored, err := c.SetAt(ctx, k, "Baik, terima kasih.", epoch)
	if err != nil {
		t.Fatalf("SetAt: %v", err)
	}
	if stored {
		t.Error("a write started before Clear must be dropped")
	}
	if _, ok := c.Get(ctx, k); ok {
		t.Error("stale reply landed in the cache after Clear")
	}

	stored, err = c.SetAt(ctx, k, "Baik, terima kasih.", c.Epoch())
	if err != nil || !stored {
		t.Fatalf("expected a current-epoch write to be stored, got %v %v", stored, err)
	}
	if got, ok := c.Get(ctx, k); !ok || got != "Baik, terima kasih." {
		t.Errorf("expected cached reply, got %q %v", got, ok)
	}
}
