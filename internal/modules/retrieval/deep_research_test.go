package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestResearchThrottleWindow(t *testing.T) {
	mr, rdb := testRedis(t)
	ctx := context.Background()

	won, err := AcquireResearchThrottle(ctx, rdb, "user_1", "conv_1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !won {
		t.Fatal("first caller must win the slot")
	}

	won, err = AcquireResearchThrottle(ctx, rdb, "user_1", "conv_1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if won {
		t.Fatal("second caller within the window must lose")
	}

	// Each conversation holds its own slot.
	won, err = AcquireResearchThrottle(ctx, rdb, "user_1", "conv_2")
	if err != nil {
		t.Fatalf("other conversation: %v", err)
	}
	if !won {
		t.Fatal("throttle leaked across conversations")
	}

	mr.FastForward(61 * time.Second)

	won, err = AcquireResearchThrottle(ctx, rdb, "user_1", "conv_1")
	if err != nil {
		t.Fatalf("post-expiry acquire: %v", err)
	}
	if !won {
		t.Fatal("slot must reopen once the window has passed")
	}
}

func TestResearchCacheTolerantLoad(t *testing.T) {
	mr, rdb := testRedis(t)
	ctx := context.Background()

	items := []Item{nodeItem("node_a", "Alice", "met in Paris", 0.9)}
	if err := storeResearch(ctx, rdb, "user_1", "conv_1", items); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := loadCachedResearch(ctx, rdb, "user_1", "conv_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Node.NodeID != "node_a" {
		t.Fatalf("cached items misread: %#v", got)
	}

	// A mis-shaped entry reads as a miss, never an error.
	if err := mr.Set(researchCacheKey("user_1", "conv_2"), "not json"); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	got, err = loadCachedResearch(ctx, rdb, "user_1", "conv_2")
	if err != nil {
		t.Fatalf("garbage load: %v", err)
	}
	if got != nil {
		t.Fatalf("garbage entry must read as a miss, got %#v", got)
	}

	// So does an absent one.
	got, err = loadCachedResearch(ctx, rdb, "user_1", "conv_3")
	if err != nil || got != nil {
		t.Fatalf("missing entry must read as a miss: %v %#v", err, got)
	}
}
