package geo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupRedisIndex(t *testing.T) *RedisIndex {
	t.Helper()
	url := os.Getenv("TAXIDISPATCH_TEST_REDIS")
	if url == "" {
		t.Skip("TAXIDISPATCH_TEST_REDIS not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { _ = client.Close() })

	key := fmt.Sprintf("test:drivers:geo:%d", time.Now().UnixNano())
	t.Cleanup(func() { client.Del(context.Background(), key) })
	return NewRedisIndex(client, key)
}

func TestRedisIndex_WithinAndRemove(t *testing.T) {
	idx := setupRedisIndex(t)
	center := Point{Lat: 55.755, Lng: 37.617}

	if err := idx.Upsert("near", Point{Lat: 55.756, Lng: 37.617}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert("far", Point{Lat: 56.5, Lng: 38.5}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Within(center, 5)
	if err != nil {
		t.Fatalf("Within: %v", err)
	}
	if len(got) != 1 || got[0].ID != "near" {
		t.Fatalf("Within = %v, want only near", got)
	}

	if err := idx.Remove("near"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err = idx.Within(center, 5)
	if err != nil {
		t.Fatalf("Within: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result after remove, got %v", got)
	}
}
