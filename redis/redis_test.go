package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/blockflow/logger"
)

type testRecord struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

// newTestClient creates a redis.Client backed by miniredis for testing.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mini.Close() })

	client, err := New(Config{Addr: mini.Addr(), KeyPrefix: "test"}, logger.Nop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mini
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing addr")
	}
	cfg.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.ReadTimeout = "soon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad read_timeout")
	}
	if cfg.KeyPrefix != "blockflow" {
		t.Errorf("expected default key prefix, got %q", cfg.KeyPrefix)
	}
}

func TestClient_PingAndKey(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if got := client.Key("runs", "r1"); got != "test:runs:r1" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestClient_CloseTwice(t *testing.T) {
	client, _ := newTestClient(t)
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestHashStore_PutGetAll(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewHashStore[testRecord](client, "runs", 0)
	ctx := context.Background()

	if err := store.Put(ctx, "r1", "a", &testRecord{Count: 1}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, "r1", "b", &testRecord{Count: 2, Tags: []string{"x"}}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "r1", "b")
	if err != nil || got == nil || got.Count != 2 || len(got.Tags) != 1 {
		t.Fatalf("unexpected record %+v (%v)", got, err)
	}

	all, err := store.All(ctx, "r1")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 records, got %d (%v)", len(all), err)
	}

	if v := mini.HGet("test:runs:r1", "a"); v == "" {
		t.Error("expected field stored under prefixed hash key")
	}
}

func TestHashStore_GetMissing(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewHashStore[testRecord](client, "runs", 0)

	got, err := store.Get(context.Background(), "r1", "nope")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got %+v, %v", got, err)
	}
	all, err := store.All(context.Background(), "missing")
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty map, got %v, %v", all, err)
	}
}

func TestHashStore_PutIfAbsent(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewHashStore[testRecord](client, "runs", 0)
	ctx := context.Background()

	ok, err := store.PutIfAbsent(ctx, "r1", "a", &testRecord{Count: 1})
	if err != nil || !ok {
		t.Fatalf("first PutIfAbsent should write, got %v %v", ok, err)
	}
	ok, err = store.PutIfAbsent(ctx, "r1", "a", &testRecord{Count: 99})
	if err != nil || ok {
		t.Fatalf("second PutIfAbsent should not write, got %v %v", ok, err)
	}
	got, _ := store.Get(ctx, "r1", "a")
	if got.Count != 1 {
		t.Errorf("expected original record kept, got %+v", got)
	}
}

func TestHashStore_TTL(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewHashStore[testRecord](client, "runs", 2*time.Second)
	ctx := context.Background()

	if err := store.Put(ctx, "r1", "a", &testRecord{Count: 1}); err != nil {
		t.Fatal(err)
	}
	mini.FastForward(3 * time.Second)

	got, err := store.Get(ctx, "r1", "a")
	if err != nil || got != nil {
		t.Fatalf("expected expiry, got %+v, %v", got, err)
	}
}

func TestHashStore_Delete(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewHashStore[testRecord](client, "runs", 0)
	ctx := context.Background()

	_ = store.Put(ctx, "r1", "a", &testRecord{Count: 1})
	if err := store.Delete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	all, _ := store.All(ctx, "r1")
	if len(all) != 0 {
		t.Errorf("expected empty hash after delete, got %v", all)
	}
}
