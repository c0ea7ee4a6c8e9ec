package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingStore) Put(context.Context, string, []byte) error   { return f.err }

type payload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		key  Key
		want string
	}{
		{DetailKey("bitcoin"), "cg_detail_v2_bitcoin"},
		{HistoryKey("ethereum", 7), "cg_chart_7d_v1_ethereum"},
		{HomeKey(), "cg_home_v1"},
		{Key{Resource: "detail", Version: 3, Identity: "bitcoin"}, "cg_detail_v3_bitcoin"},
	}
	for _, tt := range tests {
		if got := tt.key.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestWriteThenRead(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), discardLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	Write(ctx, c, DetailKey("bitcoin"), payload{Name: "Bitcoin", Price: 42000.5})

	got, ok := Read[payload](ctx, c, DetailKey("bitcoin"))
	if !ok {
		t.Fatal("Read returned ok=false after Write")
	}
	if got.Data.Name != "Bitcoin" || got.Data.Price != 42000.5 {
		t.Errorf("Data = %+v", got.Data)
	}
	if !got.SavedAt.Equal(fixed) {
		t.Errorf("SavedAt = %s, want %s", got.SavedAt, fixed)
	}
	if !c.Has(ctx, DetailKey("bitcoin")) {
		t.Error("Has = false, want true")
	}
}

func TestWriteReplacesWholeEntry(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), discardLogger())

	Write(ctx, c, HomeKey(), []payload{{Name: "a"}, {Name: "b"}})
	Write(ctx, c, HomeKey(), []payload{{Name: "c"}})

	got, ok := Read[[]payload](ctx, c, HomeKey())
	if !ok || len(got.Data) != 1 || got.Data[0].Name != "c" {
		t.Errorf("Read = %+v, %v; want single entry c", got.Data, ok)
	}
}

func TestWriteSkippedAfterCancel(t *testing.T) {
	c := New(NewMemoryStore(), discardLogger())

	done, cancel := context.WithCancel(context.Background())
	cancel()
	Write(done, c, DetailKey("bitcoin"), payload{Name: "Bitcoin"})

	// Cancelled while the entry is being encoded.
	late, cancelLate := context.WithCancel(context.Background())
	c.now = func() time.Time {
		cancelLate()
		return time.Now()
	}
	Write(late, c, DetailKey("ethereum"), payload{Name: "Ethereum"})

	ctx := context.Background()
	for _, id := range []string{"bitcoin", "ethereum"} {
		if c.Has(ctx, DetailKey(id)) {
			t.Errorf("%s written after its context was cancelled", id)
		}
	}
}

func TestReadMissing(t *testing.T) {
	c := New(NewMemoryStore(), discardLogger())
	if _, ok := Read[payload](context.Background(), c, DetailKey("nope")); ok {
		t.Error("Read of missing key returned ok=true")
	}
}

func TestReadCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, discardLogger())

	corrupt := map[string]string{
		"not-json":      `{"data":`,
		"wrong-shape":   `{"data":"text","savedAt":"2024-01-01T00:00:00Z"}`,
		"missing-stamp": `{"data":{"name":"x"}}`,
	}
	for name, raw := range corrupt {
		key := DetailKey(name)
		_ = store.Put(ctx, key.String(), []byte(raw))
		if _, ok := Read[payload](ctx, c, key); ok {
			t.Errorf("%s: Read returned ok=true for corrupt entry", name)
		}
	}
}

func TestBackendErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c := New(failingStore{err: errors.New("quota exceeded")}, discardLogger())

	Write(ctx, c, DetailKey("bitcoin"), payload{Name: "Bitcoin"})

	if _, ok := Read[payload](ctx, c, DetailKey("bitcoin")); ok {
		t.Error("Read returned ok=true from failing store")
	}
}

func TestWriteUnencodablePayloadIsSwallowed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, discardLogger())

	Write(ctx, c, DetailKey("nan"), math.NaN())

	if _, err := store.Get(ctx, DetailKey("nan").String()); err == nil {
		t.Error("unencodable payload was persisted")
	}
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), discardLogger())
	Write(ctx, c, DetailKey("ethereum"), payload{Name: "Ethereum"})
	Write(ctx, c, DetailKey("bitcoin"), payload{Name: "Bitcoin"})
	Write(ctx, c, HomeKey(), []payload{})

	keys, err := c.Keys(ctx, "cg_detail_")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "cg_detail_v2_bitcoin" || keys[1] != "cg_detail_v2_ethereum" {
		t.Errorf("Keys = %v", keys)
	}

	unlisted := New(failingStore{err: errors.New("boom")}, discardLogger())
	if _, err := unlisted.Keys(ctx, ""); !errors.Is(err, ErrNotListable) {
		t.Errorf("Keys on unlistable store = %v, want ErrNotListable", err)
	}
}

func TestRawRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := New(NewMemoryStore(), discardLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return fixed }
	Write(ctx, src, HomeKey(), []payload{{Name: "Bitcoin", Price: 1}})

	raw, ok := src.Raw(ctx, HomeKey().String())
	if !ok {
		t.Fatal("Raw returned ok=false")
	}

	dst := New(NewMemoryStore(), discardLogger())
	if !dst.Restore(ctx, HomeKey().String(), raw) {
		t.Fatal("Restore rejected a valid entry")
	}
	got, ok := Read[[]payload](ctx, dst, HomeKey())
	if !ok || len(got.Data) != 1 || !got.SavedAt.Equal(fixed) {
		t.Errorf("restored = %+v (ok=%v), want original savedAt", got, ok)
	}

	if dst.Restore(ctx, "cg_home_v1", []byte(`{"data":[]}`)) {
		t.Error("Restore accepted an entry without savedAt")
	}
	if dst.Restore(ctx, "cg_home_v1", []byte(`not json`)) {
		t.Error("Restore accepted garbage")
	}
}
