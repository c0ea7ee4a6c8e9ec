package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/service"
	"github.com/blockclass/marketview/internal/snapshot"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func price(v float64) *float64 { return &v }

// source answers detail loads for any id except "missing".
type source struct{}

func (source) Coin(_ context.Context, id string) (domain.DetailedRecord, error) {
	if id == "missing" {
		return domain.DetailedRecord{}, errors.New("not listed")
	}
	return domain.DetailedRecord{MarketFields: domain.MarketFields{
		ID: id, Name: id, Symbol: "abc", CurrentPrice: price(10),
	}}, nil
}

func (source) Summary(context.Context, string) (domain.SummaryRecord, error) {
	return domain.SummaryRecord{}, errors.New("not listed")
}

func (source) History(context.Context, string, int) ([]domain.PricePoint, error) {
	return nil, errors.New("no history")
}

type comparer struct{}

func (comparer) Compare(_ context.Context, ids []string) ([]domain.MarketRecord, error) {
	out := make([]domain.MarketRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.MarketRecord{MarketFields: domain.MarketFields{ID: id}})
	}
	return out, nil
}

// blockingComparer stalls on a lone "slow" selection until cancelled.
type blockingComparer struct {
	comparer
	cancelled chan struct{}
}

func (b blockingComparer) Compare(ctx context.Context, ids []string) ([]domain.MarketRecord, error) {
	if len(ids) == 1 && ids[0] == "slow" {
		<-ctx.Done()
		close(b.cancelled)
		return nil, ctx.Err()
	}
	return b.comparer.Compare(ctx, ids)
}

type bus struct{ ch chan []byte }

func (b *bus) Publish(context.Context, string, []byte) error { return nil }

func (b *bus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if m := read(t, conn); m.Type != TypeHello {
		t.Fatalf("first message = %q, want hello", m.Type)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var m message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func newHub(b domain.SignalBus) *Hub {
	cache := snapshot.New(snapshot.NewMemoryStore(), discardLogger())
	loader := service.NewDetailLoader(source{}, cache, 7, discardLogger())
	return NewHub(loader, comparer{}, b, discardLogger())
}

func TestOpenStreamsDetailViews(t *testing.T) {
	conn := dial(t, newHub(nil))

	if err := conn.WriteJSON(request{Action: "open", ID: "bitcoin"}); err != nil {
		t.Fatal(err)
	}

	var last detailPayload
	for !last.State.Terminal() {
		m := read(t, conn)
		if m.Type != TypeDetail {
			t.Fatalf("message type = %q", m.Type)
		}
		if err := json.Unmarshal(m.Payload, &last); err != nil {
			t.Fatal(err)
		}
	}
	if last.ID != "bitcoin" || last.State != service.StateResolved || last.Display.Price != "$10.00" {
		t.Errorf("final view = %+v", last)
	}
}

func TestRejectsBadRequests(t *testing.T) {
	conn := dial(t, newHub(nil))

	for _, raw := range []string{`not json`, `{"action":"open"}`, `{"action":"open","id":"NO WAY"}`, `{"action":"dance"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if m := read(t, conn); m.Type != TypeError {
			t.Errorf("%s: message type = %q, want error", raw, m.Type)
		}
	}
}

func TestCompareToggles(t *testing.T) {
	conn := dial(t, newHub(nil))

	steps := []struct {
		id   string
		want []string
	}{
		{"bitcoin", []string{"bitcoin"}},
		{"ethereum", []string{"bitcoin", "ethereum"}},
		{"bitcoin", []string{"ethereum"}},
		{"", []string{}},
	}
	for _, s := range steps {
		if err := conn.WriteJSON(request{Action: "compare", ID: s.id}); err != nil {
			t.Fatal(err)
		}
		m := read(t, conn)
		var p comparePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || m.Type != TypeCompare {
			t.Fatalf("compare %q: %q %v", s.id, m.Type, err)
		}
		if strings.Join(p.IDs, ",") != strings.Join(s.want, ",") || len(p.Markets) != len(s.want) {
			t.Errorf("compare %q = %v (%d markets), want %v", s.id, p.IDs, len(p.Markets), s.want)
		}
	}
}

func TestForwardsRefreshEvents(t *testing.T) {
	b := &bus{ch: make(chan []byte, 1)}
	hub := newHub(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, hub)
	b.ch <- []byte(`{"type":"markets.refreshed","count":30}`)

	m := read(t, conn)
	if m.Type != TypeRefreshed || !strings.Contains(string(m.Payload), `"count":30`) {
		t.Errorf("message = %s %s", m.Type, m.Payload)
	}
}

func newBlockingHub() (*Hub, chan struct{}) {
	cache := snapshot.New(snapshot.NewMemoryStore(), discardLogger())
	loader := service.NewDetailLoader(source{}, cache, 7, discardLogger())
	cancelled := make(chan struct{})
	return NewHub(loader, blockingComparer{cancelled: cancelled}, nil, discardLogger()), cancelled
}

func TestOpenNotBlockedByCompare(t *testing.T) {
	hub, _ := newBlockingHub()
	conn := dial(t, hub)

	if err := conn.WriteJSON(request{Action: "compare", ID: "slow"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(request{Action: "open", ID: "bitcoin"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m message
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("open waited behind compare: %v", err)
	}
	if m.Type != TypeDetail {
		t.Errorf("message type = %q, want detail", m.Type)
	}
}

func TestCompareSupersedesPrevious(t *testing.T) {
	hub, cancelled := newBlockingHub()
	conn := dial(t, hub)

	for _, id := range []string{"slow", "ethereum"} {
		if err := conn.WriteJSON(request{Action: "compare", ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	m := read(t, conn)
	var p comparePayload
	if err := json.Unmarshal(m.Payload, &p); err != nil || m.Type != TypeCompare {
		t.Fatalf("message = %q %v", m.Type, err)
	}
	if strings.Join(p.IDs, ",") != "slow,ethereum" {
		t.Errorf("ids = %v, want [slow ethereum]", p.IDs)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("superseded compare was not cancelled")
	}
}
