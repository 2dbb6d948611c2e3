package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bookbuilder/domain/book"
	"bookbuilder/domain/event"
	"bookbuilder/infra/codec"
)

var upgrader = websocket.Upgrader{}

// feed serves msgs after reading one subscribe frame, then closes
// normally unless hold is set.
func feed(t *testing.T, msgs []string, hold bool, gotSub chan<- string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		defer c.Close()

		_, sub, err := c.ReadMessage()
		if err != nil {
			return
		}
		gotSub <- string(sub)

		for _, m := range msgs {
			if err := c.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if hold {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestSourceReadsUntilNormalClose(t *testing.T) {
	sub := make(chan string, 1)
	srv := feed(t, []string{
		`{"type":"add","symbol":"BTC-USD","side":"bid","price":"100.5","size":"2","order_id":1}`,
		`not json`,
		`{"type":"delete","symbol":"BTC-USD","side":"bid","price":"0","size":"0","order_id":1}`,
	}, false, sub)
	defer srv.Close()

	src := &Source{
		URL:       wsURL(srv),
		Subscribe: []byte(`{"op":"subscribe","channel":"book"}`),
		Codec:     codec.JSON{},
		Logger:    zap.NewNop(),
	}

	var got []event.Event
	err := src.Run(context.Background(), func(e event.Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s := <-sub; !strings.Contains(s, "subscribe") {
		t.Errorf("subscribe frame = %q", s)
	}
	want := []event.Event{
		event.Add("BTC-USD", book.Bid, 100.5, 2, 1),
		event.Delete("BTC-USD", book.Bid, 1),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSourceStopsOnCancel(t *testing.T) {
	sub := make(chan string, 1)
	srv := feed(t, nil, true, sub)
	defer srv.Close()

	src := &Source{
		URL:          wsURL(srv),
		Subscribe:    []byte("sub"),
		Codec:        codec.JSON{},
		Logger:       zap.NewNop(),
		PingInterval: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, func(event.Event) error { return nil }) }()

	<-sub
	cancel()
	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
