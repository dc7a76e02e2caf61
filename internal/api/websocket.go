package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AaronLay10/linkstage/internal/events"
)

const (
	backlogSize = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventFilter holds the prefixes from ?event=chain.,pipeline. An empty
// filter passes every event.
type eventFilter []string

func parseEventFilter(raw string) eventFilter {
	var f eventFilter
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f eventFilter) match(name string) bool {
	return events.MatchPrefix(name, f)
}

// eventStream pushes events to one websocket client.
type eventStream struct {
	conn   *websocket.Conn
	sub    events.Subscriber
	filter eventFilter
}

func (s *eventStream) write(messageType int, data []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

func (s *eventStream) backlog() error {
	for _, e := range events.RecentEvents(backlogSize) {
		if !s.filter.match(e.Name) {
			continue
		}
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		if err := s.conn.WriteJSON(e); err != nil {
			return err
		}
	}
	return nil
}

// drain reads until the client goes away so pongs and close frames are
// processed. It closes gone on return.
func (s *eventStream) drain(gone chan<- struct{}) {
	defer close(gone)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pump forwards live events and pings until the client leaves, a write
// fails, or the subscriber is closed on shutdown.
func (s *eventStream) pump(gone <-chan struct{}) error {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return nil
		case e, ok := <-s.sub:
			if !ok {
				return nil
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(e); err != nil {
				return err
			}
		case <-ping.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// wsEventsHandler sends the recent backlog, then live events, both limited
// to the ?event= prefixes.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query().Get("event"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	s := &eventStream{conn: conn, sub: events.Subscribe(filter...), filter: filter}
	defer func() {
		events.Unsubscribe(s.sub)
		conn.Close()
	}()

	if err := s.backlog(); err != nil {
		log.Printf("ws backlog write failed: %v", err)
		return
	}
	gone := make(chan struct{})
	go s.drain(gone)
	if err := s.pump(gone); err != nil {
		log.Printf("ws write failed: %v", err)
	}
}
