package sim

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"market-workbench/internal/feed"
)

// DefaultTick is the per-symbol emission period of a session.
const DefaultTick = 250 * time.Millisecond

// Session is one subscriber's view of a Generator. It implements feed.Conn:
// writes are protocol commands, reads are generated frames.
type Session struct {
	gen  *Generator
	tick time.Duration

	out    chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	subs []string
}

// NewSession starts emitting frames every tick for each subscribed symbol.
// Frames are dropped when the reader falls behind.
func NewSession(gen *Generator, tick time.Duration) *Session {
	if tick <= 0 {
		tick = DefaultTick
	}
	s := &Session{
		gen:    gen,
		tick:   tick,
		out:    make(chan []byte, 512),
		closed: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-t.C:
			for _, sym := range s.Subscriptions() {
				for _, f := range s.gen.Step(sym) {
					s.emit(f)
				}
			}
		}
	}
}

func (s *Session) emit(b []byte) {
	select {
	case s.out <- b:
	case <-s.closed:
	default:
	}
}

// Subscriptions returns the current symbols in subscription order.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subs...)
}

// ReadMessage returns the next frame, or feed.ErrNormalClosure once closed.
func (s *Session) ReadMessage() ([]byte, error) {
	select {
	case b := <-s.out:
		return b, nil
	case <-s.closed:
		return nil, feed.ErrNormalClosure
	}
}

// WriteMessage handles a control frame from the client.
func (s *Session) WriteMessage(data []byte) error {
	var msg feed.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case feed.TypeSubscribe:
		s.mu.Lock()
		if !contains(s.subs, msg.Symbol) && msg.Symbol != "" {
			s.subs = append(s.subs, msg.Symbol)
		}
		s.mu.Unlock()
	case feed.TypeUnsubscribe:
		s.mu.Lock()
		for i, sym := range s.subs {
			if sym == msg.Symbol {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	case feed.TypePing:
		b, _ := json.Marshal(feed.ControlMessage{Type: feed.TypePong, Timestamp: time.Now().UnixMilli()})
		s.emit(b)
	}
	return nil
}

// Close stops the session.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Dialer opens in-process sessions against a shared Generator. It serves
// "sim://" feed URLs.
type Dialer struct {
	Gen  *Generator
	Tick time.Duration
}

// Dial implements feed.Dialer.
func (d *Dialer) Dial(ctx context.Context, _ string) (feed.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewSession(d.Gen, d.Tick), nil
}
