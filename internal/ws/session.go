package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perpflow/internal/feed"
	"perpflow/logger"
	"perpflow/models"
)

// DecodeFunc turns one raw websocket frame into zero or more feed events.
// Returning a SchemaError skips the frame without tearing the session down;
// control frames (pings, subscribe acks) decode to an empty slice.
type DecodeFunc func(msg []byte) ([]models.FeedEvent, error)

// Options configures one streaming connection.
type Options struct {
	Venue string
	URL   string
	// Header carries already issued auth material; the session itself does
	// no signing.
	Header http.Header
	// Subscribe frames are written in order right after the dial.
	Subscribe []interface{}
	// PingInterval keeps the connection alive; zero disables pings.
	PingInterval time.Duration
	// PingFrame, when set, is written as a text frame instead of a
	// websocket control ping (some venues expect an application ping).
	PingFrame []byte
	Decode    DecodeFunc
	// Buffer sizes the event channel. Defaults to 256.
	Buffer int
}

// Session is an established streaming connection implementing
// feed.PushSession. The read loop decodes frames at the venue boundary and
// publishes the resulting events until the transport fails.
type Session struct {
	conn   *websocket.Conn
	opts   Options
	events chan models.FeedEvent
	done   chan error
	closed chan struct{}
	once   sync.Once
	log    *logger.Log
}

// Dial connects, subscribes and starts the read loop. Dial failures and
// subscribe write failures are transport errors.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		return nil, &feed.TransportError{Op: "dial " + opts.URL, Err: err}
	}

	for _, frame := range opts.Subscribe {
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			return nil, &feed.TransportError{Op: "subscribe", Err: err}
		}
	}

	s := &Session{
		conn:   conn,
		opts:   opts,
		events: make(chan models.FeedEvent, opts.Buffer),
		done:   make(chan error, 1),
		closed: make(chan struct{}),
		log:    logger.GetLogger(),
	}
	go s.readLoop()
	if opts.PingInterval > 0 {
		go s.pingLoop()
	}
	return s, nil
}

func (s *Session) Events() <-chan models.FeedEvent { return s.events }
func (s *Session) Done() <-chan error              { return s.done }

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.conn.Close()
}

func (s *Session) readLoop() {
	defer close(s.events)
	log := s.log.WithComponent("ws_session").WithFields(logger.Fields{"venue": s.opts.Venue})
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.done <- &feed.TransportError{Op: "read", Err: err}:
			default:
			}
			return
		}
		events, err := s.opts.Decode(msg)
		if err != nil {
			// malformed payloads are skipped, the stream keeps running
			log.WithError(err).Debug("skipping undecodable frame")
			continue
		}
		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-s.closed:
				return
			}
		}
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			var err error
			if len(s.opts.PingFrame) > 0 {
				err = s.conn.WriteMessage(websocket.TextMessage, s.opts.PingFrame)
			} else {
				err = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			if err != nil {
				return
			}
		}
	}
}
