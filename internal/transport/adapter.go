package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quillmark-local-engine/internal/crdt"
)

// Origin tags updates applied from the live link so the outbound
// observer does not echo them back to the wire.
const Origin = "transport"

const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusAuthFailed   = "auth_failed"
)

// closeAuthRequired is the application close code the collab server
// sends when the token is missing, expired, or rejected mid-session.
const closeAuthRequired = 4401

var ErrAuthFailed = errors.New("collab server rejected token")

type Config struct {
	URL         string
	DialTimeout time.Duration
	WriteWait   time.Duration
	PongWait    time.Duration
	PingPeriod  time.Duration
}

// Options carries the callbacks the owner of the link cares about. All
// of them are optional.
type Options struct {
	// OnAuthFailed fires when the server rejects the token, at
	// handshake or mid-session. Reconnecting with fresh credentials
	// is the caller's job.
	OnAuthFailed func()
	OnStatus     func(status string)
	OnAwareness  func(payload []byte)
}

type frame struct {
	kind int
	data []byte
}

// Adapter is a live link between one local replica and the collab
// server's room for that document. Binary frames carry CRDT updates in
// both directions; text frames carry awareness state.
type Adapter struct {
	documentID string
	doc        crdt.Document
	conn       *websocket.Conn
	send       chan frame
	done       chan struct{}
	once       sync.Once
	unsub      func()

	mu     sync.RWMutex
	status string

	opts Options

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// Dial connects to the collab room for documentID and starts the read
// and write pumps. The document's current state is sent as the first
// frame so the server catches up on anything applied while offline.
func Dial(ctx context.Context, cfg Config, documentID, token string, doc crdt.Document, opts Options) (*Adapter, error) {
	writeWait := cfg.WriteWait
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = (pongWait * 9) / 10
	}

	target := strings.TrimRight(cfg.URL, "/") + "/rooms/" + documentID + "?token=" + url.QueryEscape(token)

	if opts.OnStatus != nil {
		opts.OnStatus(StatusConnecting)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			if opts.OnStatus != nil {
				opts.OnStatus(StatusAuthFailed)
			}
			if opts.OnAuthFailed != nil {
				opts.OnAuthFailed()
			}
			return nil, fmt.Errorf("dialing room %s: %w", documentID, ErrAuthFailed)
		}
		if opts.OnStatus != nil {
			opts.OnStatus(StatusDisconnected)
		}
		return nil, fmt.Errorf("dialing room %s: %w", documentID, err)
	}

	a := &Adapter{
		documentID: documentID,
		doc:        doc,
		conn:       conn,
		send:       make(chan frame, 256),
		done:       make(chan struct{}),
		status:     StatusConnected,
		opts:       opts,
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}

	state, err := doc.EncodeState()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encoding initial state: %w", err)
	}
	if len(state) > 0 {
		a.send <- frame{kind: websocket.BinaryMessage, data: state}
	}

	a.unsub = doc.Subscribe(func(update []byte, origin string) {
		if origin == Origin {
			return
		}
		select {
		case a.send <- frame{kind: websocket.BinaryMessage, data: update}:
		case <-a.done:
		}
	})

	if opts.OnStatus != nil {
		opts.OnStatus(StatusConnected)
	}

	go a.readPump()
	go a.writePump()

	return a, nil
}

func (a *Adapter) Status() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Adapter) setStatus(status string) {
	a.mu.Lock()
	// auth_failed is terminal for this link; the teardown that follows
	// must not repaint it as an ordinary disconnect.
	if a.status == StatusAuthFailed {
		a.mu.Unlock()
		return
	}
	changed := a.status != status
	a.status = status
	a.mu.Unlock()
	if changed && a.opts.OnStatus != nil {
		a.opts.OnStatus(status)
	}
}

// SetAwareness queues the presence payload as a text frame. The latest
// state wins server-side, so dropping on teardown is fine.
func (a *Adapter) SetAwareness(payload []byte) {
	select {
	case a.send <- frame{kind: websocket.TextMessage, data: payload}:
	case <-a.done:
	}
}

// Destroy detaches the observer and closes the link. Safe to call more
// than once.
func (a *Adapter) Destroy() {
	a.once.Do(func() {
		if a.unsub != nil {
			a.unsub()
		}
		close(a.done)
		a.conn.Close()
		a.setStatus(StatusDisconnected)
	})
}

func (a *Adapter) readPump() {
	defer a.Destroy()

	a.conn.SetReadDeadline(time.Now().Add(a.pongWait))
	a.conn.SetPongHandler(func(string) error {
		a.conn.SetReadDeadline(time.Now().Add(a.pongWait))
		return nil
	})

	for {
		messageType, message, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, closeAuthRequired) {
				a.setStatus(StatusAuthFailed)
				if a.opts.OnAuthFailed != nil {
					a.opts.OnAuthFailed()
				}
			} else {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("transport %s: read error: %v", a.documentID, err)
				}
				a.setStatus(StatusDisconnected)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if err := a.doc.ApplyUpdate(message, Origin); err != nil {
				log.Printf("transport %s: dropping bad update: %v", a.documentID, err)
			}
		case websocket.TextMessage:
			if a.opts.OnAwareness != nil {
				a.opts.OnAwareness(message)
			}
		}
	}
}

func (a *Adapter) writePump() {
	ticker := time.NewTicker(a.pingPeriod)
	defer func() {
		ticker.Stop()
		a.conn.Close()
	}()

	for {
		select {
		case <-a.done:
			a.conn.SetWriteDeadline(time.Now().Add(a.writeWait))
			a.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case f := <-a.send:
			a.conn.SetWriteDeadline(time.Now().Add(a.writeWait))
			if err := a.conn.WriteMessage(f.kind, f.data); err != nil {
				return
			}

			// Drain whatever queued behind it; each CRDT update stays
			// its own frame.
			n := len(a.send)
			for i := 0; i < n; i++ {
				f = <-a.send
				a.conn.SetWriteDeadline(time.Now().Add(a.writeWait))
				if err := a.conn.WriteMessage(f.kind, f.data); err != nil {
					return
				}
			}

		case <-ticker.C:
			a.conn.SetWriteDeadline(time.Now().Add(a.writeWait))
			if err := a.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
