package web

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/codec"
	"github.com/sweeney/coffee-machine/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var (
	errObserverClosed = errors.New("observer closed")
	errObserverSlow   = errors.New("observer queue full")
)

// wsObserver is one websocket connection. Send only queues; writePump owns
// all writes to the connection.
type wsObserver struct {
	id    string
	conn  *websocket.Conn
	codec codec.Codec
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func newWSObserver(conn *websocket.Conn, c codec.Codec, queue int) *wsObserver {
	return &wsObserver{
		id:    uuid.NewString(),
		conn:  conn,
		codec: c,
		send:  make(chan []byte, queue),
		done:  make(chan struct{}),
	}
}

func (o *wsObserver) ID() string { return o.id }

// Send encodes m and queues it. A full queue counts as a failed observer
// so one slow reader cannot stall the tick loop.
func (o *wsObserver) Send(m broadcast.Message) error {
	data, err := o.codec.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-o.done:
		return errObserverClosed
	default:
	}
	select {
	case o.send <- data:
		return nil
	case <-o.done:
		return errObserverClosed
	default:
		o.close()
		return errObserverSlow
	}
}

func (o *wsObserver) close() {
	o.once.Do(func() { close(o.done) })
}

func (o *wsObserver) messageType() int {
	if o.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (o *wsObserver) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		o.conn.Close()
	}()
	for {
		select {
		case data := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(o.messageType(), data); err != nil {
				o.close()
				return
			}
		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				o.close()
				return
			}
		case <-o.done:
			o.conn.SetWriteDeadline(time.Now().Add(writeWait))
			o.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// handleWS upgrades the connection, joins the observer set and feeds
// inbound frames to a protocol session until the peer goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	c, ok := s.codecFor(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	obs := newWSObserver(conn, c, s.cfg.QueueLength)
	log := s.log.With().Str("observer", obs.id).Str("codec", c.Name()).Logger()

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[obs] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, obs)
		s.mu.Unlock()
		s.wg.Done()
	}()

	go obs.writePump()
	if err := s.cfg.Hub.Join(obs, s.cfg.Machine.Snapshot); err != nil {
		log.Warn().Err(err).Msg("join failed")
		obs.close()
		return
	}
	log.Info().Msg("observer joined")

	session := protocol.NewSession(obs.id, protocol.Deps{
		Machine:  s.cfg.Machine,
		History:  s.cfg.History,
		Activity: s.cfg.Activity,
		Menu:     s.cfg.Menu,
		Now:      s.cfg.Now,
		Logger:   s.cfg.Logger,
	})

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("read failed")
			}
			break
		}
		session.Handle(s.ctx, string(data))
	}

	s.cfg.Hub.Leave(obs)
	obs.close()
	log.Info().Msg("observer left")
}
