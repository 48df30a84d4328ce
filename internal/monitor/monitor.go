// Package monitor publishes frame exchange outcomes for live inspection: a
// websocket feed of individual exchanges and a JSON summary of counters.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/lanikai/memorymap"
	"github.com/lanikai/memorymap/internal/logging"
)

var log = logging.DefaultLogger.WithTag("monitor")

// Events buffered per websocket client before the oldest are dropped.
const clientBacklog = 64

// Record is the wire form of one exchange.
type Record struct {
	Segment    string  `json:"segment"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Timestamp  float64 `json:"timestamp"`
	Generation uint32  `json:"generation"`
	State      string  `json:"state"`
	Reached    string  `json:"reached"`
	Cause      string  `json:"cause,omitempty"`
	Stale      int     `json:"stale,omitempty"`
	ElapsedMS  float64 `json:"elapsed_ms"`
}

func newRecord(e memorymap.Event) Record {
	r := Record{
		Segment:    e.Segment,
		Width:      e.Width,
		Height:     e.Height,
		Timestamp:  e.Timestamp,
		Generation: e.Generation,
		State:      e.State.String(),
		Reached:    e.Reached.String(),
		Stale:      e.StaleSignals,
		ElapsedMS:  float64(e.Elapsed) / float64(time.Millisecond),
	}
	if e.Cause != nil {
		r.Cause = e.Cause.Error()
	}
	return r
}

// Stats summarizes every exchange seen so far.
type Stats struct {
	Exchanges   uint64            `json:"exchanges"`
	ByState     map[string]uint64 `json:"by_state"`
	Stale       uint64            `json:"stale_signals"`
	MaxMS       float64           `json:"max_elapsed_ms"`
	Last        *Record           `json:"last,omitempty"`
	Subscribers int               `json:"subscribers"`
}

// A Monitor is a memorymap.Observer that serves what it observes over HTTP.
type Monitor struct {
	broadcaster *Broadcaster

	mu    sync.Mutex
	stats Stats

	server *http.Server
}

func New() *Monitor {
	return &Monitor{
		broadcaster: NewBroadcaster(),
		stats:       Stats{ByState: map[string]uint64{}},
	}
}

// Observe records e and forwards it to websocket subscribers.
func (m *Monitor) Observe(e memorymap.Event) {
	rec := newRecord(e)

	m.mu.Lock()
	m.stats.Exchanges++
	m.stats.ByState[rec.State]++
	m.stats.Stale += uint64(rec.Stale)
	if rec.ElapsedMS > m.stats.MaxMS {
		m.stats.MaxMS = rec.ElapsedMS
	}
	m.stats.Last = &rec
	m.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		log.Warn("encode: %v", err)
		return
	}
	m.broadcaster.Write(data)
}

// Stats returns a snapshot of the counters.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.ByState = make(map[string]uint64, len(m.stats.ByState))
	for k, v := range m.stats.ByState {
		s.ByState[k] = v
	}
	if m.stats.Last != nil {
		last := *m.stats.Last
		s.Last = &last
	}
	s.Subscribers = m.broadcaster.Len()
	return s
}

// Handler routes /events (websocket) and /stats (JSON).
func (m *Monitor) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("/events", m.handleEvents)
	router.HandleFunc("/stats", m.handleStats)
	return router
}

// Listen serves the monitor on addr until Shutdown. The bound address is
// returned once the listener is open.
func (m *Monitor) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "monitor listen")
	}
	m.server = &http.Server{Handler: m.Handler()}
	go func() {
		if err := m.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error("serve: %v", err)
		}
	}()
	log.Info("Monitor listening on http://%s/events", ln.Addr())
	return ln.Addr(), nil
}

// Shutdown stops the HTTP server, if any, and disconnects subscribers.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.broadcaster.Close()
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

func (m *Monitor) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Stats()); err != nil {
		log.Warn("stats: %v", err)
	}
}

func (m *Monitor) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the handshake completes so the client sees every event
	// observed after its dial returns.
	events := m.broadcaster.Subscribe(clientBacklog)

	ws, err := new(websocket.Upgrader).Upgrade(w, r, nil)
	if err != nil {
		m.broadcaster.Unsubscribe(events)
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	// Clients only listen; a read error means they went away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			m.broadcaster.Unsubscribe(events)
			return
		case data, ok := <-events:
			if !ok {
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor closed"))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("write: %v", err)
				m.broadcaster.Unsubscribe(events)
				return
			}
		}
	}
}
