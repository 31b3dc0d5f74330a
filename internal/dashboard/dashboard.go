// Package dashboard serves a small web view of the active model: which
// artifact is loaded, through which strategy, its feature schema, and a
// live feed of predictions over WebSocket.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"xaiviz/internal/controller"
	"xaiviz/internal/event"
)

// State is the JSON snapshot served by /api/state and pushed to WebSocket
// clients after every model event.
type State struct {
	Timestamp time.Time `json:"timestamp"`
	Loaded    bool      `json:"loaded"`
	Path      string    `json:"path,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	ModelType string    `json:"modelType,omitempty"`
	Schema    []string  `json:"schema,omitempty"`
	LoadedAt  time.Time `json:"loadedAt,omitempty"`
	LastLabel string    `json:"lastLabel,omitempty"`
}

// Dashboard is the HTTP + WebSocket server. Model changes arrive on the
// event bus; clients get a fresh state snapshot per event.
type Dashboard struct {
	ctrl      *controller.Controller
	bus       *event.Bus
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex
	stop      chan struct{}
	running   bool
	mu        sync.Mutex

	lastLabel string
	labelMu   sync.RWMutex
}

// New builds a dashboard listening on port.
func New(ctrl *controller.Controller, bus *event.Bus, port int) *Dashboard {
	d := &Dashboard{
		ctrl:     ctrl,
		bus:      bus,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]bool),
		stop:     make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", d.handleIndex).Methods("GET")
	r.HandleFunc("/api/state", d.handleStateAPI).Methods("GET")
	r.HandleFunc("/ws", d.handleWebSocket).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	d.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return d
}

// Start launches the server and the event forwarder.
func (d *Dashboard) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dashboard is already running")
	}

	go d.eventForwarder()
	go func() {
		log.Info().Str("address", d.server.Addr).Msg("starting dashboard server")
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dashboard server failed")
		}
	}()

	d.running = true
	return nil
}

// Stop shuts the server down and closes all client connections.
func (d *Dashboard) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	close(d.stop)

	d.clientsMu.Lock()
	for client := range d.clients {
		client.Close()
	}
	d.clients = make(map[*websocket.Conn]bool)
	d.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown dashboard server")
		return err
	}

	d.running = false
	log.Info().Msg("dashboard stopped")
	return nil
}

// eventForwarder pushes a state snapshot to clients whenever the model
// changes or predicts.
func (d *Dashboard) eventForwarder() {
	id, ch := d.bus.Subscribe()
	defer d.bus.Unsubscribe(id)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == event.ModelPredicted {
				d.labelMu.Lock()
				d.lastLabel = ev.Label
				d.labelMu.Unlock()
			}
			d.broadcast(d.snapshot())
		case <-d.stop:
			return
		}
	}
}

func (d *Dashboard) snapshot() State {
	s := State{Timestamp: time.Now()}
	if active := d.ctrl.Active(); active != nil {
		s.Loaded = true
		s.Path = active.Path
		s.Strategy = active.Strategy
		s.ModelType = active.Adapter.ModelType()
		s.Schema = active.Schema
		s.LoadedAt = active.LoadedAt
	}
	d.labelMu.RLock()
	s.LastLabel = d.lastLabel
	d.labelMu.RUnlock()
	return s
}

func (d *Dashboard) broadcast(s State) {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()

	data, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal state for broadcast")
		return
	}
	for client := range d.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(d.clients, client)
		}
	}
}

func (d *Dashboard) handleStateAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.snapshot())
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	d.clientsMu.Lock()
	d.clients[conn] = true
	d.clientsMu.Unlock()

	if data, err := json.Marshal(d.snapshot()); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	d.clientsMu.Lock()
	delete(d.clients, conn)
	d.clientsMu.Unlock()
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <title>xaiviz - Model Status</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
        .header h1 { margin: 0; font-size: 2em; text-align: center; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); margin-bottom: 20px; }
        .card h3 { margin-top: 0; color: #333; border-bottom: 2px solid #eee; padding-bottom: 10px; }
        .metric { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #eee; }
        .metric:last-child { border-bottom: none; }
        .metric-label { font-weight: 500; color: #666; }
        .metric-value { font-weight: bold; color: #333; }
        .status-loaded { color: #28a745; }
        .status-empty { color: #dc3545; }
        .schema { font-family: monospace; color: #333; word-break: break-word; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header"><h1>Model Status</h1></div>
        <div class="card">
            <h3>Active Model</h3>
            <div class="metric"><span class="metric-label">Status</span><span class="metric-value" id="status">--</span></div>
            <div class="metric"><span class="metric-label">Artifact</span><span class="metric-value" id="path">--</span></div>
            <div class="metric"><span class="metric-label">Strategy</span><span class="metric-value" id="strategy">--</span></div>
            <div class="metric"><span class="metric-label">Type</span><span class="metric-value" id="model-type">--</span></div>
            <div class="metric"><span class="metric-label">Loaded At</span><span class="metric-value" id="loaded-at">--</span></div>
            <div class="metric"><span class="metric-label">Last Prediction</span><span class="metric-value" id="last-label">--</span></div>
        </div>
        <div class="card">
            <h3>Feature Schema</h3>
            <div class="schema" id="schema">--</div>
        </div>
    </div>

    <script>
        const ws = new WebSocket('ws://' + location.host + '/ws');
        ws.onmessage = function(event) { update(JSON.parse(event.data)); };
        ws.onclose = function() { setTimeout(() => location.reload(), 5000); };

        function update(data) {
            const status = document.getElementById('status');
            if (data.loaded) {
                status.textContent = 'Loaded';
                status.className = 'metric-value status-loaded';
            } else {
                status.textContent = 'No model';
                status.className = 'metric-value status-empty';
            }
            document.getElementById('path').textContent = data.path || '--';
            document.getElementById('strategy').textContent = data.strategy || '--';
            document.getElementById('model-type').textContent = data.modelType || '--';
            document.getElementById('loaded-at').textContent = data.loadedAt ? new Date(data.loadedAt).toLocaleTimeString() : '--';
            document.getElementById('last-label').textContent = data.lastLabel || '--';
            document.getElementById('schema').textContent = (data.schema || []).join(', ') || '--';
        }
    </script>
</body>
</html>
	`

	t, err := template.New("index").Parse(tmpl)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	t.Execute(w, nil)
}
