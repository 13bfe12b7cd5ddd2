// Package preview serves assembled items over HTTP with live reload:
// repository changes observed through the notifier are pushed to
// connected browsers over a websocket.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vellum-cms/vellum/internal/assembly"
	"github.com/vellum-cms/vellum/internal/config"
	"github.com/vellum-cms/vellum/internal/eval"
	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/types"
)

// Server is the preview HTTP server.
type Server struct {
	cfg     *config.Config
	service *assembly.Service
	logger  logging.Logger

	notifier *notify.Notifier
	sub      *notify.Subscription

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *client
	unregister   chan *websocket.Conn

	shutdownOnce sync.Once
}

// reloadMessage is pushed to browsers when repository content changes.
type reloadMessage struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a preview server over an assembly service.
func New(cfg *config.Config, service *assembly.Service, notifier *notify.Notifier, logger logging.Logger) *Server {
	return &Server{
		cfg:        cfg,
		service:    service,
		logger:     logger.WithComponent("preview"),
		notifier:   notifier,
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
	}
}

// Start runs the server until ctx is cancelled or ListenAndServe
// returns.
func (s *Server) Start(ctx context.Context) error {
	s.sub = s.notifier.Subscribe(s.onRepositoryEvent)
	go s.runHub(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/item/", s.handleItem)
	mux.HandleFunc("/", s.handleIndex)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.serverMutex.Lock()
	s.httpServer = server
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "preview server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown stops the server and disconnects all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.sub.Cancel()

		s.clientsMutex.Lock()
		for conn, c := range s.clients {
			close(c.send)
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		s.clients = make(map[*websocket.Conn]*client)
		s.clientsMutex.Unlock()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			err = server.Shutdown(shutdownCtx)
		}
	})
	return err
}

// onRepositoryEvent pushes a reload for any repository change; the
// browser cannot know which items an edit affects, so it always
// re-fetches.
func (s *Server) onRepositoryEvent(event notify.Event) {
	target := event.ItemID
	if target == "" {
		target = event.GUID
	}
	msg, merr := json.Marshal(reloadMessage{
		Type:      "reload",
		Target:    target,
		Timestamp: time.Now(),
	})
	if merr != nil {
		return
	}
	select {
	case s.broadcast <- msg:
	default:
		// Hub is saturated; browsers will catch the next change.
	}
}

// handleItem assembles and serves one item. The path is
// /item/<id>[/<template-id>]; reserved sys_* query parameters carry
// the rest of the request.
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	item, err := s.itemFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.service.AssembleSingle(r.Context(), item)
	if err != nil {
		s.logger.Error(r.Context(), err, "preview assembly failed", "item", item.ID)
		http.Error(w, "assembly failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	body := result.Body
	mime := result.MimeType
	if mime == "" {
		mime = "text/html"
	}
	if strings.HasPrefix(mime, "text/html") {
		body = injectReloadScript(body)
		w.Header().Set("Content-Type", mime+"; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", mime)
	}
	if result.Status != types.StatusSuccess {
		w.WriteHeader(http.StatusInternalServerError)
	}
	w.Write(body)
}

func (s *Server) itemFromRequest(r *http.Request) (*types.AssemblyItem, error) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/item/"), "/")
	if rest == "" {
		return nil, fmt.Errorf("missing item id")
	}
	parts := strings.SplitN(rest, "/", 2)

	item := &types.AssemblyItem{
		ID:     parts[0],
		Params: map[string][]string{},
	}
	if len(parts) == 2 {
		item.TemplateID = parts[1]
	}

	for name, values := range r.URL.Query() {
		item.Params[name] = values
	}
	if v := item.Param(eval.ParamContext); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", eval.ParamContext, v)
		}
		item.Context = n
	}
	if v := item.Param(eval.ParamRevision); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", eval.ParamRevision, v)
		}
		item.Revision = n
	}
	if item.Param(eval.ParamCommand) == "debug" {
		item.Debug = true
	}
	return item, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><head><title>vellum preview</title></head><body>
<h1>vellum preview</h1>
<p>Assemble an item at <code>/item/&lt;id&gt;[/&lt;template-id&gt;]</code>.</p>
</body></html>`)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMutex.RLock()
	clients := len(s.clients)
	s.clientsMutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clients,
	})
}

// injectReloadScript appends the live-reload snippet to an HTML body.
func injectReloadScript(body []byte) []byte {
	const script = `<script>
(function() {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var ws = new WebSocket(proto + "//" + location.host + "/ws");
  ws.onmessage = function(ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type === "reload") { location.reload(); }
  };
})();
</script>`

	out := string(body)
	if i := strings.LastIndex(strings.ToLower(out), "</body>"); i >= 0 {
		return []byte(out[:i] + script + out[i:])
	}
	return append(body, []byte(script)...)
}
