package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// Acceptor turns WebSocket upgrade requests into hub clients and hands every
// other request to the static file handler.
type Acceptor struct {
	hub      *Hub
	upgrader websocket.Upgrader
	static   http.Handler
}

// NewAcceptor creates an Acceptor serving static files from staticDir.
func NewAcceptor(hub *Hub, origins *originPolicy, staticDir string) *Acceptor {
	return &Acceptor{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    protocol.Subprotocols(),
			CheckOrigin:     origins.checkOrigin,
		},
		static: StaticHandler(staticDir),
	}
}

func (a *Acceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		a.serveWebSocket(w, r)
		return
	}
	a.static.ServeHTTP(w, r)
}

// serveWebSocket upgrades the connection and registers the new client. A
// failed handshake is logged and the connection dropped.
func (a *Acceptor) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket handshake from %s failed: %v", r.RemoteAddr, err)
		return
	}

	codec := protocol.CodecFor(conn.Subprotocol())
	client := NewClient(conn, a.hub, r.RemoteAddr, codec)
	client.logger().Debugf("websocket upgraded with codec %s", codec.Name())

	if !a.hub.Register(client) {
		client.logger().Warnf("hub is stopped; closing new connection")
		client.closeConnection()
	}
}

// StaticHandler serves files from dir with a content type guessed from the
// file extension, and 404 for anything missing. Directories are only served
// through their index.html; they are never listed. Only GET and HEAD are
// served.
func StaticHandler(dir string) http.Handler {
	root := http.Dir(dir)
	files := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if isBareDirectory(root, r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// isBareDirectory reports whether urlPath names a directory with no
// index.html in it.
func isBareDirectory(root http.FileSystem, urlPath string) bool {
	name := path.Clean("/" + urlPath)

	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.IsDir() {
		return false
	}

	index, err := root.Open(path.Join(name, "index.html"))
	if err != nil {
		return true
	}
	_ = index.Close()
	return false
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "voicerelay server is running!")
}

// StatsHandler reports the connected clients and voice rooms as JSON.
func StatsHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Stats()); err != nil {
			log.Warnf("error writing stats response: %v", err)
		}
	}
}
