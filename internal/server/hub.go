package server

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/Tyrowin/voicerelay/internal/config"
	"github.com/Tyrowin/voicerelay/internal/metrics"
	"github.com/Tyrowin/voicerelay/internal/protocol"
)

// Hub owns every connected client and every voice room. Clients, rooms and
// each client's current room are only touched while holding mu.
type Hub struct {
	cfg     *config.Config
	metrics *metrics.AppMetrics

	mu      sync.Mutex
	clients map[protocol.ClientID]*Client
	rooms   map[string]*VoiceRoom
	lastID  protocol.ClientID

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to be started with Run. A nil appMetrics records
// into a no-op meter.
func NewHub(cfg *config.Config, appMetrics *metrics.AppMetrics) *Hub {
	if appMetrics == nil {
		// the no-op meter never fails to create instruments
		appMetrics, _ = metrics.NewAppMetrics(noop.NewMeterProvider().Meter(""))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		metrics:    appMetrics,
		clients:    make(map[protocol.ClientID]*Client),
		rooms:      make(map[string]*VoiceRoom),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop: client registration, inbound routing and
// disconnect cleanup. It must run in its own goroutine and returns after
// Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Debugf("received nil client registration; skipping")
				continue
			}
			h.registerClient(client)
			h.startPumps(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case frame := <-h.inbound:
			h.route(frame.sender, frame.data)
		}
	}
}

// Register hands a freshly upgraded client to the hub, which assigns its id
// and starts its pumps. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// submit queues a frame for routing. The call blocks until the hub has taken
// the frame, which keeps one client's frames in order.
func (h *Hub) submit(sender *Client, data []byte) bool {
	select {
	case h.inbound <- inboundFrame{sender: sender, data: data}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leaveHub(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) startPumps(client *Client) {
	if client.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// deliver queues data on one recipient's outbound queue. It never blocks: a
// full queue drops the frame for that recipient only. Callers hold h.mu.
func (h *Hub) deliver(client *Client, data []byte) bool {
	select {
	case client.send <- data:
		return true
	default:
		client.logger().Warnf("outbound queue full, dropping frame")
		h.metrics.DeliveryFailed()
		return false
	}
}

// deliverEvent encodes ev with the recipient's codec and queues it.
// Callers hold h.mu.
func (h *Hub) deliverEvent(client *Client, ev *outbound) bool {
	data, err := ev.bytesFor(client.codec)
	if err != nil {
		client.logger().Errorf("failed encoding %T: %v", ev.value, err)
		h.metrics.DeliveryFailed()
		return false
	}
	return h.deliver(client, data)
}

// broadcastAll sends ev to every registered client except exclude, which may
// be nil. Callers hold h.mu.
func (h *Hub) broadcastAll(ev *outbound, exclude *Client) int {
	sent := 0
	for _, client := range h.clients {
		if client == exclude {
			continue
		}
		if h.deliverEvent(client, ev) {
			sent++
		}
	}
	return sent
}

// unicast sends ev to the client with the given id. Unknown ids are ignored.
// Callers hold h.mu.
func (h *Hub) unicast(target protocol.ClientID, ev *outbound) bool {
	client, ok := h.clients[target]
	if !ok {
		log.Debugf("unicast target %d is not connected; dropping %T", target, ev.value)
		return false
	}
	return h.deliverEvent(client, ev)
}

// shutdownClients closes every client connection and outbound queue so all
// pumps can exit.
func (h *Hub) shutdownClients() {
	log.Infof("shutting down all client connections...")

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
		clients = append(clients, client)
	}
	for id := range h.rooms {
		delete(h.rooms, id)
	}
	h.mu.Unlock()

	for _, client := range clients {
		client.closeConnection()
	}

	log.Infof("closed %d client connections", len(clients))
}

// Shutdown stops the event loop and waits for all client goroutines to finish
// or for the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Infof("initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Infof("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Warnf("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Stats is a point-in-time view of the hub used by the /stats endpoint.
type Stats struct {
	Clients []protocol.ClientID            `json:"clients"`
	Rooms   map[string][]protocol.ClientID `json:"rooms"`
}

// Stats returns a consistent snapshot of clients and rooms.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Clients: h.rosterLocked(),
		Rooms:   h.roomsLocked(),
	}
}
