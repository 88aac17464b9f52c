package relay

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/obscura-relay/relay/pkg/middleware"
	"github.com/obscura-relay/relay/pkg/sphinx"
)

// registerMetrics wires the relay's counters as prometheus GaugeFuncs on
// a private registry: Stats() already holds the authoritative monotonic
// counts, so /metrics reads through to it on every scrape instead of
// keeping a second, independently incremented copy that could drift out
// of sync. A registry scoped to this server (rather than the global
// default) lets more than one relay run in the same process, as the
// scenario and e2e tests do.
func registerMetrics(reg *prometheus.Registry, r *Relay) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_packets_received_total",
		Help: "Total packets received on the public surface.",
	}, func() float64 { return float64(r.Stats().Received) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_packets_forwarded_total",
		Help: "Total packets successfully forwarded to the next hop.",
	}, func() float64 { return float64(r.Stats().Forwarded) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_packets_delivered_total",
		Help: "Total packets delivered to the terminal sink.",
	}, func() float64 { return float64(r.Stats().Delivered) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_deaddrop_stored_total",
		Help: "Total dead-drop store requests accepted.",
	}, func() float64 { return float64(r.Stats().Stored) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_packets_rejected_total",
		Help: "Total packets rejected (MAC failure, malformed opcode, full drop).",
	}, func() float64 { return float64(r.Stats().Rejected) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "obscura_relay_outbound_batch_size",
		Help: "Current outbound mix-batch occupancy.",
	}, func() float64 { return float64(r.BatchSize()) })
}

// Server is the relay's HTTP surface: health, packet ingestion, metrics.
type Server struct {
	relay      *Relay
	httpServer *http.Server
}

// NewServer builds the relay's HTTP surface bound to addr.
func NewServer(r *Relay, addr string, rateLimit RateLimitConfig) *Server {
	s := &Server{relay: r}

	reg := prometheus.NewRegistry()
	registerMetrics(reg, r)

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	limiter := middleware.NewRateLimiter(rateLimit.RequestsPerSecond, rateLimit.Burst)
	router.Handle("/packet", limiter.Middleware(http.HandlerFunc(s.handlePacket))).Methods(http.MethodPost)
	router.HandleFunc("/v1/deaddrop/replicate", s.handleReplicate).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServeTLS starts the server with TLS using certFile/keyFile if
// both are set, otherwise plaintext (development/test use only). The
// server presents its certificate only: it does not request or verify
// client certificates, and it sets no TLS version floor of its own.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return s.httpServer.ListenAndServeTLS(certFile, keyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Close gracefully shuts the HTTP server down.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "healthy",
		"node_id": hex.EncodeToString(s.relay.NodeID()[:]),
		"layer":   s.relay.cfg.Layer,
	})
}

func (s *Server) handlePacket(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, sphinx.WireSize+1))
	if err != nil {
		http.Error(w, "failed to read packet", http.StatusBadRequest)
		return
	}
	defer req.Body.Close()

	var pkt sphinx.Packet
	if err := pkt.UnmarshalBinary(body); err != nil {
		http.Error(w, "malformed packet", http.StatusBadRequest)
		return
	}

	if err := s.relay.HandleInbound(&pkt); err != nil {
		http.Error(w, "rejected", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReplicate(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil || len(body) < 64 {
		http.Error(w, "malformed replica payload", http.StatusBadRequest)
		return
	}
	defer req.Body.Close()

	var dropID, accessToken [32]byte
	copy(dropID[:], body[0:32])
	copy(accessToken[:], body[32:64])
	payload := body[64:]

	if _, err := s.relay.drops.Store(dropID, accessToken, payload); err != nil {
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
