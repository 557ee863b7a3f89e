// Package statusserver is an optional gin + gorilla/websocket live
// dashboard that exposes GlobalStats and pushes broadcast messages
// (main.go sends one per Result) to connected clients, grounded on httptines' broadcast/clients
// websocket pattern (web.go) and the teacher's gin routing idiom.
package statusserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"subscheck/internal/ratelimit"
)

// Payload is one broadcast message, matching httptines' {kind, body}
// envelope shape.
type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves /stats, /results, and /ws over the current run state.
type Server struct {
	stats *ratelimit.GlobalStats

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	resultsMu sync.RWMutex
	results   any
}

// New constructs a Server reading live counters from stats.
func New(stats *ratelimit.GlobalStats) *Server {
	return &Server{stats: stats, clients: make(map[*websocket.Conn]bool)}
}

// Engine builds the gin router for this Server. Callers run it with
// their own http.Server/ListenAndServe so they control the bind
// address and shutdown ordering.
func (s *Server) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/stats", s.handleStats)
	r.GET("/results", s.handleResults)
	r.GET("/ws", s.handleWS)
	return r
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleResults(c *gin.Context) {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	if s.results == nil {
		c.JSON(http.StatusOK, gin.H{"results": []any{}})
		return
	}
	c.JSON(http.StatusOK, s.results)
}

// SetResults replaces the document served at /results, normally called
// once at run end with the final report.Document.
func (s *Server) SetResults(results any) {
	s.resultsMu.Lock()
	s.results = results
	s.resultsMu.Unlock()
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ [statusserver] ws upgrade failed: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
}

// Broadcast pushes one {kind, body} message to every connected
// dashboard client, pruning any connection that errors out (httptines'
// handleMessages pattern).
func (s *Server) Broadcast(kind string, body any) {
	msg, err := json.Marshal(Payload{Kind: kind, Body: body})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// ClientCount reports the number of currently connected websocket
// clients, used by tests.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
