package app

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"collab-sync/pkg/config"
	"collab-sync/pkg/db"
	"collab-sync/pkg/handlers"
	"collab-sync/pkg/session"
)

// Server represents the application server
type Server struct {
	router   *mux.Router
	manager  *session.Manager
	handlers *handlers.Handlers
	docStore db.IDocumentStore
	config   *config.Config
	log      zerolog.Logger
}

// NewServer wires the document store, session manager, handlers and routes.
func NewServer(cfg *config.Config, log zerolog.Logger) (*Server, error) {
	docStore, err := db.NewPostgresDocumentStore(cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(docStore, log)
	h := handlers.NewHandlers(manager, docStore, log)

	r := mux.NewRouter()

	// WebSocket endpoint for real-time collaboration
	r.HandleFunc("/ws/{documentId}", h.HandleWebSocket)

	// REST API endpoints for the document catalog
	r.HandleFunc("/api/documents", h.CreateDocument).Methods("POST")
	r.HandleFunc("/api/documents", h.ListDocuments).Methods("GET")
	r.HandleFunc("/api/documents/{id}", h.GetDocument).Methods("GET")
	r.HandleFunc("/api/documents/{id}", h.UpdateDocument).Methods("PUT")
	r.HandleFunc("/api/documents/{id}", h.DeleteDocument).Methods("DELETE")
	r.HandleFunc("/api/documents/{id}/peers", h.GetDocumentPeers).Methods("GET")

	return &Server{
		router:   r,
		manager:  manager,
		handlers: h,
		docStore: docStore,
		config:   cfg,
		log:      log,
	}, nil
}

// Start starts the server
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.config.GetServerAddr()
	}
	s.log.Info().Str("addr", addr).Msg("starting collaborative editor server")
	return http.ListenAndServe(addr, corsMiddleware(s.router))
}

// corsMiddleware handles CORS headers and answers preflight requests at the
// outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close closes the server and database connections
func (s *Server) Close() error {
	if postgresStore, ok := s.docStore.(*db.PostgresDocumentStore); ok {
		return postgresStore.Close()
	}
	return nil
}
