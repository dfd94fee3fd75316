package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/orian/sqlmedic/heal"
	"github.com/orian/sqlmedic/models"
)

// Server handles HTTP requests and coordinates the healing pipeline,
// telemetry capture, and history storage.
type Server struct {
	orchestrator *heal.Orchestrator
	telemetry    *ClickHouseTelemetry
}

func NewServer(orchestrator *heal.Orchestrator, telemetry *ClickHouseTelemetry) *Server {
	return &Server{
		orchestrator: orchestrator,
		telemetry:    telemetry,
	}
}

func (s *Server) handleHeal(w http.ResponseWriter, r *http.Request) {
	var req HealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query, policy, err := normalizeHealRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.orchestrator.Heal(r.Context(), query, policy)
	log.Printf("Healed %s: status=%s improvement=%.1f%%", query.Hash, result.Status, result.ImprovementPercent)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	var req HealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query, _, err := normalizeHealRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	findings := s.orchestrator.DetectFindings(r.Context(), query)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(findings)
}

func (s *Server) handlePreviewFixes(w http.ResponseWriter, r *http.Request) {
	var req HealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query, _, err := normalizeHealRequest(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fixes := s.orchestrator.GenerateFixes(r.Context(), query)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fixes)
}

func (s *Server) handleApplyFixes(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rewritten, applied := s.orchestrator.ApplyFixes(req.Query, req.Fixes, heal.ApplyOptions{
		MinConfidence:  req.MinConfidence,
		AggressiveMode: req.AggressiveMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rewrittenQuery": rewritten,
		"appliedFixes":   applied,
	})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	result := s.orchestrator.Rollback(hash)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	history, ok := s.orchestrator.GetHistory(hash)
	if !ok {
		http.Error(w, "no healing history found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.orchestrator.SetEnabled(hash, req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("Healing for %s set enabled=%v", hash, req.Enabled)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleTopQueries(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		http.Error(w, "telemetry source not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	queries, err := s.telemetry.TopQueries(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(queries)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"connected": s.telemetry != nil,
		"timestamp": time.Now().Unix(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func maskPassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	if len(password) <= 2 {
		return password
	}
	return string(password[0]) + strings.Repeat("*", len(password)-2) + string(password[len(password)-1])
}

func main() {
	// Optional .env file for local development.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	chUser := os.Getenv("CLICKHOUSE_USER")
	chPassword := os.Getenv("CLICKHOUSE_PASSWORD")
	chHost := os.Getenv("CLICKHOUSE_HOST")
	chDatabase := os.Getenv("CLICKHOUSE_DATABASE")

	if chHost == "" {
		chHost = "localhost:9000"
	}
	if chUser == "" {
		chUser = "default"
	}
	if chDatabase == "" {
		chDatabase = "default"
	}

	useSecure := strings.Contains(chHost, ":9440") || os.Getenv("CLICKHOUSE_SECURE") == "true"

	log.Println("=== ClickHouse Connection Details ===")
	log.Printf("Host: %s", chHost)
	log.Printf("Database: %s", chDatabase)
	log.Printf("User: %s", chUser)
	log.Printf("Password: %s", maskPassword(chPassword))
	log.Printf("Secure: %v", useSecure)
	log.Println("=====================================")

	options := &clickhouse.Options{
		Addr: []string{chHost},
		Auth: clickhouse.Auth{
			Database: chDatabase,
			Username: chUser,
			Password: chPassword,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "sqlmedic", Version: "1.0"},
			},
		},
		Debug: false,
		Settings: clickhouse.Settings{
			"send_logs_level": "none",
		},
	}

	if useSecure {
		options.TLS = &tls.Config{
			InsecureSkipVerify: true,
		}
		log.Printf("Using secure connection to ClickHouse (TLS enabled, accepting invalid certificates)")
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		log.Printf("Warning: ClickHouse ping failed: %v", err)
	} else {
		log.Println("Successfully connected to ClickHouse")
	}

	// History store: DuckDB for durability.
	dbPath := os.Getenv("DUCKDB_PATH")
	if dbPath == "" {
		dbPath = "./sqlmedic.db"
	}
	var store models.HistoryStore
	store, err = NewDuckDBHistoryStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize history store: %v", err)
	}
	defer store.Close()
	log.Printf("DuckDB history store initialized at: %s", dbPath)

	telemetry := NewClickHouseTelemetry(conn)

	orchestrator := heal.NewOrchestrator(store)
	orchestrator.Telemetry = telemetry
	orchestrator.Validator.Plans = NewExplainComparer(conn)

	// Optional LLM advisory collaborator.
	if advisoryURL := os.Getenv("ADVISORY_URL"); advisoryURL != "" {
		advisoryModel := os.Getenv("ADVISORY_MODEL")
		if advisoryModel == "" {
			advisoryModel = "gpt-4o-mini"
		}
		orchestrator.Validator.Advisor = NewAdvisoryClient(advisoryURL, os.Getenv("ADVISORY_API_KEY"), advisoryModel)
		log.Printf("Semantic advisory enabled via %s (model %s)", advisoryURL, advisoryModel)
	} else {
		log.Println("No ADVISORY_URL configured, validation is rule-based only")
	}

	server := NewServer(orchestrator, telemetry)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/api", func(r chi.Router) {
		// Healing pipeline
		r.Post("/heal", server.handleHeal)
		r.Post("/findings", server.handleFindings)
		r.Post("/fixes/preview", server.handlePreviewFixes)
		r.Post("/fixes/apply", server.handleApplyFixes)

		// Per-hash controls
		r.Route("/queries/{hash}", func(r chi.Router) {
			r.Post("/rollback", server.handleRollback)
			r.Get("/history", server.handleGetHistory)
			r.Put("/enabled", server.handleSetEnabled)
		})

		// Telemetry capture
		r.Get("/queries/top", server.handleTopQueries)
		r.Get("/server/ping", server.handlePing)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Starting server on http://localhost:%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
