package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/deceptions"
	"github.com/lvonguyen/fortress/internal/heuristics"
	"github.com/lvonguyen/fortress/internal/scoring"
)

const (
	healthMessage       = "Fortress API is running"
	asyncAckMessage     = "Fraud detection request received and processing"
	wifiRecommendation  = "Use WPA2/WPA3, disable WPS, and change default router password."
	chatbotReply        = "Always verify the domain, look for HTTPS, and be wary of unexpected OTP or payment requests. I am a demo responder; connect me to a real AI later."
	readyCheckTimeout   = 2 * time.Second
	deceptionsDisabled  = "deception logging is not configured"
	networkScanDisabled = "network scanning is not configured"
)

// Health and readiness handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": s.cfg.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(s.deps.ReadyChecks))
	ready := true
	for name, check := range s.deps.ReadyChecks {
		if err := check(ctx); err != nil {
			s.log.Warn("Readiness check failed", zap.String("component", name), zap.Error(err))
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: healthMessage})
}

// Scoring handlers

type urlScanRequest struct {
	URL string `json:"url"`
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleURLScan(w http.ResponseWriter, r *http.Request) {
	var req urlScanRequest
	decodeBody(r, &req)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeData(w, heuristics.ScoreURL(req.URL))
}

func (s *Server) handleDetectFraud(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	decodeBody(r, &req)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if s.deps.Fraud == nil {
		// no enrichment wired: answer from the local analysis alone
		writeData(w, heuristics.AnalyzeText(req.Text))
		return
	}
	writeData(w, s.deps.Fraud.Assess(r.Context(), req.Text))
}

type asyncAck struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleDetectFraudAsync(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	decodeBody(r, &req)
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	writeJSON(w, http.StatusOK, asyncAck{Success: true, Message: asyncAckMessage, RequestID: uuid.NewString()})
}

// FraudStats reports cache and probe usage counters.
type FraudStats struct {
	CacheStats map[string]cache.Stats         `json:"cache_stats"`
	APIUsage   map[string]scoring.ProbeUsage `json:"api_usage"`
}

func (s *Server) handleFraudStats(w http.ResponseWriter, r *http.Request) {
	stats := FraudStats{CacheStats: make(map[string]cache.Stats, len(s.deps.Caches))}
	for _, c := range s.deps.Caches {
		stats.CacheStats[c.Name()] = c.Stats(r.Context())
	}
	stats.APIUsage = s.deps.Usage.Snapshot(slices.Concat(scoring.URLProbeNames, scoring.NetworkProbeNames)...)
	writeData(w, stats)
}

// Network handlers

func (s *Server) handleAutoWiFiScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Network == nil {
		writeError(w, http.StatusServiceUnavailable, networkScanDisabled)
		return
	}
	writeData(w, s.deps.Network.Scan(r.Context()))
}

type wifiDemo struct {
	SSID           string `json:"ssid"`
	Secure         bool   `json:"secure"`
	Recommendation string `json:"recommendation"`
}

func (s *Server) handleWiFiDemo(w http.ResponseWriter, r *http.Request) {
	writeData(w, wifiDemo{SSID: s.cfg.WiFiSSID, Secure: true, Recommendation: wifiRecommendation})
}

type wifiScanResponse struct {
	Success bool `json:"success"`
	scoring.WiFiAssessment
}

func (s *Server) handleWiFiScan(w http.ResponseWriter, r *http.Request) {
	var report scoring.WiFiReport
	if r.Body != nil {
		if err := jsonDecode(r, &report); err != nil {
			writeMessage(w, http.StatusBadRequest, "Failed to analyze Wi-Fi network: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, wifiScanResponse{Success: true, WiFiAssessment: scoring.AnalyzeWiFi(report)})
}

// Chatbot handler

type chatRequest struct {
	Message string `json:"message"`
}

type chatReply struct {
	Reply string `json:"reply"`
	Echo  string `json:"echo"`
}

func (s *Server) handleChatbot(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	decodeBody(r, &req)
	writeData(w, chatReply{Reply: chatbotReply, Echo: req.Message})
}

// Deception handlers

type logAck struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleDeceptionLog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deceptions == nil {
		writeError(w, http.StatusServiceUnavailable, deceptionsDisabled)
		return
	}

	var req deceptions.LogRequest
	decodeBody(r, &req)

	ev, err := s.deps.Deceptions.Log(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, logAck{ID: ev.ID, Status: ev.Status})
}

func (s *Server) handleDeceptionPublic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deceptions == nil {
		writeError(w, http.StatusServiceUnavailable, deceptionsDisabled)
		return
	}

	limit, err := queryInt(r, "limit", deceptions.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items := s.deps.Deceptions.Public(r.Context(), limit, skip)
	count := len(items)
	writeJSON(w, http.StatusOK, envelope{Success: true, Count: &count, Data: items})
}

func (s *Server) handleDeceptionGet(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deceptions == nil {
		writeError(w, http.StatusServiceUnavailable, deceptionsDisabled)
		return
	}

	details, err := s.deps.Deceptions.Get(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, deceptions.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	case errors.Is(err, deceptions.ErrNotPublished):
		writeMessage(w, http.StatusForbidden, "Not published")
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "Error")
	default:
		writeData(w, details)
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}
