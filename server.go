package main

import (
	"database/sql"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// maxPendingIdentifications bounds the in-memory set of analyzed-but-unsaved
// results. Saving a scan releases its entry; past the cap the oldest entry is
// evicted, and its suggestion is simply lost.
const maxPendingIdentifications = 256

// Server exposes the identification workflow over HTTP. Fresh, not-yet-saved
// identifications are held in memory keyed by fingerprint so suggestion
// actions and saves always land on the subject they belong to, even when a
// slow response arrives after the user moved on.
type Server struct {
	cfg        Config
	store      *Store
	identifier *Identifier

	mu      sync.Mutex
	pending map[string]*pendingIdentification
}

// pendingIdentification carries its own lock: suggestion transitions and the
// save read the same scan and review, and requests for one fingerprint may
// arrive concurrently.
type pendingIdentification struct {
	mu       sync.Mutex
	scan     ScanRecord
	review   *SuggestionReview
	enqueued time.Time
}

func NewServer(cfg Config, store *Store, identifier *Identifier) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		identifier: identifier,
		pending:    make(map[string]*pendingIdentification),
	}
}

func (s *Server) Router() *gin.Engine {
	router := gin.Default()

	router.GET("/health", s.handleHealth)
	router.POST("/api/analyze", s.handleAnalyze)
	router.POST("/api/analyze/:fingerprint/suggestion/apply", s.handleSuggestionApply)
	router.POST("/api/analyze/:fingerprint/suggestion/dismiss", s.handleSuggestionDismiss)
	router.POST("/api/scans", s.handleSaveScan)
	router.GET("/api/scans", s.handleListScans)
	router.GET("/api/scans/:id", s.handleGetScan)
	router.POST("/api/scans/:id/correct", s.handleCorrect)
	router.GET("/api/corrections/summary", s.handleCorrectionSummary)
	router.DELETE("/api/corrections", s.handleClearCorrections)

	return router
}

func (s *Server) Run() error {
	log.Printf("HTTP server listening on %s", s.cfg.HTTPAddr)
	return s.Router().Run(s.cfg.HTTPAddr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type analyzeArgs struct {
	Image string `json:"image"`
}

type suggestionView struct {
	OriginalName  string `json:"original_name"`
	SuggestedName string `json:"suggested_name"`
	Count         int    `json:"count"`
}

type analyzeResponse struct {
	Scan        ScanRecord      `json:"scan"`
	FromHistory bool            `json:"from_history"`
	Suggestion  *suggestionView `json:"suggestion,omitempty"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var args analyzeArgs
	if err := c.BindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read JSON input"})
		return
	}
	if args.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image provided"})
		return
	}

	imageBytes, mediaType, err := decodeImagePayload(args.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is not valid base64"})
		return
	}

	ident, err := s.identifier.Identify(c.Request.Context(), imageBytes, mediaType)
	if err != nil {
		if errors.Is(err, ErrAnalysisFailed) {
			log.Printf("analyze failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
			return
		}
		log.Printf("analyze error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if !ident.FromHistory {
		s.rememberPending(ident.Scan.Fingerprint, &pendingIdentification{
			scan:     ident.Scan,
			review:   ident.Review,
			enqueued: time.Now(),
		})
	}

	c.JSON(http.StatusOK, analyzeResponse{
		Scan:        ident.Scan,
		FromHistory: ident.FromHistory,
		Suggestion:  suggestionViewFor(ident.Review),
	})
}

func suggestionViewFor(review *SuggestionReview) *suggestionView {
	if review == nil || review.State() != SuggestionOffered {
		return nil
	}
	cand := review.Candidate()
	return &suggestionView{
		OriginalName:  cand.OriginalName,
		SuggestedName: cand.SuggestedName,
		Count:         cand.Count,
	}
}

// decodeImagePayload accepts raw base64 or a data URL and returns the image
// bytes plus the declared media type.
func decodeImagePayload(payload string) ([]byte, string, error) {
	mediaType := "image/jpeg"
	if strings.HasPrefix(payload, "data:") {
		head, rest, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", errors.New("malformed data URL")
		}
		head = strings.TrimPrefix(head, "data:")
		if mt, _, ok := strings.Cut(head, ";"); ok && mt != "" {
			mediaType = mt
		}
		payload = rest
	}
	imageBytes, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return imageBytes, mediaType, nil
}

func (s *Server) rememberPending(fingerprint string, p *pendingIdentification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[fingerprint]; !exists && len(s.pending) >= maxPendingIdentifications {
		oldest := ""
		var oldestAt time.Time
		for fp, entry := range s.pending {
			if oldest == "" || entry.enqueued.Before(oldestAt) {
				oldest, oldestAt = fp, entry.enqueued
			}
		}
		log.Printf("pending identifications at cap, evicting fingerprint=%.12s", oldest)
		delete(s.pending, oldest)
	}
	s.pending[fingerprint] = p
}

func (s *Server) pendingFor(fingerprint string) (*pendingIdentification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[fingerprint]
	return p, ok
}

func (s *Server) forgetPending(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, fingerprint)
}

func (s *Server) handleSuggestionApply(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	p, ok := s.pendingFor(fingerprint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending identification for fingerprint"})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.review.Apply(&p.scan); err != nil {
		log.Printf("suggestion apply error fingerprint=%.12s: %v", fingerprint, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"scan": p.scan, "state": p.review.State().String()})
}

func (s *Server) handleSuggestionDismiss(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	p, ok := s.pendingFor(fingerprint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending identification for fingerprint"})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.review.Dismiss(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": p.review.State().String()})
}

type saveScanArgs struct {
	Fingerprint string `json:"fingerprint"`
}

func (s *Server) handleSaveScan(c *gin.Context) {
	var args saveScanArgs
	if err := c.BindJSON(&args); err != nil || args.Fingerprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint is required"})
		return
	}

	p, ok := s.pendingFor(args.Fingerprint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending identification for fingerprint"})
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := s.store.SaveScan(p.scan); err != nil {
		log.Printf("save scan error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save the scan"})
		return
	}
	// Saved scans replay from history; the pending entry is done.
	s.forgetPending(args.Fingerprint)
	c.JSON(http.StatusOK, gin.H{"scan": p.scan})
}

func (s *Server) handleListScans(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	scans, err := s.store.ListScans(limit)
	if err != nil {
		log.Printf("list scans error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans, "count": len(scans)})
}

func (s *Server) handleGetScan(c *gin.Context) {
	rec, err := s.store.ScanByID(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}
	if err != nil {
		log.Printf("get scan error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

type correctArgs struct {
	Name      string `json:"name"`
	Attribute string `json:"attribute"`
	GPower    int    `json:"g_power"`
	Variant   string `json:"variant"`
}

func (s *Server) handleCorrect(c *gin.Context) {
	var args correctArgs
	if err := c.BindJSON(&args); err != nil || args.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "corrected name is required"})
		return
	}

	rec, err := s.store.ScanByID(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}
	if err != nil {
		log.Printf("correct scan lookup error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	ev, err := s.store.RecordCorrection(CorrectionEvent{
		Fingerprint:        rec.Fingerprint,
		OriginalName:       rec.Name,
		CorrectedName:      args.Name,
		CorrectedAttribute: args.Attribute,
		CorrectedGPower:    args.GPower,
		CorrectedVariant:   args.Variant,
	})
	if err != nil {
		// The user's correction did not take effect; say so.
		log.Printf("record correction error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "correction was not saved: " + err.Error()})
		return
	}

	if err := s.store.UpdateScanIdentity(rec.ID, args.Name, args.Attribute, args.GPower, true); err != nil {
		log.Printf("correct scan update error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "correction recorded but scan update failed"})
		return
	}

	updated, err := s.store.ScanByID(rec.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scan": updated, "correction": ev})
}

func (s *Server) handleCorrectionSummary(c *gin.Context) {
	limit := s.cfg.SummaryMaxItems
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	summary, err := s.store.CorrectionSummary(limit)
	if err != nil {
		log.Printf("correction summary error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleClearCorrections(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clearing correction history is irreversible; pass confirm=true"})
		return
	}
	if err := s.store.ClearCorrections(); err != nil {
		log.Printf("clear corrections error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear correction history"})
		return
	}
	log.Printf("correction history cleared")
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
