package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/observatory/internal/crypto"
	"github.com/eldtechnologies/observatory/internal/models"
	"github.com/eldtechnologies/observatory/internal/ratelimit"
	"github.com/eldtechnologies/observatory/internal/store"
)

const (
	maxJobDescription = 500
	maxJobContact     = 200
)

// serviceTypes are the job categories accepted by POST /api/jobs.
var serviceTypes = map[string]bool{
	"market-research": true,
	"content-writing": true,
	"data-analysis":   true,
	"social-media":    true,
	"tech-docs":       true,
	"monitoring":      true,
}

// JobRequest is a service request from the public form.
type JobRequest struct {
	ServiceType string `json:"serviceType"`
	Description string `json:"description"`
	Contact     string `json:"contact"`
}

type bridgeJob struct {
	Text        string `json:"text"`
	TS          int64  `json:"ts"`
	Source      string `json:"source"`
	NeedsReview bool   `json:"needsReview"`
	JobID       string `json:"jobId"`
	ServiceType string `json:"serviceType"`
	Contact     string `json:"contact,omitempty"`
}

// CreateJob records a service request and forwards it to the bridge as a
// prompt flagged for review.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ip := clientIP(r)

	wait, err := h.cooldown.Check(ctx, ratelimit.ScopeJobs, ip, ratelimit.JobsWindow)
	if err != nil {
		h.logger.Warn().Err(err).Msg("jobs cooldown check failed")
	}
	if wait > 0 {
		h.tooManyRequests(w, wait, map[string]string{"error": "rate limited"})
		return
	}

	var req JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if !serviceTypes[req.ServiceType] {
		h.Error(w, http.StatusBadRequest, "invalid service type")
		return
	}

	description := sanitizeText(req.Description)
	if description == "" || utf8.RuneCountInString(description) > maxJobDescription {
		h.Error(w, http.StatusBadRequest, "invalid description")
		return
	}

	contact := sanitizeText(req.Contact)
	if utf8.RuneCountInString(contact) > maxJobContact {
		contact = string([]rune(contact)[:maxJobContact])
	}

	if !h.bridge.CanForward() {
		h.Error(w, http.StatusInternalServerError, "misconfigured")
		return
	}

	fp := crypto.Fingerprint(contact, description, r.UserAgent())
	fresh, wait, err := h.cooldown.Allow(ctx, ratelimit.ScopeJobFP, fp, ratelimit.JobDedupWindow)
	if err != nil {
		h.logger.Warn().Err(err).Msg("job fingerprint check failed")
	} else if !fresh {
		h.tooManyRequests(w, wait, map[string]string{"error": "duplicate request"})
		return
	}

	if err := h.cooldown.Mark(ctx, ratelimit.ScopeJobs, ip, ratelimit.JobsWindow); err != nil {
		h.logger.Warn().Err(err).Msg("jobs cooldown mark failed")
	}

	job := &models.Job{
		JobID:       crypto.NewJobID(),
		ServiceType: req.ServiceType,
		Description: description,
		Contact:     contact,
		Status:      "pending",
		TS:          h.now().UnixMilli(),
	}

	if h.kv != nil {
		err := store.SaveJob(ctx, h.kv, job)
		switch {
		case errors.Is(err, store.ErrIndexStale):
			h.logger.Warn().Err(err).Str("job", job.JobID).Msg("job stored, index not updated")
		case err != nil:
			h.logger.Warn().Err(err).Str("job", job.JobID).Msg("job record not stored")
		}
	}

	label := strings.ReplaceAll(job.ServiceType, "-", " ")
	err = h.bridge.Prompt(ctx, bridgeJob{
		Text:        "[Service Request: " + label + "] " + description,
		TS:          job.TS,
		Source:      "observatory",
		NeedsReview: true,
		JobID:       job.JobID,
		ServiceType: job.ServiceType,
		Contact:     contact,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("job", job.JobID).Msg("job forward failed")
		h.Error(w, http.StatusBadGateway, "upstream error")
		return
	}

	h.logger.Info().Str("job", job.JobID).Str("service", job.ServiceType).Msg("job submitted")
	h.JSON(w, http.StatusOK, map[string]interface{}{"ok": true, "jobId": job.JobID})
}

// GetJob returns a stored service job (master key). Records expire after
// store.JobTTL.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.kv == nil {
		h.Error(w, http.StatusServiceUnavailable, "job store not configured")
		return
	}

	jobID := chi.URLParam(r, "jobId")
	job, err := store.GetJob(r.Context(), h.kv, jobID)
	if err != nil {
		h.logger.Warn().Err(err).Str("job", jobID).Msg("job lookup failed")
		h.Error(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if job == nil {
		h.Error(w, http.StatusNotFound, "job not found")
		return
	}

	h.JSON(w, http.StatusOK, job)
}
