package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"finsight/internal/assistant"
	"finsight/internal/common/database"
	apperrors "finsight/internal/common/errors"
	"finsight/internal/common/logger"
	"finsight/internal/guardrails"
	"finsight/internal/history"
)

type router struct {
	service   *assistant.Service
	ruleStore *guardrails.Store
	ruleCache *guardrails.Cache
	history   *history.Store
	pg        *database.PostgresClient
	log       logger.Logger
}

func newRouter(service *assistant.Service, ruleStore *guardrails.Store, ruleCache *guardrails.Cache, historyStore *history.Store, pg *database.PostgresClient, log logger.Logger) http.Handler {
	rt := &router{
		service:   service,
		ruleStore: ruleStore,
		ruleCache: ruleCache,
		history:   historyStore,
		pg:        pg,
		log:       log,
	}

	r := chi.NewRouter()
	r.Get("/healthz", rt.health)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/debug/pprof/*", pprof.Index)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)

	r.Post("/api/ask", rt.ask)
	r.Get("/api/history", rt.recentHistory)

	r.Route("/api/guardrails", func(r chi.Router) {
		r.Get("/", rt.listRules)
		r.Post("/", rt.createRule)
		r.Put("/{id}", rt.updateRule)
		r.Delete("/{id}", rt.deleteRule)
	})
	return r
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rt.pg.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Query string `json:"query"`
	CIF   string `json:"cif"`
}

func (rt *router) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" || req.CIF == "" {
		writeError(w, http.StatusBadRequest, "query and cif are required")
		return
	}

	result := rt.service.Answer(r.Context(), req.Query, req.CIF)

	status := http.StatusOK
	if result.Status == assistant.StatusError {
		status = http.StatusInternalServerError
		if result.Error != nil && result.Error.Code == apperrors.ErrCodeInputInvalid {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, result)
}

func (rt *router) recentHistory(w http.ResponseWriter, r *http.Request) {
	cif := r.URL.Query().Get("cif")
	if cif == "" {
		writeError(w, http.StatusBadRequest, "cif is required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := rt.history.Recent(r.Context(), cif, limit)
	if err != nil {
		rt.log.Error("failed to load history", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (rt *router) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := rt.ruleStore.ListActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load guardrail rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (rt *router) createRule(w http.ResponseWriter, r *http.Request) {
	var rule guardrails.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}
	if err := rt.ruleStore.Create(r.Context(), &rule); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	rt.ruleCache.Invalidate()
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *router) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule guardrails.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule body")
		return
	}
	rule.ID = chi.URLParam(r, "id")

	err := rt.ruleStore.Update(r.Context(), &rule)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeInputInvalid {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	rt.ruleCache.Invalidate()
	writeJSON(w, http.StatusOK, rule)
}

func (rt *router) deleteRule(w http.ResponseWriter, r *http.Request) {
	err := rt.ruleStore.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.ErrCodeInputInvalid {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	rt.ruleCache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
