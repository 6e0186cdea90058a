// Package api exposes registered resources over a JSON REST interface.
//
// Routes, relative to the mount point:
//
//	GET    /{resource}                  list (query string parsed by queryparse)
//	GET    /{resource}/_count           count
//	POST   /{resource}                  create
//	PUT    /{resource}                  upsert
//	GET    /{resource}/{id}             read (fields=a,b)
//	HEAD   /{resource}/{id}             exists
//	PATCH  /{resource}/{id}             update
//	DELETE /{resource}/{id}             delete, hard=1 for hard delete
//	POST   /{resource}/{id}/replicate   replicate with optional overrides
//	POST   /{resource}/{id}/restore     restore a trashed row
//
// Read-family routes accept with_trashed=1 or only_trashed=1.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"resource-orm/internal/logging"
	"resource-orm/internal/resource"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Handler serves the resource routes for one Manager.
type Handler struct {
	manager      *resource.Manager
	logger       *logging.Logger
	maxBodyBytes int64
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLogger sets the fallback logger used when a request carries none.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMaxBodyBytes limits the size of JSON request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// New returns a Handler for manager.
func New(manager *resource.Manager, opts ...Option) *Handler {
	h := &Handler{
		manager:      manager,
		logger:       &logging.Logger{Logger: slog.Default()},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns a router to mount under a prefix such as /resources.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusNotFound, "not_found", "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", "")
	})

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Put("/", h.upsert)
		r.Get("/_count", h.count)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.read)
			r.Head("/", h.exists)
			r.Patch("/", h.update)
			r.Delete("/", h.delete)
			r.Post("/replicate", h.replicate)
			r.Post("/restore", h.restore)
		})
	})
	return r
}
