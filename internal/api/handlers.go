package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"resource-orm/internal/ormerr"
	"resource-orm/internal/queryparse"
	"resource-orm/internal/resource"
	"resource-orm/internal/resultset"
)

const (
	paramWithTrashed = "with_trashed"
	paramOnlyTrashed = "only_trashed"
	paramHard        = "hard"
)

type listMeta struct {
	Pagination *resultset.Pagination             `json:"pagination,omitempty"`
	Aggregate  map[string]map[string]interface{} `json:"aggregate,omitempty"`
}

// service resolves the route's resource and applies the trashed-mode flags.
func (h *Handler) service(r *http.Request) (*resource.Service, error) {
	svc, err := h.manager.Resource(chi.URLParam(r, "resource"))
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	withTrashed, onlyTrashed := flag(q.Get(paramWithTrashed)), flag(q.Get(paramOnlyTrashed))
	switch {
	case withTrashed && onlyTrashed:
		return nil, ormerr.InvalidRequest("with_trashed and only_trashed are mutually exclusive")
	case withTrashed:
		return svc.WithTrashed()
	case onlyTrashed:
		return svc.OnlyTrashed()
	}
	return svc, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	spec, err := queryparse.ParseValues(r.URL.Query(), queryparse.WithClock(h.manager.Now))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	collection, err := svc.List(r.Context(), spec)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var meta listMeta
	if meta.Pagination, err = collection.Pagination(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	if len(spec.Aggregate) > 0 {
		if meta.Aggregate, err = collection.Aggregate(r.Context()); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Data: collection.Rows(), Meta: &meta})
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := svc.Count(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]int64{"count": total}})
}

func (h *Handler) read(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := svc.Read(r.Context(), routeID(r), splitFields(r.URL.Query()[queryparse.ParamFields])...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: row})
}

func (h *Handler) exists(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		w.WriteHeader(statusOf(err))
		return
	}
	found, err := svc.Exists(r.Context(), routeID(r))
	switch {
	case err != nil:
		h.logFailure(r, err)
		w.WriteHeader(statusOf(err))
	case found:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusCreated, func(svc *resource.Service, body map[string]interface{}) (map[string]interface{}, error) {
		return svc.Create(r.Context(), body)
	})
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusOK, func(svc *resource.Service, body map[string]interface{}) (map[string]interface{}, error) {
		return svc.Upsert(r.Context(), body)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, http.StatusOK, func(svc *resource.Service, body map[string]interface{}) (map[string]interface{}, error) {
		return svc.Update(r.Context(), routeID(r), body)
	})
}

func (h *Handler) replicate(w http.ResponseWriter, r *http.Request) {
	h.writeOptional(w, r, http.StatusCreated, func(svc *resource.Service, body map[string]interface{}) (map[string]interface{}, error) {
		return svc.Replicate(r.Context(), routeID(r), body)
	})
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := svc.Restore(r.Context(), routeID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: row})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := routeID(r)
	var deleted bool
	if flag(r.URL.Query().Get(paramHard)) {
		deleted, err = svc.HardDelete(r.Context(), id)
	} else {
		deleted, err = svc.Delete(r.Context(), id)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !deleted {
		h.fail(w, r, ormerr.DoesNotExist("unable to delete resource: resource does not exist"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type writeFunc func(svc *resource.Service, body map[string]interface{}) (map[string]interface{}, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, fn writeFunc) {
	h.runWrite(w, r, status, false, fn)
}

// writeOptional accepts an empty body as an empty object.
func (h *Handler) writeOptional(w http.ResponseWriter, r *http.Request, status int, fn writeFunc) {
	h.runWrite(w, r, status, true, fn)
}

func (h *Handler) runWrite(w http.ResponseWriter, r *http.Request, status int, optional bool, fn writeFunc) {
	svc, err := h.service(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := decodeBody(w, r, h.maxBodyBytes)
	if errors.Is(err, errEmptyBody) && optional {
		body, err = map[string]interface{}{}, nil
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	row, err := fn(svc, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, envelope{Data: row})
}

// routeID returns the {id} parameter, as an integer when it is one.
func routeID(r *http.Request) interface{} {
	raw := chi.URLParam(r, "id")
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && strconv.FormatInt(n, 10) == raw {
		return n
	}
	return raw
}

func splitFields(values []string) []string {
	var fields []string
	for _, v := range values {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func flag(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
