package middleware

import (
	"bytes"
	"net/http"

	"resource-orm/internal/dbexec"
	"resource-orm/internal/logging"
	"resource-orm/internal/resource"
)

// WriteTransactionMiddleware runs every state-changing request inside one
// database transaction. The response is buffered until the outcome is known:
// statuses below 400 commit, anything else rolls back. A failed commit replaces
// the buffered response with a 500.
func WriteTransactionMiddleware(beginner dbexec.TxBeginner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if beginner == nil || !isWriteMethod(r.Method) || resource.TransactionFromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			tx, err := beginner.BeginTx(r.Context())
			if err != nil {
				logging.FromContext(r.Context()).Error("unable to begin request transaction", "error", err)
				writeError(w, http.StatusInternalServerError, "unexpected", "unable to begin transaction")
				return
			}

			buf := &bufferedResponse{header: http.Header{}, status: http.StatusOK}
			defer func() {
				if rec := recover(); rec != nil {
					_ = tx.Rollback()
					panic(rec)
				}
			}()
			next.ServeHTTP(buf, r.WithContext(resource.WithTransaction(r.Context(), tx)))

			if buf.status >= http.StatusBadRequest {
				if err := tx.Rollback(); err != nil {
					logging.FromContext(r.Context()).Warn("request transaction rollback failed", "error", err)
				}
				buf.flushTo(w)
				return
			}
			if err := tx.Commit(); err != nil {
				logging.FromContext(r.Context()).Error("request transaction commit failed", "error", err)
				writeError(w, http.StatusInternalServerError, "unexpected", "unable to commit transaction")
				return
			}
			buf.flushTo(w)
		})
	}
}

func isWriteMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = values
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
