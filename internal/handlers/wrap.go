package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"

	"github.com/maneesh/cloudspace/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handle adapts a typed function to an http.Handler. GET and DELETE inputs
// are bound from `query` tagged fields; other methods decode a JSON body.
func handle[In any, Out any](a *API, fn func(context.Context, *In) (Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		input := new(In)

		switch r.Method {
		case http.MethodGet, http.MethodDelete:
			bindQuery(r.URL.Query(), input)
		default:
			if status, msg := decodeBody(w, r, input, a.maxBodyBytes); status != 0 {
				writeJSON(ctx, w, a.logger, status, errorResponse{Error: msg})
				return
			}
		}

		output, err := fn(ctx, input)
		if err != nil {
			writeError(ctx, w, a.logger, err)
			return
		}
		writeJSON(ctx, w, a.logger, http.StatusOK, output)
	})
}

// decodeBody reads a JSON body into input. An empty body leaves input zero.
// A non-zero status means the body was rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, input any, limit int64) (int, string) {
	body := r.Body
	if limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	defer body.Close()

	err := json.NewDecoder(body).Decode(input)
	if err == nil || errors.Is(err, io.EOF) {
		return 0, ""
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, "Request body too large"
	}
	return http.StatusBadRequest, "Invalid request body"
}

// bindQuery copies query values into the string fields of dst tagged `query:"name"`
func bindQuery(values url.Values, dst any) {
	v := reflect.ValueOf(dst).Elem()
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := range t.NumField() {
		name := t.Field(i).Tag.Get("query")
		if name == "" || !values.Has(name) {
			continue
		}
		if field := v.Field(i); field.Kind() == reflect.String && field.CanSet() {
			field.SetString(values.Get(name))
		}
	}
}

// writeError maps err to its status. Server errors are logged with the cause
// and only the caller-facing message is returned.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	status, msg := domain.StatusOf(err)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.Int("error_status", status))
	if status >= http.StatusInternalServerError {
		span.RecordError(err)
		logger.ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	writeJSON(ctx, w, logger, status, errorResponse{Error: msg})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
