package middlewares

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/swifttrack-sagas/internal/pkg/interceptors/constants"
)

// AttachTracingMetadata copies the request id and idempotency key into the
// request context and tags the active span with them.
func AttachTracingMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		idempotencyKey := r.Header.Get(constants.HeaderIdempotencyKey)
		if idempotencyKey == "" {
			idempotencyKey = r.Header.Get(constants.HeaderXIdempotencyKey)
		}

		ctx := context.WithValue(r.Context(), constants.ContextKeyRequestID, requestID)
		ctx = context.WithValue(ctx, constants.ContextKeyIdempotencyKey, idempotencyKey)

		span := trace.SpanFromContext(ctx)
		span.SetAttributes(requestIDAttr.String(requestID))
		if idempotencyKey != "" {
			span.SetAttributes(idempotencyKeyAttr.String(idempotencyKey))
		}
		w.Header().Set(constants.HeaderXRequestId, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
