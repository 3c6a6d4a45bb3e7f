package middleware

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/inventory-service/api/responses"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

const (
	requestIDHeader    = responses.RequestIDHeader
	maxRequestIDLength = 128
)

// RequestID tags every request with an id echoed back in X-Request-Id. A
// caller-supplied id is kept when it is short and printable; otherwise the
// incoming W3C trace id is reused, and a fresh uuid is minted as a last resort.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			reqID := sanitizeRequestID(r.Header.Get(requestIDHeader))
			if reqID == "" {
				if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
					reqID = sc.TraceID().String()
				} else {
					reqID = uuid.NewString()
				}
			}

			w.Header().Set(requestIDHeader, reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sanitizeRequestID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxRequestIDLength {
		return ""
	}
	for _, r := range raw {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return ""
		}
	}
	return raw
}
