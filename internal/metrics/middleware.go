package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HTTPMiddleware records request count and latency for every request that
// passes through it. The path label is the matched chi route pattern so
// campaign and recipient ids do not blow up the label space.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := routePattern(r)
		IncAPIRequest(r.Method, path, strconv.Itoa(ww.Status()))
		ObserveAPIRequestDuration(r.Method, path, time.Since(start).Seconds())
	})
}

// routePattern prefers the chi pattern matched during routing. Outside a
// chi router it masks uuid path segments instead.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}

	segs := strings.Split(r.URL.Path, "/")
	for i, seg := range segs {
		if len(seg) == 36 {
			if _, err := uuid.Parse(seg); err == nil {
				segs[i] = "{id}"
			}
		}
	}
	return strings.Join(segs, "/")
}
