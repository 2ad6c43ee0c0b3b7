package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
)

const (
	metricsPath    = "/metrics"
	unmatchedRoute = "unmatched"
)

// countingWriter counts body bytes handed to the connection.
type countingWriter struct {
	gin.ResponseWriter
	written int
}

func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += n
	return n, err
}

func (w *countingWriter) WriteString(s string) (int, error) {
	n, err := w.ResponseWriter.WriteString(s)
	w.written += n
	return n, err
}

// MetricsMiddleware feeds the request counter and the traffic counters.
// Scrapes of /metrics are not counted as requests.
func MetricsMiddleware(reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path != metricsPath {
			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			reg.MustIncrement(metrics.HTTPRequestsTotal, map[string]string{
				"method": c.Request.Method,
				"route":  route,
			}, 1)
		}

		if n := c.Request.ContentLength; n > 0 {
			reg.MustIncrement(metrics.IncomingTrafficBytes, nil, float64(n))
		}

		writer := &countingWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		defer func() {
			if writer.written > 0 {
				reg.MustIncrement(metrics.OutgoingTrafficBytes, nil, float64(writer.written))
			}
		}()

		c.Next()
	}
}
