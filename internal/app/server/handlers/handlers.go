package handlers

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Hobrus/dashify.git/internal/app/server/fault"
	"github.com/Hobrus/dashify.git/internal/app/server/metrics"
	"github.com/Hobrus/dashify.git/internal/app/server/middleware"
)

// Dispatcher runs a fault scenario on behalf of a request.
type Dispatcher interface {
	Dispatch(s fault.Scenario) (fault.Result, error)
}

type Handler struct {
	faults  Dispatcher
	reg     *metrics.Registry
	logger  *logrus.Logger
	logFeed http.Handler
}

// NewHandler builds the route handlers. logFeed serves /ws/logs and may be
// nil when the websocket transport is disabled.
func NewHandler(faults Dispatcher, reg *metrics.Registry, logger *logrus.Logger, logFeed http.Handler) *Handler {
	return &Handler{faults: faults, reg: reg, logger: logger, logFeed: logFeed}
}

// NewRouter assembles the engine with the middleware chain and every route.
// A nil gate lets handlers run in parallel.
func NewRouter(h *Handler, gate sync.Locker) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.LoggingMiddleware(h.logger),
		middleware.MetricsMiddleware(h.reg),
		middleware.HeadOfLine(gate),
		gin.CustomRecoveryWithWriter(io.Discard, h.recovered),
	)
	h.SetupRoutes(router)
	return router
}

func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.GET("/", h.rootHandler)
	router.GET("/metrics", gin.WrapH(h.reg.Handler(h.logger)))

	router.GET("/high-cpu", h.scenario(fault.CPUBurn))
	router.GET("/high-memory", h.scenario(fault.MemorySpike))
	router.GET("/error", h.scenario(fault.RandomError))
	router.GET("/system-failure", h.scenario(fault.ProcessExit))
	router.GET("/downtime", h.scenario(fault.TemporaryOutage))

	if h.logFeed != nil {
		router.GET("/ws/logs", gin.WrapH(h.logFeed))
	}
}

func (h *Handler) rootHandler(c *gin.Context) {
	c.String(http.StatusOK, "Hello World!")
}

func (h *Handler) scenario(s fault.Scenario) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.faults.Dispatch(s)
		if errors.Is(err, fault.ErrSimulated) {
			// Left unhandled on purpose: recovery turns it into a 500.
			panic(err)
		}
		if err != nil {
			_ = c.Error(err)
			c.String(http.StatusInternalServerError, "Internal Server Error")
			return
		}
		if result.Status == 0 {
			return
		}
		c.String(result.Status, result.Body)
	}
}

func (h *Handler) recovered(c *gin.Context, err any) {
	h.logger.WithFields(logrus.Fields{
		"uri":   c.Request.RequestURI,
		"panic": err,
	}).Error("Unhandled error in request handler")
	c.AbortWithStatus(http.StatusInternalServerError)
}
