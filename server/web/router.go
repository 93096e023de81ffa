package web

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tweag/asset-relay/internal/metrics"
	"github.com/tweag/asset-relay/service/delivery"
)

type Options struct {
	Service *delivery.Service
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Gatherer backs /metrics on the management router.
	Gatherer prometheus.Gatherer
	// PublicBaseURL prefixes signed URLs, e.g. https://cdn.example.com
	PublicBaseURL string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewUnregistered()
	}
	if o.Gatherer == nil {
		o.Gatherer = prometheus.NewRegistry()
	}
	return o
}

func newEngine(o Options) *gin.Engine {
	router := gin.New()
	router.Use(RequestID(), AccessLog(o.Logger), Metrics(o.Metrics), Recovery(o.Logger))
	router.HandleMethodNotAllowed = true
	return router
}

// NewPublicRouter serves assets to clients.
func NewPublicRouter(o Options) *gin.Engine {
	o = o.withDefaults()
	router := newEngine(o)
	h := &deliveryHandler{service: o.Service, logger: o.Logger}
	router.GET("/private", h.fetch)
	router.GET("/transform", h.transform)
	router.GET("/thumbnail", h.thumbnail)
	router.GET("/healthz", healthz)
	return router
}

// NewManagementRouter serves token issuance and metrics.
// It must only listen on an internal address.
func NewManagementRouter(o Options) *gin.Engine {
	o = o.withDefaults()
	router := newEngine(o)
	h := &signHandler{service: o.Service, publicBaseURL: o.PublicBaseURL, logger: o.Logger}
	router.POST("/sign", h.signJSON)
	router.GET("/sign", h.signQuery)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/healthz", healthz)
	return router
}
