package controler

import (
	"net/http"
	"strings"
	"time"

	"github.com/fbonalair/crowdsec-stream-bouncer/caches"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	CacheKey  = "lc"
	StatusKey = "status"
)

/*
Route to check bouncer connectivity with Crowdsec agent. Mainly use for Kubernetes readiness probe
*/
func Healthz(c *gin.Context) {
	status := c.MustGet(StatusKey).(*StreamStatus)
	isHealthy, lastSuccess, err := status.Healthy()
	if !isHealthy {
		log.Warn().Err(err).Msg("The health check did not pass, the last decisions stream poll failed or none happened yet")
		c.JSON(http.StatusServiceUnavailable, gin.H{"healthy": false, "error": errorMessage(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"healthy": true, "last_success": lastSuccess.Format(time.RFC3339)})
}

func errorMessage(err error) string {
	if err == nil {
		return "no poll yet"
	}
	return err.Error()
}

/*
Simple route responding pong to every request. Mainly use for Kubernetes liveliness probe
*/
func Ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func Metrics(c *gin.Context) {
	handler := promhttp.Handler()
	handler.ServeHTTP(c.Writer, c.Request)
}

// Decisions returns the active decisions for a value (IP, range...) as last seen on the stream, longest lived first.
func Decisions(c *gin.Context) {
	lc := c.MustGet(CacheKey).(*caches.DecisionsCache)
	// catch-all parameter so ranges like 10.0.0.0/8 fit
	value := strings.TrimPrefix(c.Param("value"), "/")

	decisions := lc.GetDecisions(value)
	if len(decisions) == 0 {
		log.Debug().Msgf("No active decision for %q", value)
		c.JSON(http.StatusNotFound, gin.H{"message": "no active decision"})
		return
	}
	c.JSON(http.StatusOK, decisions)
}
