/*
Package monitoring provides Prometheus metrics for the event loop, timer
pool, request multiplexers and host adapter.

# Usage

	metrics := monitoring.New()
	metrics.SetNanoappsLoaded(3)
	metrics.EventsPosted.WithLabelValues("nanoapp").Inc()

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
