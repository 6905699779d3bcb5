package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalRequests tracks the number of HTTP requests dispatched by the crawler.
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mohfw_crawler_requests_total",
		Help: "The total number of HTTP requests sent.",
	})
	// TotalRequestErrors tracks the number of request attempts that failed.
	TotalRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mohfw_crawler_request_errors_total",
		Help: "The total number of failed HTTP request attempts.",
	})
	// TotalPagesVisited tracks HTML pages fetched and parsed for links.
	TotalPagesVisited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mohfw_crawler_pages_visited_total",
		Help: "The total number of HTML pages visited.",
	})
	// TotalDocuments tracks PDFs by archive outcome.
	TotalDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mohfw_crawler_documents_total",
		Help: "The total number of PDF responses, labeled by outcome.",
	}, []string{"outcome"})
	// TotalArchivedBytes tracks the declared size of archived PDFs.
	TotalArchivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mohfw_crawler_archived_bytes_total",
		Help: "The total number of bytes archived.",
	})
	// FrontierQueued reports the current frontier queue length.
	FrontierQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mohfw_crawler_frontier_queued",
		Help: "The number of URLs waiting in the frontier.",
	})
)
