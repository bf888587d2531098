package api

import (
	"net/http"
	"strconv"

	"github.com/adrianmcphee/canarystore"
)

// QueryRequest is the body of POST /metrics/query
type QueryRequest struct {
	CanaryConfig       *canarystore.CanaryConfig       `json:"canaryConfig"`
	CanaryMetricConfig *canarystore.CanaryMetricConfig `json:"canaryMetricConfig,omitempty"`
	Scope              canarystore.CanaryScope         `json:"scope"`
}

// handleQuery runs one metric query. Blank account names pick the first METRICS_STORE and
// OBJECT_STORE accounts; dryRun=true only renders the query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		s.respondJSON(w, http.StatusNotImplemented, ErrorResponse{
			Error:   http.StatusText(http.StatusNotImplemented),
			Message: "no metrics services are configured",
		})
		return
	}

	query := r.URL.Query()
	metricIndex := 0
	if v := query.Get("metricIndex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, r, badRequest("metricIndex must be an integer"))
			return
		}
		metricIndex = n
	}
	dryRun := false
	if v := query.Get("dryRun"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, r, badRequest("dryRun must be a boolean"))
			return
		}
		dryRun = b
	}

	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.CanaryConfig == nil && req.CanaryMetricConfig == nil {
		s.respondError(w, r, badRequest("canaryConfig or canaryMetricConfig is required"))
		return
	}

	metricsAccount, err := s.accounts.ResolveOrFirstOfCapability(query.Get("metricsAccountName"), canarystore.MetricsStore)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	storageAccountName := query.Get("storageAccountName")
	if !dryRun {
		storageAccount, err := s.accounts.ResolveOrFirstOfCapability(storageAccountName, canarystore.ObjectStore)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		storageAccountName = storageAccount.Name()
	}

	result, err := s.queries.ProcessQueryAndReturnMap(r.Context(), metricsAccount.Name(), storageAccountName,
		req.CanaryConfig, req.CanaryMetricConfig, metricIndex, req.Scope, dryRun)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
