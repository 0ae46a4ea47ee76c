package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// newAnalyticsRouter wires the analytics routes without a backing
// aggregator; only the paths that reject before reaching it run here.
func newAnalyticsRouter() *mux.Router {
	r := mux.NewRouter()
	NewAnalyticsHandler(nil).RegisterRoutes(r.PathPrefix("/analytics").Subrouter())
	return r
}

func TestTagUsageRequiresPrincipal(t *testing.T) {
	t.Parallel()

	router := newAnalyticsRouter()
	req := httptest.NewRequest(http.MethodGet, "/analytics/tags/"+uuid.NewString()+"/usage", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTagUsageInvalidID(t *testing.T) {
	t.Parallel()

	router := newAnalyticsRouter()
	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/analytics/tags/not-a-uuid/usage", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestTagUsageRangeConflictsWithBounds(t *testing.T) {
	t.Parallel()

	router := newAnalyticsRouter()
	url := "/analytics/tags/" + uuid.NewString() + "/usage?range=7d&start=2026-06-01&end=2026-06-30"
	req := withPrincipal(httptest.NewRequest(http.MethodGet, url, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "range") {
		t.Error("response should name the conflicting parameters")
	}
}
