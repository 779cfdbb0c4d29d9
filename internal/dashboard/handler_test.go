package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

func newTestRouter(f *fixture, actor *workflow.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	api := router.Group("/api/v1")
	if actor != nil {
		api.Use(func(c *gin.Context) {
			workflow.SetActor(c, *actor)
			c.Next()
		})
	}
	NewHandler(f.service, zap.NewNop()).RegisterRoutes(api)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHandler_Stations(t *testing.T) {
	f := newFixture(t)
	tech := f.tech.Actor()
	router := newTestRouter(f, &tech)

	w := get(router, "/api/v1/dashboard/stations")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Stations []Card `json:"stations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Stations, 2)
	assert.Equal(t, "Work", body.Stations[1].Station.Name)

	w = get(router, "/api/v1/dashboard/stations/"+f.work.ID.String()+"/requests")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "audit-work")

	w = get(router, "/api/v1/dashboard/stations/"+f.done.ID.String()+"/requests")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(router, "/api/v1/dashboard/stations/not-a-uuid/requests")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SpecialRequestsAndOverview(t *testing.T) {
	f := newFixture(t)
	spAdmin := f.spAdmin.Actor()
	router := newTestRouter(f, &spAdmin)

	w := get(router, "/api/v1/dashboard/requests?type=unassigned_pipeline")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view StationView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 2, view.Summary.Total)

	w = get(router, "/api/v1/dashboard/requests?type=other")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(router, "/api/v1/dashboard/overview")
	require.Equal(t, http.StatusOK, w.Code)
	var overview Overview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	assert.Equal(t, int64(8), overview.Total)

	w = get(router, "/api/v1/dashboard/cache")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandler_RequiresActor(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f, nil)

	w := get(router, "/api/v1/dashboard/stations")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
