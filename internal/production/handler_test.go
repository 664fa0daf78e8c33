package production

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottleops/bottleops/internal/platform/httpx"
	"github.com/bottleops/bottleops/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), req.Header.Get(shared.ActorHeader))))
		})
	})
	r.Route("/api/batches", h.MountRoutes)
	return r
}

func post(t *testing.T, h http.Handler, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(shared.ActorHeader, "planner")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerPlanAndOverAllocation(t *testing.T) {
	repo := seededRepo(500)
	h := newTestRouter(newTestService(repo))

	body := map[string]any{"order_id": orderID, "requests": []map[string]any{
		{"order_line_id": lineID, "quantity": 200},
		{"order_line_id": lineID, "quantity": 200},
		{"order_line_id": lineID, "quantity": 100},
	}}
	rr := post(t, h, "/api/batches/plan", body, map[string]string{IdempotencyHeader: "k1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = post(t, h, "/api/batches/plan", body, map[string]string{IdempotencyHeader: "k1"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = post(t, h, "/api/batches/plan", map[string]any{"order_id": orderID, "requests": []map[string]any{
		{"order_line_id": lineID, "quantity": 1},
	}}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "over-allocation", problem.Type)
	ctx, ok := problem.Context.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, ctx["remaining"])
	assert.EqualValues(t, 500, ctx["bottle_qty"])
}

func TestHandlerSplitErrors(t *testing.T) {
	repo := seededRepo(300)
	svc := newTestService(repo)
	h := newTestRouter(svc)

	rr := post(t, h, "/api/batches/plan", map[string]any{"order_id": orderID, "requests": []map[string]any{
		{"order_line_id": lineID, "quantity": 300},
	}}, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var planned struct {
		Batches []Batch `json:"batches"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&planned))
	id := planned.Batches[0].ID.String()

	rr = post(t, h, "/api/batches/"+id+"/split", map[string]any{"quantities": []int{100, 100}}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = post(t, h, "/api/batches/"+id+"/steps/produce/advance", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = post(t, h, "/api/batches/"+id+"/split", map[string]any{"quantities": []int{100, 200}}, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&problem))
	assert.Equal(t, "invalid-batch-state", problem.Type)
}
