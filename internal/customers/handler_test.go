package customers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/branchledger/branchledger/internal/authz"
	"github.com/branchledger/branchledger/internal/platform/httpx"
	"github.com/branchledger/branchledger/internal/shared"
)

type memRepo struct {
	rows []Customer
}

func (m *memRepo) Insert(ctx context.Context, c Customer) (Customer, error) {
	for _, existing := range m.rows {
		if existing.NationalID == c.NationalID {
			return Customer{}, ErrDuplicateNational
		}
	}
	c.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, c)
	return c, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Customer, error) {
	for _, c := range m.rows {
		if c.ID == id {
			return c, nil
		}
	}
	return Customer{}, ErrCustomerNotFound
}

func (m *memRepo) List(ctx context.Context, filter ListFilter) ([]Customer, error) {
	var out []Customer
	for _, c := range m.rows {
		if filter.Search == "" || strings.Contains(strings.ToLower(c.FullName), strings.ToLower(filter.Search)) {
			out = append(out, c)
		}
	}
	return out, nil
}

type auditSpy struct{ logs []shared.AuditLog }

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newTestRouter(repo Repository, audit AuditPort) http.Handler {
	h := NewHandler(nil, NewService(repo, audit, nil), httpx.NewResponder(nil, ErrorMappings), authz.Middleware{Authorizer: authz.DefaultPolicy()})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), authz.Actor{ID: 5, Role: authz.RoleStaff})))
		})
	})
	r.Route("/customers", h.MountRoutes)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateGetList(t *testing.T) {
	audit := &auditSpy{}
	router := newTestRouter(&memRepo{}, audit)

	rec := do(router, http.MethodPost, "/customers", `{"full_name":" Nguyen Van A ","national_id":"079123456789","email":"A@Example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created Customer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "Nguyen Van A", created.FullName)
	require.Equal(t, "a@example.com", created.Email)
	require.Len(t, audit.logs, 1)
	require.Equal(t, int64(5), audit.logs[0].ActorID)

	rec = do(router, http.MethodPost, "/customers", `{"full_name":"Twin","national_id":"079123456789"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodGet, "/customers/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(router, http.MethodGet, "/customers/99", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(router, http.MethodGet, "/customers/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/customers?search=nguyen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Customers []Customer `json:"customers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Customers, 1)
}

func TestCreateValidation(t *testing.T) {
	router := newTestRouter(&memRepo{}, nil)
	for _, body := range []string{
		`{"national_id":"1"}`,
		`{"full_name":"A","national_id":"has space"}`,
		`{"full_name":"A","national_id":"1","email":"nope"}`,
	} {
		rec := do(router, http.MethodPost, "/customers", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}
