package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/averlock/bastion/internal/apperror"
	"github.com/averlock/bastion/internal/plugins/auth"
)

// mockUserRepo implements auth.UserRepository for testing.
type mockUserRepo struct {
	findByIDFn    func(ctx context.Context, id int64) (*auth.User, error)
	listUsersFn   func(ctx context.Context, offset, limit int) ([]auth.User, int, error)
	updateRoleFn  func(ctx context.Context, id int64, role auth.Role) error
	deleteFn      func(ctx context.Context, id int64) error
	countAdminsFn func(ctx context.Context) (int, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *auth.User) error { return nil }

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	return false, nil
}

func (m *mockUserRepo) ListUsers(ctx context.Context, offset, limit int) ([]auth.User, int, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, offset, limit)
	}
	return nil, 0, nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id int64, role auth.Role) error {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, id, role)
	}
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockUserRepo) CountUsers(ctx context.Context) (int, error) { return 1, nil }

func (m *mockUserRepo) CountAdmins(ctx context.Context) (int, error) {
	if m.countAdminsFn != nil {
		return m.countAdminsFn(ctx)
	}
	return 2, nil
}

// mockAuthService implements auth.AuthService. Only the methods the admin
// handler touches do anything.
type mockAuthService struct {
	revokeAllFn func(ctx context.Context, userID int64) error
}

func (m *mockAuthService) Register(ctx context.Context, input auth.RegisterInput) (*auth.User, error) {
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, input auth.LoginInput) (*auth.TokenPair, *auth.User, error) {
	return nil, nil, nil
}

func (m *mockAuthService) IssueTokens(ctx context.Context, userID int64, now time.Time) (*auth.TokenPair, error) {
	return nil, nil
}

func (m *mockAuthService) ValidateAccess(tokenString string, now time.Time) *auth.Identity {
	return nil
}

func (m *mockAuthService) Refresh(ctx context.Context, handle string, now time.Time) (*auth.TokenPair, error) {
	return nil, nil
}

func (m *mockAuthService) RevokeRefresh(ctx context.Context, handle string) error { return nil }

func (m *mockAuthService) RevokeAllForUser(ctx context.Context, userID int64) error {
	if m.revokeAllFn != nil {
		return m.revokeAllFn(ctx, userID)
	}
	return nil
}

func (m *mockAuthService) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockAuthService) SweepExpired(ctx context.Context, now time.Time) error { return nil }

// --- Helpers ---

func doJSON(t *testing.T, h echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	for name, value := range params {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}

	if err := h(c); err != nil {
		c.JSON(apperror.SafeCode(err), map[string]string{"message": apperror.SafeMessage(err)})
	}
	return rec
}

// --- Users ---

func TestUsers_Pagination(t *testing.T) {
	var gotOffset, gotLimit int
	repo := &mockUserRepo{
		listUsersFn: func(ctx context.Context, offset, limit int) ([]auth.User, int, error) {
			gotOffset, gotLimit = offset, limit
			return []auth.User{{ID: 1, Email: "a@example.com", Role: auth.RoleUser}}, 101, nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	rec := doJSON(t, h.Users, http.MethodGet, "/admin/users?page=3&per_page=25", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotOffset != 50 || gotLimit != 25 {
		t.Errorf("offset/limit = %d/%d, want 50/25", gotOffset, gotLimit)
	}
	if !strings.Contains(rec.Body.String(), `"total":101`) {
		t.Errorf("body %q missing total", rec.Body.String())
	}
}

func TestUsers_DefaultsOnBadParams(t *testing.T) {
	var gotOffset, gotLimit int
	repo := &mockUserRepo{
		listUsersFn: func(ctx context.Context, offset, limit int) ([]auth.User, int, error) {
			gotOffset, gotLimit = offset, limit
			return nil, 0, nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	doJSON(t, h.Users, http.MethodGet, "/admin/users?page=-1&per_page=9999", "", nil)

	if gotOffset != 0 || gotLimit != defaultPerPage {
		t.Errorf("offset/limit = %d/%d, want 0/%d", gotOffset, gotLimit, defaultPerPage)
	}
}

// --- UpdateRole ---

func TestUpdateRole_Promote(t *testing.T) {
	var updatedRole auth.Role
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Role: auth.RoleUser}, nil
		},
		updateRoleFn: func(ctx context.Context, id int64, role auth.Role) error {
			updatedRole = role
			return nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	rec := doJSON(t, h.UpdateRole, http.MethodPut, "/admin/users/7/role",
		`{"role":"admin"}`, map[string]string{"id": "7"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if updatedRole != auth.RoleAdmin {
		t.Errorf("updated role = %q, want admin", updatedRole)
	}
}

func TestUpdateRole_DemotionRevokesTokens(t *testing.T) {
	var revokedUser int64
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Role: auth.RoleAdmin}, nil
		},
	}
	svc := &mockAuthService{
		revokeAllFn: func(ctx context.Context, userID int64) error {
			revokedUser = userID
			return nil
		},
	}
	h := NewHandler(repo, svc)

	rec := doJSON(t, h.UpdateRole, http.MethodPut, "/admin/users/7/role",
		`{"role":"user"}`, map[string]string{"id": "7"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	if revokedUser != 7 {
		t.Errorf("revoked user = %d, want 7", revokedUser)
	}
}

func TestUpdateRole_LastAdminProtected(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Role: auth.RoleAdmin}, nil
		},
		countAdminsFn: func(ctx context.Context) (int, error) { return 1, nil },
		updateRoleFn: func(ctx context.Context, id int64, role auth.Role) error {
			t.Error("UpdateRole must not be called for the last admin")
			return nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	rec := doJSON(t, h.UpdateRole, http.MethodPut, "/admin/users/1/role",
		`{"role":"user"}`, map[string]string{"id": "1"})

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestUpdateRole_InvalidRole(t *testing.T) {
	h := NewHandler(&mockUserRepo{}, &mockAuthService{})

	rec := doJSON(t, h.UpdateRole, http.MethodPut, "/admin/users/1/role",
		`{"role":"superuser"}`, map[string]string{"id": "1"})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

// --- DeleteUser ---

func TestDeleteUser_Success(t *testing.T) {
	var deleted int64
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Role: auth.RoleUser}, nil
		},
		deleteFn: func(ctx context.Context, id int64) error {
			deleted = id
			return nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	rec := doJSON(t, h.DeleteUser, http.MethodDelete, "/admin/users/9", "", map[string]string{"id": "9"})

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if deleted != 9 {
		t.Errorf("deleted id = %d, want 9", deleted)
	}
}

func TestDeleteUser_LastAdminProtected(t *testing.T) {
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*auth.User, error) {
			return &auth.User{ID: id, Role: auth.RoleAdmin}, nil
		},
		countAdminsFn: func(ctx context.Context) (int, error) { return 1, nil },
		deleteFn: func(ctx context.Context, id int64) error {
			t.Error("Delete must not be called for the last admin")
			return nil
		},
	}
	h := NewHandler(repo, &mockAuthService{})

	rec := doJSON(t, h.DeleteUser, http.MethodDelete, "/admin/users/1", "", map[string]string{"id": "1"})

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestDeleteUser_NotFound(t *testing.T) {
	h := NewHandler(&mockUserRepo{}, &mockAuthService{})

	rec := doJSON(t, h.DeleteUser, http.MethodDelete, "/admin/users/404", "", map[string]string{"id": "404"})

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteUser_BadID(t *testing.T) {
	h := NewHandler(&mockUserRepo{}, &mockAuthService{})

	rec := doJSON(t, h.DeleteUser, http.MethodDelete, "/admin/users/abc", "", map[string]string{"id": "abc"})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
