package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type fakeAuth struct {
	req models.LoginRequest
}

func (f *fakeAuth) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.req = req
	if req.Password != "secret123" {
		return nil, appErrors.ErrInvalidCredentials
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600, User: models.UserInfo{ID: "stu-1"}}, nil
}

type fakeRegistration struct {
	registered models.RegisterRequest
}

func (f *fakeRegistration) Register(_ context.Context, req models.RegisterRequest) (*models.User, error) {
	if req.Username == "taken" {
		return nil, appErrors.WithField(appErrors.ErrConflict, "username", "username already exists")
	}
	f.registered = req
	return &models.User{ID: "stu-9", Username: req.Username, Email: req.Email, FullName: req.FullName, Role: models.RoleStudent, PasswordHash: "hash"}, nil
}

func (f *fakeRegistration) Get(_ context.Context, id string) (*models.User, error) {
	return &models.User{ID: id, Username: "student_cm1234", Role: models.RoleStudent}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeRegistration{})

	c, rec := testContext(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"identifier":"paul@example.com","password":"secret123"}`), nil)
	c.Request.Header.Set("User-Agent", "test-agent")
	h.Login(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paul@example.com", auth.req.Identifier)
	assert.Equal(t, "test-agent", auth.req.UserAgent)

	c, rec = testContext(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"identifier":"paul","password":"nope"}`), nil)
	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = testContext(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"identifier":`), nil)
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerRegister(t *testing.T) {
	accounts := &fakeRegistration{}
	h := NewAuthHandler(&fakeAuth{}, accounts)

	c, rec := testContext(http.MethodPost, "/api/v1/auth/register", strings.NewReader(`{"username":"amina","email":"amina@example.com","full_name":"Amina Njoya","password":"longenough"}`), nil)
	h.Register(c)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "amina", accounts.registered.Username)
	assert.NotContains(t, rec.Body.String(), "hash")

	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &info))
	assert.Equal(t, models.RoleStudent, info.Role)

	c, rec = testContext(http.MethodPost, "/api/v1/auth/register", strings.NewReader(`{"username":"taken","email":"t@example.com","full_name":"T","password":"longenough"}`), nil)
	h.Register(c)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "username", decode(t, rec).Error.Field)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{}, &fakeRegistration{})

	c, rec := testContext(http.MethodGet, "/api/v1/auth/me", nil, nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = testContext(http.MethodGet, "/api/v1/auth/me", nil, studentClaims())
	h.Me(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "student_cm1234")
}
