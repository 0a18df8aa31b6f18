package controllers

import (
	"net/http"
	"regexp"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/armonempire/portal/db/dbtest"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	portalredis "github.com/armonempire/portal/redis"
	"github.com/jonboulle/clockwork"
	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newAuthApp(t *testing.T, seed ...models.User) (*fiber.App, *dbtest.Members, *fakeMailer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	members := dbtest.NewMembers(seed...)
	mailer := &fakeMailer{}
	ctrl := NewAuthController(members, portalredis.NewResetTokens(rdb), mailer, testSecret, "https://armonempire.test", clockwork.NewRealClock(), nil)

	app := newTestApp()
	group := app.Group("/api/auth")
	group.Post("/signup", ctrl.Register)
	group.Post("/login", ctrl.Login)
	group.Post("/refresh", ctrl.RefreshToken)
	group.Post("/forgot-password", ctrl.ForgotPassword)
	group.Post("/reset-password", ctrl.ResetPassword)
	group.Post("/logout", middleware.Protected(testSecret), ctrl.Logout)
	return app, members, mailer
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestRegister(t *testing.T) {
	app, members, _ := newAuthApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"firstName": "Jay", "lastName": "Cole", "email": " Jay@Example.com ", "password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["token"])
	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "jay@example.com", user["email"])
	assert.Equal(t, string(models.TierFree), user["membership"])
	assert.Equal(t, []interface{}{}, user["appointments"])

	stored, err := members.ByEmail(t.Context(), "jay@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", stored.Password)

	resp, body = doJSON(t, app, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"firstName": "Jay", "lastName": "Cole", "email": "jay@example.com", "password": "hunter22",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "User with this email already exists", body["error"])
}

func TestRegisterValidation(t *testing.T) {
	app, _, _ := newAuthApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": "jay@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"firstName": "Jay", "lastName": "Cole", "email": "jay@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "at least 8")
}

func TestLoginAndRefresh(t *testing.T) {
	app, _, _ := newAuthApp(t, models.User{Email: "jay@example.com", FirstName: "Jay", Password: hashed(t, "hunter22")})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jay@example.com", "password": "wrong-one"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "JAY@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	access, _ := body["token"].(string)
	refresh, _ := body["refreshToken"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	resp, body = doJSON(t, app, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": access})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/logout", access, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/logout", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

var resetLink = regexp.MustCompile(`reset-password\?token=([0-9a-f-]+)`)

func TestForgotAndResetPassword(t *testing.T) {
	app, _, mailer := newAuthApp(t, models.User{Email: "jay@example.com", FirstName: "Jay", Password: hashed(t, "hunter22")})

	resp, _ := doJSON(t, app, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, mailer.sent)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/forgot-password", "", map[string]string{"email": "jay@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mail := mailer.last()
	assert.Equal(t, "jay@example.com", mail.To)
	m := resetLink.FindStringSubmatch(mail.Body)
	require.Len(t, m, 2)
	assert.Contains(t, mail.Body, "https://armonempire.test/reset-password")

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": m[1], "password": "new-secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/reset-password", "", map[string]string{"token": m[1], "password": "another-one"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "jay@example.com", "password": "new-secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
