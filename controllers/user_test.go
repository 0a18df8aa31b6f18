package controllers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/armonempire/portal/db/dbtest"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type photoFile struct {
	name        string
	contentType string
	data        []byte
}

type stubUploader struct {
	calls int
	err   error
}

func (s *stubUploader) UploadPhoto(_ context.Context, _ []byte, publicID string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "https://res.cloudinary.test/" + publicID, nil
}

func newUserApp(t *testing.T, seed ...models.User) (*fiber.App, *dbtest.Members, *stubUploader) {
	t.Helper()
	members := dbtest.NewMembers(seed...)
	uploader := &stubUploader{}
	ctrl := NewUserController(members, uploader, clockwork.NewRealClock(), nil)

	app := newTestApp()
	group := app.Group("/api/user", middleware.Protected(testSecret))
	group.Get("/", ctrl.GetProfile)
	group.Put("/update", ctrl.UpdateProfile)
	admin := middleware.RequireAdmin(members)
	group.Get("/members", admin, ctrl.ListMembers)
	group.Patch("/verify-id", admin, ctrl.VerifyID)
	group.Get("/:id/photo-id", admin, ctrl.GetPhotoID)
	return app, members, uploader
}

func putForm(t *testing.T, app *fiber.App, token string, fields map[string]string, photo *photoFile) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if photo != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photoID"; filename="%s"`, photo.name))
		h.Set("Content-Type", photo.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(photo.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/user/update", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeMap(t, resp)
}

func jay() models.User {
	return models.User{Email: "jay@example.com", FirstName: "Jay", LastName: "Cole"}
}

func TestGetProfile(t *testing.T) {
	app, members, _ := newUserApp(t, jay())
	u, _ := members.ByID(context.Background(), 1)

	resp, body := doJSON(t, app, http.MethodGet, "/api/user", tokenFor(t, u), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jay@example.com", body["email"])
	assert.Equal(t, float64(1), body["_id"])

	resp, _ = doJSON(t, app, http.MethodGet, "/api/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpdateProfileDrinkRequiresPhoto(t *testing.T) {
	app, members, _ := newUserApp(t, jay())
	u, _ := members.ByID(context.Background(), 1)

	resp, body := putForm(t, app, tokenFor(t, u), map[string]string{"drinkOfChoice": "Bourbon"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.ErrDrinkRequiresPhoto.Error(), body["error"])

	stored, _ := members.ByID(context.Background(), 1)
	assert.Empty(t, stored.DrinkOfChoice)
}

func TestUpdateProfileWithPhoto(t *testing.T) {
	app, members, uploader := newUserApp(t, jay())
	u, _ := members.ByID(context.Background(), 1)

	resp, body := putForm(t, app, tokenFor(t, u), map[string]string{
		"drinkOfChoice":   "Bourbon",
		"preferredBarber": "Charles Armon",
		"dob":             "1990-04-12",
		"photoIDName":     "license.jpg",
	}, &photoFile{name: "IMG_0001.jpg", contentType: "image/jpeg", data: []byte("jpeg-bytes")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Profile updated successfully", body["message"])

	user, ok := body["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Bourbon", user["drinkOfChoice"])
	assert.Equal(t, true, user["isOfLegalDrinkingAge"])
	photo, ok := user["photoId"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "license.jpg", photo["fileName"])
	assert.Equal(t, "image/jpeg", photo["contentType"])

	stored, _ := members.ByID(context.Background(), 1)
	assert.Equal(t, []byte("jpeg-bytes"), stored.PhotoData)
	assert.Contains(t, stored.PhotoReviewURL, fmt.Sprintf("https://res.cloudinary.test/member-%d-", stored.ID))
	assert.Equal(t, 1, uploader.calls)
}

func TestUpdateProfileClearsDrink(t *testing.T) {
	seed := jay()
	seed.SetPhoto([]byte("x"), "image/png", "id.png")
	seed.DrinkOfChoice = "Bourbon"
	seed.WantsDrink = true
	app, members, _ := newUserApp(t, seed)
	u, _ := members.ByID(context.Background(), 1)

	resp, _ := putForm(t, app, tokenFor(t, u), map[string]string{"wantsDrink": "false"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, _ := members.ByID(context.Background(), 1)
	assert.False(t, stored.WantsDrink)
	assert.Empty(t, stored.DrinkOfChoice)
}

func TestUpdateProfileRejections(t *testing.T) {
	app, members, _ := newUserApp(t, jay(), models.User{Email: "taken@example.com", FirstName: "Tay"})
	u, _ := members.ByID(context.Background(), 1)
	token := tokenFor(t, u)
	jpeg := &photoFile{name: "id.jpg", contentType: "image/jpeg", data: []byte("jpeg")}

	cases := []struct {
		name   string
		fields map[string]string
		photo  *photoFile
		status int
	}{
		{"unknown barber", map[string]string{"preferredBarber": "Nobody"}, nil, http.StatusBadRequest},
		{"inactive barber", map[string]string{"preferredBarber": "Tyler Rogers"}, nil, http.StatusBadRequest},
		{"bad dob", map[string]string{"dob": "04/12/1990"}, nil, http.StatusBadRequest},
		{"underage drink", map[string]string{"dob": "2015-01-01", "drinkOfChoice": "Bourbon"}, jpeg, http.StatusBadRequest},
		{"duplicate email", map[string]string{"email": "Taken@example.com"}, nil, http.StatusConflict},
		{"bad photo type", nil, &photoFile{name: "id.gif", contentType: "image/gif", data: []byte("gif")}, http.StatusBadRequest},
		{"photo too large", nil, &photoFile{name: "big.jpg", contentType: "image/jpeg", data: make([]byte, MaxPhotoBytes+1)}, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := putForm(t, app, token, tc.fields, tc.photo)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	stored, _ := members.ByID(context.Background(), 1)
	assert.False(t, stored.HasPhoto())
	assert.Empty(t, stored.PreferredBarber)
}

func TestAdminPhotoReview(t *testing.T) {
	member := jay()
	member.SetPhoto([]byte("png-bytes"), "image/png", "id.png")
	app, members, _ := newUserApp(t, member, models.User{Email: "boss@example.com", FirstName: "Charles", IsAdmin: true})
	ctx := context.Background()
	memberUser, _ := members.ByID(ctx, 1)
	adminUser, _ := members.ByID(ctx, 2)

	resp, _ := doJSON(t, app, http.MethodGet, "/api/user/members", tokenFor(t, memberUser), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/user/members", tokenFor(t, adminUser), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/user/1/photo-id", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, adminUser))
	photoResp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, photoResp.StatusCode)
	assert.Equal(t, "image/png", photoResp.Header.Get("Content-Type"))
	photoResp.Body.Close()

	resp, body := doJSON(t, app, http.MethodPatch, "/api/user/verify-id", tokenFor(t, adminUser), map[string]interface{}{"userId": 1, "verified": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Verification status updated", body["message"])
	stored, _ := members.ByID(ctx, 1)
	assert.True(t, stored.VerifiedID)

	resp, _ = doJSON(t, app, http.MethodPatch, "/api/user/verify-id", tokenFor(t, adminUser), map[string]interface{}{"userId": 2, "verified": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPatch, "/api/user/verify-id", tokenFor(t, adminUser), map[string]interface{}{"userId": 99, "verified": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
