package credentials

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Seroft-Solutions/pharmacyhub-session-engine/internal/authority"
)

type staticTokens struct{ header string }

func (s staticTokens) AuthHeader() (string, bool) {
	return s.header, s.header != ""
}

func TestLogin(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","user":{"id":"u1","email":"a@b.test","roles":["PHARMACIST"]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	resp, err := c.Login(context.Background(), "a@b.test", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if gotPath != "/auth/login" {
		t.Errorf("path = %q, want /auth/login", gotPath)
	}
	if gotBody["emailAddress"] != "a@b.test" || gotBody["password"] != "pw" {
		t.Errorf("body = %v", gotBody)
	}
	if resp.User == nil || resp.User.ID != "u1" {
		t.Fatalf("user = %+v", resp.User)
	}
	if !resp.User.HasRole("PHARMACIST") {
		t.Error("role PHARMACIST missing")
	}
	if len(resp.Raw) == 0 {
		t.Error("raw body not preserved")
	}
}

func TestLoginWithoutUserObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jwtToken":"legacy-token"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	resp, err := c.Login(context.Background(), "a@b.test", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.User != nil {
		t.Errorf("user = %+v, want nil", resp.User)
	}
	if string(resp.Raw) != `{"jwtToken":"legacy-token"}` {
		t.Errorf("raw = %q", resp.Raw)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid credentials"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Login(context.Background(), "a@b.test", "wrong")
	if err == nil {
		t.Fatal("want error")
	}
	apiErr, ok := authority.AsAPIError(err)
	if !ok {
		t.Fatalf("err = %T %v, want APIError", err, err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Invalid credentials" {
		t.Errorf("got %+v", apiErr)
	}
}

func TestRefresh(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	raw, err := c.Refresh(context.Background(), "old-rt")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if gotPath != "/auth/token/refresh" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["refreshToken"] != "old-rt" {
		t.Errorf("body = %v", gotBody)
	}
	if string(raw) != `{"access_token":"new-at","refresh_token":"new-rt"}` {
		t.Errorf("raw = %q", raw)
	}
}

func TestProfileSendsAuthHeader(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.Write([]byte(`{"id":"u1","email":"a@b.test","firstName":"Ada"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{header: "Bearer tok"})
	u, err := c.Profile(context.Background())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if gotMethod != http.MethodGet || gotPath != "/auth/profile" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if u.ID != "u1" || u.FirstName != "Ada" {
		t.Errorf("user = %+v", u)
	}
}

func TestProfileDecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Profile(context.Background()); err == nil {
		t.Fatal("want decode error")
	}
}

func TestLogout(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticTokens{header: "Bearer tok"})
	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotPath != "/auth/logout" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
