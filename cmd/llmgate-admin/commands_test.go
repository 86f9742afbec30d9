package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/llmgate/internal/auth"
)

type recorded struct {
	method, path, query, auth string
	body                      map[string]string
}

func fakeAPI(t *testing.T, calls *[]recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		*calls = append(*calls, rec)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/v1/admin/token":
			if rec.body["password"] != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid username or password"}`))
				return
			}
			w.Write([]byte(`{"data":{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}}`))
		case r.URL.Path == "/api/v1/admin/quota":
			w.Write([]byte(`{"data":{"date":"2026-10-14","total_daily_requests":7,"total_daily_limit":1000,"requests_per_user":50,"requests_per_minute":5}}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/admin/quota/"):
			w.Write([]byte(`{"data":{"user_id":"42","is_admin":true,"daily_count":3,"daily_limit":50,"minute_count":1,"minute_limit":5,"total_daily_requests":7,"total_daily_limit":1000,"date":"2026-10-14"}}`))
		case r.URL.Path == "/api/v1/admin/admins" && r.Method == http.MethodGet:
			w.Write([]byte(`{"data":{"admins":[{"username":"dana","seed":false},{"username":"root","seed":true}]}}`))
		case r.URL.Path == "/api/v1/admin/admins" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data":{"username":"` + rec.body["username"] + `","seed":false}}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/admin/admins/"):
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"configured admins cannot be removed"}`))
		case strings.HasPrefix(r.URL.Path, "/api/v1/admin/history/"):
			w.Write([]byte(`{"message":"history cleared"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "s3cret\n", "hash-password")
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePassword(strings.TrimSpace(out), "s3cret"))

	_, err = run(t, "", "hash-password")
	assert.ErrorContains(t, err, "empty password")
}

func TestToken(t *testing.T) {
	var calls []recorded
	srv := fakeAPI(t, &calls)

	out, err := run(t, "hunter2\n", "token", "--url", srv.URL, "-u", "ops")
	require.NoError(t, err)
	assert.Equal(t, "tok-123\n", out)
	require.Len(t, calls, 1)
	assert.Equal(t, "ops", calls[0].body["username"])

	_, err = run(t, "wrong\n", "token", "--url", srv.URL, "-u", "ops")
	assert.ErrorContains(t, err, "invalid username or password")
}

func TestQuota(t *testing.T) {
	var calls []recorded
	srv := fakeAPI(t, &calls)

	out, err := run(t, "", "quota", "--url", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "7/1000")
	assert.Equal(t, "Bearer tok", calls[0].auth)

	out, err = run(t, "", "quota", "42", "--username", "@alice", "--url", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "3/50")
	assert.Equal(t, "/api/v1/admin/quota/42", calls[1].path)
	assert.Equal(t, "username=alice", calls[1].query)
}

func TestAdmins(t *testing.T) {
	var calls []recorded
	srv := fakeAPI(t, &calls)

	out, err := run(t, "", "admins", "list", "--url", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "@dana")
	assert.Contains(t, out, "config")

	out, err = run(t, "", "admins", "add", "eve", "--url", srv.URL, "--token", "tok")
	require.NoError(t, err)
	assert.Contains(t, out, "@eve is now an admin")

	_, err = run(t, "", "admins", "remove", "@Root", "--url", srv.URL, "--token", "tok")
	assert.ErrorContains(t, err, "HTTP 403: configured admins cannot be removed")
	assert.Equal(t, "/api/v1/admin/admins/root", calls[len(calls)-1].path)
}

func TestHistoryClear(t *testing.T) {
	var calls []recorded
	srv := fakeAPI(t, &calls)

	out, err := run(t, "", "history", "clear", "--url", srv.URL, "--token", "tok", "--", "-100", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "history cleared")
	assert.Equal(t, http.MethodDelete, calls[0].method)
	assert.Equal(t, "/api/v1/admin/history/-100/7", calls[0].path)
}

func TestRequiresToken(t *testing.T) {
	t.Setenv(envToken, "")
	_, err := run(t, "", "admins", "list", "--url", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "no token")
}
