package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/defectoor/defectoor/pkg/config"
	"github.com/defectoor/defectoor/pkg/store"
	"github.com/defectoor/defectoor/pkg/suppress"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAPITest(t *testing.T, authEnabled bool) (*httptest.Server, store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "test.sqlite"),
			},
		},
		Server: &config.ServerConfig{
			Listen: ":0",
			Auth: config.AuthConfig{
				Enabled:    authEnabled,
				SessionTTL: "1h",
				Users: []config.AuthUser{
					{Username: "admin", Password: "hunter2", Role: "admin"},
				},
			},
		},
	}

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() { _ = st.Stop() })

	if authEnabled {
		require.NoError(t, st.SeedUsers(
			context.Background(), cfg.Server.Auth.Users,
		))
	}

	srv := &server{
		log:      log,
		cfg:      cfg,
		store:    st,
		suppress: suppress.NewManager(log, st, ""),
		done:     make(chan struct{}),
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	return ts, st
}

// seedRun stores one run with a single report and returns their ids.
func seedRun(t *testing.T, st store.Store, name string) (runID, reportID uint) {
	t.Helper()

	ctx := context.Background()

	runID, err := st.AddCheckerRun(ctx, "analyze", name, "v1", false)
	require.NoError(t, err)

	actionID, err := st.AddBuildAction(
		ctx, runID, "cmd1", "analyzer main.c", "analyzer", "main.c",
	)
	require.NoError(t, err)

	_, fileID, err := st.NeedFileContent(ctx, runID, "/src/main.c")
	require.NoError(t, err)
	require.NoError(t, st.AddFileContent(ctx, fileID, []byte("int main;\n")))

	reportID, err = st.AddReport(ctx, actionID, &store.ReportInput{
		FileID:    fileID,
		BugHash:   "hash-a",
		CheckerID: "chk",
		Severity:  store.SeverityHigh,
		Msg:       "finding",
		Events: []store.PathEvent{
			{FileID: fileID, Msg: "here", LineBegin: 1},
		},
	})
	require.NoError(t, err)

	return runID, reportID
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func postJSON(
	t *testing.T, ts *httptest.Server, path string, body, out any,
) int {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(
		ts.URL+path, "application/json", bytes.NewReader(data),
	)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func TestHandleHealth(t *testing.T) {
	ts, _ := setupAPITest(t, false)

	var resp map[string]string
	status := getJSON(t, ts, "/api/v1/health", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", resp["status"])
}

func TestRunEndpoints_AnonymousWhenAuthDisabled(t *testing.T) {
	ts, st := setupAPITest(t, false)
	runID, reportID := seedRun(t, st, "nightly")

	var runs []store.RunData
	status := getJSON(t, ts, "/api/v1/runs", &runs)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, runs, 1)
	assert.Equal(t, "nightly", runs[0].Name)
	assert.Equal(t, int64(1), runs[0].ResultCount)

	var run store.Run
	status = getJSON(t, ts, fmt.Sprintf("/api/v1/runs/%d", runID), &run)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "nightly", run.Name)

	var results []store.ReportData
	status = postJSON(t, ts,
		fmt.Sprintf("/api/v1/runs/%d/results", runID),
		resultsQuery{}, &results)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, results, 1)
	assert.Equal(t, reportID, results[0].ReportID)

	var count map[string]int64
	status = postJSON(t, ts,
		fmt.Sprintf("/api/v1/runs/%d/results/count", runID),
		resultsQuery{}, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), count["count"])

	var report store.ReportData
	status = getJSON(t, ts, fmt.Sprintf("/api/v1/reports/%d", reportID), &report)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hash-a", report.BugHash)

	status = getJSON(t, ts, "/api/v1/reports/9999", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFileContentEndpoint(t *testing.T) {
	ts, st := setupAPITest(t, false)
	runID, _ := seedRun(t, st, "nightly")

	results, err := st.GetRunResults(context.Background(), runID, 0, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	resp, err := http.Get(fmt.Sprintf(
		"%s/api/v1/files/%d/content", ts.URL, results[0].FileID,
	))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t,
		resp.Header.Get("Content-Type"), "text/plain")
}

func TestSuppressEndpoints(t *testing.T) {
	ts, st := setupAPITest(t, false)
	runID, reportID := seedRun(t, st, "nightly")

	var resp suppressResponse
	status := postJSON(t, ts,
		fmt.Sprintf("/api/v1/reports/%d/suppress", reportID),
		suppressRequest{RunIDs: []uint{runID}, Comment: "fp"}, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Applied)

	report, err := st.GetReport(context.Background(), reportID)
	require.NoError(t, err)
	assert.True(t, report.Suppressed)

	var records []store.SuppressBug
	status = getJSON(t, ts,
		fmt.Sprintf("/api/v1/runs/%d/suppressed", runID), &records)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, records, 1)
	assert.Equal(t, "fp", records[0].Comment)
}

func TestDiffEndpoints(t *testing.T) {
	ts, st := setupAPITest(t, false)
	baseID, _ := seedRun(t, st, "baseline")
	newID, _ := seedRun(t, st, "candidate")

	// The runs hold the same hash, so nothing is new.
	var count map[string]int64
	status := postJSON(t, ts,
		fmt.Sprintf("/api/v1/diff/%d/%d/count?type=new", baseID, newID),
		resultsQuery{}, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(0), count["count"])

	status = postJSON(t, ts,
		fmt.Sprintf("/api/v1/diff/%d/%d/count?type=unresolved", baseID, newID),
		resultsQuery{}, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), count["count"])

	// Unknown diff type is rejected.
	status = postJSON(t, ts,
		fmt.Sprintf("/api/v1/diff/%d/%d/count?type=bogus", baseID, newID),
		resultsQuery{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthFlow(t *testing.T) {
	ts, st := setupAPITest(t, true)
	seedRun(t, st, "nightly")

	// Reads require a session when anonymous_read is off.
	status := getJSON(t, ts, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Wrong password.
	status = postJSON(t, ts, "/api/v1/auth/login",
		loginRequest{Username: "admin", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Login and reuse the session cookie.
	data, err := json.Marshal(
		loginRequest{Username: "admin", Password: "hunter2"},
	)
	require.NoError(t, err)

	resp, err := http.Post(
		ts.URL+"/api/v1/auth/login", "application/json",
		bytes.NewReader(data),
	)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}

	require.NotNil(t, cookie, "login must set a session cookie")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/runs", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer func() { _ = authed.Body.Close() }()

	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// Admin endpoint works for the admin role.
	removeBody, err := json.Marshal(removeRunsRequest{RunIDs: []uint{9999}})
	require.NoError(t, err)

	adminReq, err := http.NewRequest(
		http.MethodDelete, ts.URL+"/api/v1/admin/runs",
		bytes.NewReader(removeBody),
	)
	require.NoError(t, err)
	adminReq.AddCookie(cookie)

	adminResp, err := http.DefaultClient.Do(adminReq)
	require.NoError(t, err)

	defer func() { _ = adminResp.Body.Close() }()

	assert.Equal(t, http.StatusOK, adminResp.StatusCode)
}
