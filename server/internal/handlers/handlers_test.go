package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AstarVienna/irdb/internal/model"
	"github.com/AstarVienna/irdb/internal/usagelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Append(model.UsageRecord) error {
	return errors.New("disk full")
}

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scopesim.log")
	return New(usagelog.NewFileSink(path), time.UTC), path
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func logLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestLogPackageUse(t *testing.T) {
	h, path := newTestHandler(t)
	h.now = fixedClock(1700000000)

	req := httptest.NewRequest(http.MethodGet, "/api.php?package_name=MICADO", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()

	h.LogPackageUse(rec, req)

	want := `{"timestamp":1700000000,"time":"2023-11-14T22:13:20","ip":"203.0.113.7","package_name":"MICADO"}`
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, want, rec.Body.String())
	assert.Equal(t, []string{want}, logLines(t, path))
}

func TestLogPackageUseResponseShape(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "plain", query: "package_name=METIS", want: "METIS"},
		{name: "empty value", query: "package_name=", want: ""},
		{name: "escaped", query: "package_name=" + url.QueryEscape(`weird "pkg"/<x>`), want: `weird "pkg"/<x>`},
		{name: "repeated", query: "package_name=A&package_name=B", want: "B"},
		{name: "other params", query: "version=1&package_name=HAWKI", want: "HAWKI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, path := newTestHandler(t)

			req := httptest.NewRequest(http.MethodGet, "/api.php?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.LogPackageUse(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fields))
			assert.Len(t, fields, 4)
			for _, key := range []string{"timestamp", "time", "ip", "package_name"} {
				assert.Contains(t, fields, key)
			}
			assert.Equal(t, tt.want, fields["package_name"])

			lines := logLines(t, path)
			require.Len(t, lines, 1)
			assert.Equal(t, rec.Body.String(), lines[0])

			logged, err := usagelog.ParseLine([]byte(lines[0]))
			require.NoError(t, err)
			assert.True(t, logged.Consistent(time.UTC))
		})
	}
}

func TestLogPackageUseMissingParam(t *testing.T) {
	h, path := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api.php", nil)
	rec := httptest.NewRecorder()
	h.LogPackageUse(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.NoFileExists(t, path)

	// Existing log stays untouched
	h.LogPackageUse(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api.php?package_name=MICADO", nil))
	before := logLines(t, path)

	rec = httptest.NewRecorder()
	h.LogPackageUse(rec, httptest.NewRequest(http.MethodGet, "/api.php?packagename=MICADO", nil))
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, before, logLines(t, path))
}

func TestLogPackageUseIgnoresForwardedFor(t *testing.T) {
	h, path := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api.php?package_name=MICADO", nil)
	req.RemoteAddr = "198.51.100.2:4000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.LogPackageUse(httptest.NewRecorder(), req)

	lines := logLines(t, path)
	require.Len(t, lines, 1)
	logged, err := usagelog.ParseLine([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.2", logged.IP)
}

func TestLogPackageUseWriteFailure(t *testing.T) {
	h := New(failingSink{}, nil)

	rec := httptest.NewRecorder()
	h.LogPackageUse(rec, httptest.NewRequest(http.MethodGet, "/api.php?package_name=MICADO", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to write usage log"}`, rec.Body.String())

	// The handler keeps serving afterwards
	rec = httptest.NewRecorder()
	h.LogPackageUse(rec, httptest.NewRequest(http.MethodGet, "/api.php", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogPackageUseSamePackageTwice(t *testing.T) {
	h, path := newTestHandler(t)

	sec := int64(1700000000)
	h.now = func() time.Time {
		sec++
		return time.Unix(sec, 0)
	}

	for i := 0; i < 2; i++ {
		h.LogPackageUse(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api.php?package_name=MICADO", nil))
	}

	lines := logLines(t, path)
	require.Len(t, lines, 2)

	first, err := usagelog.ParseLine([]byte(lines[0]))
	require.NoError(t, err)
	second, err := usagelog.ParseLine([]byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000001), first.Timestamp)
	assert.Equal(t, int64(1700000002), second.Timestamp)
}

func TestLogPackageUseConcurrent(t *testing.T) {
	h, path := newTestHandler(t)
	srv := httptest.NewServer(http.HandlerFunc(h.LogPackageUse))
	defer srv.Close()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Get(fmt.Sprintf("%s/api.php?package_name=PKG%03d", srv.URL, i))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, string(body), fmt.Sprintf(`"package_name":"PKG%03d"`, i))
		}(i)
	}
	wg.Wait()

	report, err := usagelog.Verify(path, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, n, report.Lines)
	assert.Equal(t, n, report.Valid)
	assert.True(t, report.OK())
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	broken := New(usagelog.NewFileSink(filepath.Join(t.TempDir(), "gone", "scopesim.log")), nil)
	rec = httptest.NewRecorder()
	broken.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
