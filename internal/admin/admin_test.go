package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/pkg/service"
)

type keys map[string]bool

func (k keys) KeyPresence(_ context.Context, keyUID string) (service.Presence, error) {
	if keyUID == "broken" {
		return service.PresenceFail, errors.New("storage failure")
	}
	if k[keyUID] {
		return service.Present, nil
	}
	return service.Absent, nil
}

func (k keys) Keys(context.Context) ([]string, error) {
	uids := make([]string, 0, len(k))
	for uid, ok := range k {
		if ok {
			uids = append(uids, uid)
		}
	}
	sort.Strings(uids)
	return uids, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	m := metrics.New()
	m.SessionStarted(metrics.KindKeygen)(metrics.OutcomeSuccess)
	h := NewRouter(keys{"key": true}, m.Handler(), log.Nop())

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/keys")
	require.Equal(t, http.StatusOK, rec.Code)
	var uids []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&uids))
	assert.Equal(t, []string{"key"}, uids)

	tests := []struct {
		uid      string
		status   int
		presence string
	}{
		{"key", http.StatusOK, "Present"},
		{"other", http.StatusOK, "Absent"},
		{"broken", http.StatusInternalServerError, "Fail"},
	}
	for _, tt := range tests {
		t.Run(tt.uid, func(t *testing.T) {
			rec := get(t, h, "/keys/"+tt.uid)
			require.Equal(t, tt.status, rec.Code)
			var resp keyResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.uid, resp.Key)
			assert.Equal(t, tt.presence, resp.Presence)
		})
	}

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `tssd_sessions_total{kind="keygen",outcome="success"} 1`))

	rec = get(t, NewRouter(keys{}, nil, log.Nop()), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
