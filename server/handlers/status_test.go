package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/msgflow/server/dispatcher"
	"github.com/nomis52/msgflow/store"
)

// fakeStatusProvider is a test implementation of APIStatusProvider.
type fakeStatusProvider struct {
	statuses  []dispatcher.InstanceStatus
	counts    store.Counts
	countsErr error
	nextSweep *time.Time
	startedAt time.Time
	hostname  string
}

func (f *fakeStatusProvider) Statuses() []dispatcher.InstanceStatus        { return f.statuses }
func (f *fakeStatusProvider) Counts(context.Context) (store.Counts, error) { return f.counts, f.countsErr }
func (f *fakeStatusProvider) NextSweep() *time.Time                        { return f.nextSweep }
func (f *fakeStatusProvider) StartedAt() time.Time                         { return f.startedAt }
func (f *fakeStatusProvider) Hostname() string                             { return f.hostname }

func TestAPIStatusHandler(t *testing.T) {
	nextSweep := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	provider := &fakeStatusProvider{
		statuses: []dispatcher.InstanceStatus{
			{InstanceID: "M1", State: dispatcher.InstanceRunning, CurrentStep: "running SendEmail (attempt 1/10)"},
		},
		counts: store.Counts{
			Messages:         3,
			MessagesByStatus: map[string]int{"PROCESSED": 2, "REJECTED": 1},
			Profiles:         5,
		},
		nextSweep: &nextSweep,
		startedAt: time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC),
		hostname:  "msgflow-1",
	}
	handler := NewAPIStatusHandler(testLogger(), provider)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp APIStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "msgflow-1", resp.Hostname)
	assert.NotEmpty(t, resp.Build.Version)
	assert.Equal(t, 3, resp.Counts.Messages)
	require.Len(t, resp.Instances, 1)
	assert.Equal(t, "running SendEmail (attempt 1/10)", resp.Instances[0].CurrentStep)
	assert.True(t, resp.NextSweep.Scheduled)
	require.NotNil(t, resp.NextSweep.NextSweep)
	assert.True(t, nextSweep.Equal(*resp.NextSweep.NextSweep))
}

func TestAPIStatusHandler_NoSweeper(t *testing.T) {
	handler := NewAPIStatusHandler(testLogger(), &fakeStatusProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp APIStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.NextSweep.Scheduled)
	assert.Nil(t, resp.NextSweep.NextSweep)
}
