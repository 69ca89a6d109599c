package job_test

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tubesearch/apps/backend/features/job"
	"tubesearch/apps/backend/internal/config"
)

func TestHandler_List(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything).Return([]job.Job{{ID: "1", SourceID: "dQw4w9WgXcQ", Handler: config.TopicIngestVideo}}, nil)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data []job.Job      `json:"data"`
			Meta map[string]int `json:"meta"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Data, 1)
		assert.Equal(t, 1, body.Meta["count"])
	})

	t.Run("Nil Becomes Empty List", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything).Return(nil, nil)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})

	t.Run("Repository Error", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything).Return(nil, errors.New("db down"))
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	})
}

func TestHandler_Retry(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(repo *MockRepo, pub *MockPublisher)
		wantStatus int
		wantCode   string
	}{
		{
			name: "Success",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "42").Return(&job.Job{ID: "42", Handler: config.TopicIngestVideo, Payload: []byte(`{}`)}, nil)
				pub.On("Publish", config.TopicIngestVideo, mock.Anything).Return(nil)
				repo.On("Delete", mock.Anything, "42").Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "Not Found",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "42").Return(nil, sql.ErrNoRows)
			},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name: "Unknown Handler",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "42").Return(&job.Job{ID: "42", Handler: "web.crawl"}, nil)
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name: "Publish Error",
			setup: func(repo *MockRepo, pub *MockPublisher) {
				repo.On("Get", mock.Anything, "42").Return(&job.Job{ID: "42", Handler: config.TopicIngestChannel, Payload: []byte(`{}`)}, nil)
				pub.On("Publish", config.TopicIngestChannel, mock.Anything).Return(errors.New("nsq unavailable"))
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepo)
			pub := new(MockPublisher)
			tt.setup(repo, pub)
			h := job.NewHandler(job.NewService(repo, pub))

			req := httptest.NewRequest(http.MethodPost, "/jobs/42/retry", nil)
			req.SetPathValue("id", "42")
			w := httptest.NewRecorder()
			h.Retry(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Contains(t, w.Body.String(), tt.wantCode)
			}
			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
		})
	}
}

func TestHandler_ListByTopic(t *testing.T) {
	t.Run("Filters", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything).Return([]job.Job{
			{ID: "1", Handler: config.TopicIngestVideo},
			{ID: "2", Handler: config.TopicIngestChannel},
		}, nil)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed?topic="+config.TopicIngestChannel, nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":1`)
		assert.Contains(t, w.Body.String(), `"id":"2"`)
	})

	t.Run("Unknown Topic", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("List", mock.Anything).Return([]job.Job{}, nil)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		w := httptest.NewRecorder()
		h.List(w, httptest.NewRequest(http.MethodGet, "/jobs/failed?topic=nope", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})
}

func TestHandler_Discard(t *testing.T) {
	t.Run("No Content", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("Get", mock.Anything, "7").Return(&job.Job{ID: "7", Handler: config.TopicIngestVideo}, nil)
		repo.On("Delete", mock.Anything, "7").Return(nil)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		req := httptest.NewRequest(http.MethodDelete, "/jobs/7", nil)
		req.SetPathValue("id", "7")
		w := httptest.NewRecorder()
		h.Discard(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("Not Found", func(t *testing.T) {
		repo := new(MockRepo)
		repo.On("Get", mock.Anything, "7").Return(nil, sql.ErrNoRows)
		h := job.NewHandler(job.NewService(repo, new(MockPublisher)))

		req := httptest.NewRequest(http.MethodDelete, "/jobs/7", nil)
		req.SetPathValue("id", "7")
		w := httptest.NewRecorder()
		h.Discard(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "NOT_FOUND")
	})
}
