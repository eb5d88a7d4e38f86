package document

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/umutsun/asemb/internal/asemberr"
	"github.com/umutsun/asemb/internal/ingest"
)

type MockIngestor struct{ mock.Mock }

func (m *MockIngestor) Ingest(ctx context.Context, doc ingest.Document) (*ingest.BatchResult, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.BatchResult), args.Error(1)
}

func (m *MockIngestor) IngestBatch(ctx context.Context, docs []ingest.Document) []*ingest.BatchResult {
	args := m.Called(ctx, docs)
	return args.Get(0).([]*ingest.BatchResult)
}

func (m *MockIngestor) Remove(ctx context.Context, sourceID string) (int64, error) {
	args := m.Called(ctx, sourceID)
	return args.Get(0).(int64), args.Error(1)
}

func TestHandler_Ingest(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockIngestor)
		wantStatus int
		checkBody  func(*testing.T, map[string]interface{})
	}{
		{
			name: "Success",
			body: `{"sourceId":"doc1","text":"hello world","metadata":{"lang":"en"}}`,
			setup: func(m *MockIngestor) {
				m.On("Ingest", mock.Anything, ingest.Document{
					SourceID: "doc1",
					Text:     "hello world",
					Metadata: map[string]any{"lang": "en"},
				}).Return(&ingest.BatchResult{SourceID: "doc1", ChunksTotal: 1, Succeeded: 1, EmbeddingCalls: 1}, nil)
			},
			wantStatus: http.StatusCreated,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				assert.EqualValues(t, 1, data["succeeded"])
			},
		},
		{
			name: "Partial Failure",
			body: `{"sourceId":"doc1","text":"hello world"}`,
			setup: func(m *MockIngestor) {
				m.On("Ingest", mock.Anything, mock.Anything).Return(&ingest.BatchResult{
					SourceID:    "doc1",
					ChunksTotal: 2,
					Succeeded:   1,
					Failed:      []ingest.ItemError{{Index: 1, Code: asemberr.CodeProviderFailed, Message: "embed failed"}},
				}, nil)
			},
			wantStatus: http.StatusMultiStatus,
			checkBody: func(t *testing.T, body map[string]interface{}) {
				data := body["data"].(map[string]interface{})
				failed := data["failed"].([]interface{})
				assert.Len(t, failed, 1)
			},
		},
		{
			name:       "Invalid JSON",
			body:       `{`,
			setup:      func(*MockIngestor) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing SourceID",
			body:       `{"text":"hello"}`,
			setup:      func(*MockIngestor) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "Store Unavailable",
			body: `{"sourceId":"doc1","text":"hello"}`,
			setup: func(m *MockIngestor) {
				m.On("Ingest", mock.Anything, mock.Anything).
					Return(nil, asemberr.New(asemberr.CodeStoreConnection, "db down", true))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockIngestor)
			tt.setup(m)

			h := NewHandler(m)
			req := httptest.NewRequest("POST", "/documents", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			h.Ingest(w, req)

			resp := w.Result()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.checkBody != nil {
				var body map[string]interface{}
				assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				tt.checkBody(t, body)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestHandler_IngestBatch(t *testing.T) {
	t.Run("All Succeed", func(t *testing.T) {
		m := new(MockIngestor)
		m.On("IngestBatch", mock.Anything, []ingest.Document{
			{SourceID: "doc1", Text: "first"},
			{SourceID: "doc2", Text: "second"},
		}).Return([]*ingest.BatchResult{
			{SourceID: "doc1", ChunksTotal: 1, Succeeded: 1},
			{SourceID: "doc2", ChunksTotal: 1, Succeeded: 1},
		})

		h := NewHandler(m)
		body := `{"documents":[{"sourceId":"doc1","text":"first"},{"sourceId":"doc2","text":"second"}]}`
		req := httptest.NewRequest("POST", "/documents/batch", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.IngestBatch(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Len(t, resp["data"].([]interface{}), 2)
		m.AssertExpectations(t)
	})

	t.Run("One Document Fails", func(t *testing.T) {
		m := new(MockIngestor)
		m.On("IngestBatch", mock.Anything, mock.Anything).Return([]*ingest.BatchResult{
			{SourceID: "doc1", ChunksTotal: 1, Succeeded: 1},
			{SourceID: "", Failed: []ingest.ItemError{{Index: -1, Code: asemberr.CodeMissingRequired, Message: "document source id is required"}}},
		})

		h := NewHandler(m)
		body := `{"documents":[{"sourceId":"doc1","text":"first"},{"text":"no id"}]}`
		req := httptest.NewRequest("POST", "/documents/batch", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.IngestBatch(w, req)

		assert.Equal(t, http.StatusMultiStatus, w.Code)
		m.AssertExpectations(t)
	})

	t.Run("Empty Batch", func(t *testing.T) {
		h := NewHandler(new(MockIngestor))
		req := httptest.NewRequest("POST", "/documents/batch", strings.NewReader(`{"documents":[]}`))
		w := httptest.NewRecorder()
		h.IngestBatch(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_Delete(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := new(MockIngestor)
		m.On("Remove", mock.Anything, "doc1").Return(int64(3), nil)

		h := NewHandler(m)
		mux := http.NewServeMux()
		mux.HandleFunc("DELETE /documents/{sourceId}", h.Delete)

		req := httptest.NewRequest("DELETE", "/documents/doc1", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		data := body["data"].(map[string]interface{})
		assert.EqualValues(t, 3, data["removed"])
		m.AssertExpectations(t)
	})

	t.Run("Validation Error Maps To 400", func(t *testing.T) {
		m := new(MockIngestor)
		m.On("Remove", mock.Anything, "doc1").
			Return(int64(0), asemberr.New(asemberr.CodeMissingRequired, "source id is required", false))

		h := NewHandler(m)
		mux := http.NewServeMux()
		mux.HandleFunc("DELETE /documents/{sourceId}", h.Delete)

		req := httptest.NewRequest("DELETE", "/documents/doc1", nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
