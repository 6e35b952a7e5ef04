package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeTEI answers /embed with one 3-dim vector per input.
func fakeTEI(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Inputs   json.RawMessage `json:"inputs"`
			Truncate bool            `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var batch []string
		if err := json.Unmarshal(req.Inputs, &batch); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Inputs, &single))
			batch = []string{single}
		}
		out := make([][]float32, len(batch))
		for i, s := range batch {
			out[i] = []float32{float32(len(s)), float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTEI(t *testing.T, url string) *TEIProvider {
	t.Helper()
	p, err := NewTEIProvider(TEIConfig{BaseURL: url, Model: "test-model", Dimension: 3}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestNewTEIProvider_Validation(t *testing.T) {
	_, err := NewTEIProvider(TEIConfig{Dimension: 3}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTEIProvider(TEIConfig{BaseURL: "http://localhost:8080"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTEIProvider_EmbedDocuments(t *testing.T) {
	p := newTestTEI(t, fakeTEI(t, http.StatusOK).URL+"/")

	vectors, err := p.EmbedDocuments(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 0, 1}, {4, 1, 1}}, vectors)
	assert.Equal(t, 3, p.Dimension())
}

func TestTEIProvider_EmbedQuery(t *testing.T) {
	p := newTestTEI(t, fakeTEI(t, http.StatusOK).URL)

	vector, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 1}, vector)
}

func TestTEIProvider_EmptyInput(t *testing.T) {
	p := newTestTEI(t, "http://127.0.0.1:1")

	_, err := p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p := newTestTEI(t, fakeTEI(t, tt.status).URL)

			_, err := p.EmbedDocuments(context.Background(), []string{"text"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEmbeddingProvider)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.status, pe.StatusCode)
			assert.Equal(t, "tei", pe.Provider)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Contains(t, err.Error(), "model overloaded")
		})
	}
}

func TestTEIProvider_NetworkErrorIsRetryable(t *testing.T) {
	srv := fakeTEI(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	p := newTestTEI(t, url)
	_, err := p.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestTEIProvider_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[1,2,3]]`))
	}))
	defer srv.Close()

	p := newTestTEI(t, srv.URL)
	_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingProvider)
	assert.False(t, IsRetryable(err))
}
