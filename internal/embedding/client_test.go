package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEmbedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResp{}
		for range req.Input {
			vec := make([]float32, dim)
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: vec})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEncodeBatchReturnsOneVectorPerInput(t *testing.T) {
	t.Parallel()
	srv := fakeEmbedServer(t, Dimensions)
	defer srv.Close()

	enc := New(Config{BaseURL: srv.URL, Path: "/embed", Model: "test-model"})
	out, err := enc.EncodeBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, out, 3)
	for _, v := range out {
		assert.Len(t, v, Dimensions)
	}
}

func TestEncodeRejectsWrongDimension(t *testing.T) {
	t.Parallel()
	srv := fakeEmbedServer(t, 16)
	defer srv.Close()

	enc := New(Config{BaseURL: srv.URL, Path: "/embed"})
	_, err := enc.Encode(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected an EmbeddingError for wrong dimension")
	}
}

func TestEncodeBatchRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	enc := New(Config{BaseURL: "http://unused.invalid"})
	_, err := enc.EncodeBatch(context.Background(), nil)
	if err == nil {
		t.Fatalf("expected validation error for empty input")
	}
}

func TestLazyEncoderDoesNotBuildClientUntilFirstUse(t *testing.T) {
	l := NewLazy(Config{BaseURL: "http://unused.invalid"})
	le, ok := l.(*lazyEncoder)
	require.True(t, ok)
	assert.Nil(t, le.inner, "inner encoder must not be constructed before first use")
}
