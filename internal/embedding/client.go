// Package embedding provides the deterministic text → ℝ^384 encode function
// described in spec.md §4.4. The concrete model is an external collaborator;
// this package treats it as a pure, cheap-to-invoke HTTP contract and cold
// loads the client on first use.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
)

// Dimensions is the fixed embedding width every stored record must match.
const Dimensions = 384

type Config struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string // "Authorization" sends "Bearer <key>"; anything else is sent verbatim
	TimeoutS  int
}

// Encoder is the pure-function contract callers depend on; it is not
// expected to be cached by callers (the oracle cache is a separate, unrelated
// mechanism).
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type httpEncoder struct {
	cfg    Config
	client *http.Client
}

// New constructs an Encoder, building its HTTP client immediately; no
// network call happens until Encode is first invoked. NewLazy defers the
// client construction as well.
func New(cfg Config) Encoder {
	return &httpEncoder{cfg: cfg, client: observability.NewHTTPClient(nil)}
}

func (e *httpEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *httpEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, mnemoerr.New(mnemoerr.Validation, "embedding: no inputs", nil)
	}

	body, _ := json.Marshal(embedReq{Model: e.cfg.Model, Input: texts})
	timeout := time.Duration(e.cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, e.cfg.BaseURL+e.cfg.Path, bytes.NewReader(body))
	if err != nil {
		return nil, embedErr(texts[0], e.cfg.Model, err)
	}
	if e.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	} else if e.cfg.APIHeader != "" {
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, embedErr(texts[0], e.cfg.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, embedErr(texts[0], e.cfg.Model, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, embedErr(texts[0], e.cfg.Model, fmt.Errorf("embedding endpoint returned %s", resp.Status))
	}

	var er embedResp
	if err := json.Unmarshal(raw, &er); err != nil {
		return nil, embedErr(texts[0], e.cfg.Model, err)
	}
	if len(er.Data) != len(texts) {
		return nil, embedErr(texts[0], e.cfg.Model, fmt.Errorf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts)))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		if len(er.Data[i].Embedding) != Dimensions {
			return nil, embedErr(texts[i], e.cfg.Model, fmt.Errorf("unexpected embedding dimension %d, want %d", len(er.Data[i].Embedding), Dimensions))
		}
		out[i] = er.Data[i].Embedding
	}
	return out, nil
}

func embedErr(text, model string, cause error) error {
	prefix := text
	if len(prefix) > 100 {
		prefix = prefix[:100]
	}
	return mnemoerr.Wrap(mnemoerr.Embedding, "embedding request failed", cause, map[string]any{
		"text_prefix": prefix,
		"model":       model,
	})
}

// lazyEncoder defers constructing the underlying client until first use,
// matching spec.md's "loaded lazily on first use" requirement.
type lazyEncoder struct {
	once  sync.Once
	cfg   Config
	inner Encoder
}

// NewLazy returns an Encoder that doesn't touch the network (or even build
// an http.Client) until the first Encode/EncodeBatch call.
func NewLazy(cfg Config) Encoder {
	return &lazyEncoder{cfg: cfg}
}

func (l *lazyEncoder) ensure() {
	l.once.Do(func() { l.inner = New(l.cfg) })
}

func (l *lazyEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	l.ensure()
	return l.inner.Encode(ctx, text)
}

func (l *lazyEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	l.ensure()
	return l.inner.EncodeBatch(ctx, texts)
}
