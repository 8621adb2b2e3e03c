// Package objectstore implements the HTTP "select" client a Scan operator
// uses to push SQL down to an object store: POST /{bucket}/{key} with a
// query and an input format, streaming the matching rows back rather than
// materializing the whole object. Connection pooling, retry, and
// accounting are generalized from the teacher's internal/grpctp transport.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/qflowdb/qflow/internal/batch"
	"github.com/qflowdb/qflow/internal/eventbus"
	"github.com/qflowdb/qflow/internal/events"
	"github.com/qflowdb/qflow/internal/qerr"
)

// InputFormat selects how the object store should interpret the source
// object before applying the pushed-down query.
type InputFormat string

const (
	InputCSV     InputFormat = "CSV"
	InputParquet InputFormat = "PARQUET"
)

// SelectRequest is the pushed-down query issued against one object.
type SelectRequest struct {
	Query  string
	Input  InputFormat
	Schema *batch.Schema // expected result schema, used to decode CSV/Parquet rows
}

// Accounting carries the per-scan byte/row/timing counters a ScanFinish
// event reports.
type Accounting struct {
	BytesScanned    int64
	BytesProcessed  int64
	BytesReturned   int64
	RowsReturned    int64
	TimeToFirstByte time.Duration
	NumHTTPRequests int
}

// RowReader streams decoded rows one batch at a time without buffering the
// whole response in memory.
type RowReader interface {
	// Next returns the next batch of decoded rows, or io.EOF when the
	// stream is exhausted.
	Next() (*batch.Batch, error)
	// Accounting returns the running totals accumulated so far; callers
	// read it after Next returns io.EOF for the final count.
	Accounting() Accounting
	Close() error
}

// Client is the Select endpoint a Scan operator talks to.
type Client interface {
	Select(ctx context.Context, bucket, key string, req SelectRequest) (RowReader, error)
}

// httpClient is the real implementation: POSTs a select query, retries
// transient failures with exponential backoff, optionally caches the raw
// response body on disk keyed by bucket, object key and query, and decodes CSV or Parquet
// progressively.
type httpClient struct {
	baseURL string
	opts    *Options
}

// New creates a Client against baseURL (e.g. "https://objectstore.local").
func New(baseURL string, opts ...Option) Client {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Transport: &http.Transport{MaxConnsPerHost: o.MaxConnsPerHost},
		}
	}
	return &httpClient{baseURL: baseURL, opts: o}
}

func (c *httpClient) Select(ctx context.Context, bucket, key string, req SelectRequest) (RowReader, error) {
	start := time.Now()
	eventbus.Publish(ctx, events.ScanStart{Bucket: bucket, Object: key, SQL: req.Query})

	body, acct, err := c.selectWithRetry(ctx, bucket, key, req)
	if err != nil {
		eventbus.Publish(ctx, events.ScanFinish{Err: err})
		return nil, qerr.Wrap(qerr.KindTransport, "objectstore.Select", err)
	}
	acct.TimeToFirstByte = time.Since(start)

	switch req.Input {
	case InputParquet:
		return newParquetReader(body, req.Schema, acct)
	default:
		return newCSVReader(body, req.Schema, acct), nil
	}
}

func (c *httpClient) selectWithRetry(ctx context.Context, bucket, key string, req SelectRequest) (io.ReadCloser, Accounting, error) {
	if cached, n, ok := c.readCache(bucket, key, req.Query); ok {
		return cached, Accounting{BytesReturned: n}, nil
	}

	payload, err := json.Marshal(map[string]string{
		"query": req.Query,
		"input": string(req.Input),
	})
	if err != nil {
		return nil, Accounting{}, fmt.Errorf("objectstore: encode request: %w", err)
	}

	var acct Accounting
	op := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf("%s/%s/%s", c.baseURL, bucket, key), bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		acct.NumHTTPRequests++
		r, err := c.opts.HTTPClient.Do(httpReq)
		if err != nil {
			return nil, err // transient, retry
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return nil, fmt.Errorf("objectstore: server error: status %d", r.StatusCode)
		}
		if r.StatusCode >= 400 {
			defer r.Body.Close()
			b, _ := io.ReadAll(r.Body)
			return nil, backoff.Permanent(fmt.Errorf("objectstore: status %d: %s", r.StatusCode, b))
		}
		return r, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxRetries(c.opts))))
	if err != nil {
		return nil, acct, err
	}

	acct.BytesScanned = parseIntHeader(resp.Header, "X-Qflow-Bytes-Scanned")
	acct.BytesProcessed = parseIntHeader(resp.Header, "X-Qflow-Bytes-Processed")

	body := resp.Body
	if c.opts.CacheDir != "" {
		body = c.cacheAndReturn(bucket, key, req.Query, body)
	}
	return body, acct, nil
}

func maxRetries(o *Options) int {
	if o.MaxRetries <= 0 {
		return 3
	}
	return o.MaxRetries
}

func parseIntHeader(h http.Header, name string) int64 {
	v := h.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// cacheKey content-addresses a (bucket, key, query) tuple so identical
// push-down queries against the same object reuse a cached response.
func cacheKey(bucket, key, query string) string {
	h := sha256.Sum256([]byte(bucket + "\x00" + key + "\x00" + query))
	return hex.EncodeToString(h[:])
}

func (c *httpClient) readCache(bucket, key, query string) (io.ReadCloser, int64, bool) {
	if c.opts.CacheDir == "" {
		return nil, 0, false
	}
	data, err := os.ReadFile(filepath.Join(c.opts.CacheDir, cacheKey(bucket, key, query)))
	if err != nil {
		return nil, 0, false
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), true
}

func (c *httpClient) cacheAndReturn(bucket, key, query string, body io.ReadCloser) io.ReadCloser {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return io.NopCloser(bytes.NewReader(nil))
	}
	if err := os.MkdirAll(c.opts.CacheDir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(c.opts.CacheDir, cacheKey(bucket, key, query)), data, 0o644)
	}
	return io.NopCloser(bytes.NewReader(data))
}
