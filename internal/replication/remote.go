package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
)

// RemoteInfo summarizes the remote database.
type RemoteInfo struct {
	DocCount  int64  `json:"doc_count"`
	UpdateSeq string `json:"update_seq"`
}

// PullChange is one entry of the remote change feed.
type PullChange struct {
	Seq     string            `json:"seq"`
	ID      string            `json:"id"`
	Deleted bool              `json:"deleted,omitempty"`
	Doc     docstore.Document `json:"doc"`
}

// PullResult is one page of remote changes.
type PullResult struct {
	Changes []PullChange `json:"results"`
	LastSeq string       `json:"last_seq"`
	Pending int64        `json:"pending"`
}

// Remote is the replication peer. Implementations must be safe for
// concurrent use.
type Remote interface {
	Info(ctx context.Context) (RemoteInfo, error)
	Get(ctx context.Context, id string) (docstore.Document, error)
	Push(ctx context.Context, docs []docstore.Document) error
	Pull(ctx context.Context, since string, limit int) (PullResult, error)
}

// HTTPRemote talks to a CouchDB-style document endpoint.
type HTTPRemote struct {
	base   string
	client *http.Client
}

// NewHTTPRemote builds a remote client for the given base URL.
func NewHTTPRemote(baseURL string, client *http.Client) (*HTTPRemote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemote{base: baseURL, client: client}, nil
}

// Info fetches the remote database summary.
func (r *HTTPRemote) Info(ctx context.Context) (RemoteInfo, error) {
	var info RemoteInfo
	if err := r.getJSON(ctx, r.base+"/", &info); err != nil {
		return RemoteInfo{}, err
	}
	return info, nil
}

// Get fetches one remote document by id. A missing document reports
// NotFound; the retention sweep relies on that distinction.
func (r *HTTPRemote) Get(ctx context.Context, id string) (docstore.Document, error) {
	var doc docstore.Document
	if err := r.getJSON(ctx, r.base+"/"+url.PathEscape(id), &doc); err != nil {
		return docstore.Document{}, err
	}
	return doc, nil
}

// Push uploads a batch of documents.
func (r *HTTPRemote) Push(ctx context.Context, docs []docstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"docs": docs})
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encoding push batch")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/_bulk_docs", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "building push request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "pushing documents")
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New(errors.CodeDependency, fmt.Sprintf("push rejected with status %d", resp.StatusCode))
	}
	return nil
}

// Pull fetches one page of the remote change feed.
func (r *HTTPRemote) Pull(ctx context.Context, since string, limit int) (PullResult, error) {
	query := url.Values{}
	query.Set("include_docs", "true")
	if since != "" {
		query.Set("since", since)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	var result PullResult
	if err := r.getJSON(ctx, r.base+"/_changes?"+query.Encode(), &result); err != nil {
		return PullResult{}, err
	}
	return result, nil
}

func (r *HTTPRemote) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "building remote request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.CodeDependency, err, "calling remote")
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.CodeNotFound, "remote document not found")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.New(errors.CodeDependency, fmt.Sprintf("remote responded with status %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.CodeDependency, err, "decoding remote response")
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	_ = body.Close()
}
