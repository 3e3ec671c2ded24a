package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/enzel-org/BestellDesk/internal/cryptobox"
)

const watchPollTimeout = 55 * time.Second

// HTTPStore talks to a workspace relay server. Endpoints:
//
//	GET  /v1/workspaces/{id}/archive                 -> 200 archiveDocument, 404
//	PUT  /v1/workspaces/{id}/archive                 -> 200 {"revision": n}, 404, 409
//	GET  /v1/workspaces/{id}/events?after={revision} -> 200 {"revision": n} (long poll)
//
// Every request carries a workspace-scoped bearer token.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	tokens  *TokenManager
}

type archiveDocument struct {
	Revision int64               `json:"revision"`
	Archive  *cryptobox.Envelope `json:"archive"`
}

type putRequest struct {
	ExpectedRevision int64               `json:"expected_revision"`
	Archive          *cryptobox.Envelope `json:"archive"`
}

type revisionResponse struct {
	Revision int64 `json:"revision"`
}

// NewHTTPStore creates a remote store client for the given base URL.
// HTTPS endpoints negotiate HTTP/2 via ALPN.
func NewHTTPStore(baseURL string, tokens *TokenManager) *HTTPStore {
	transport := &http.Transport{}
	if err := http2.ConfigureTransport(transport); err != nil {
		// Falls back to HTTP/1.1; the relay protocol does not depend on h2.
		slog.Warn("Failed to enable HTTP/2 on relay transport", "error", err)
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: transport},
		tokens:  tokens,
	}
}

func (s *HTTPStore) Get(ctx context.Context, workspaceID string) (*cryptobox.Envelope, int64, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.archiveURL(workspaceID), workspaceID, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch archive: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, 0, ErrNotFound
	default:
		return nil, 0, unexpectedStatus(resp)
	}

	var doc archiveDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("failed to decode archive response: %w", err)
	}
	if doc.Archive == nil {
		return nil, 0, fmt.Errorf("archive response missing archive body")
	}
	return doc.Archive, doc.Revision, nil
}

func (s *HTTPStore) Put(ctx context.Context, workspaceID string, env *cryptobox.Envelope, expectedRevision int64) (int64, error) {
	body, err := json.Marshal(putRequest{ExpectedRevision: expectedRevision, Archive: env})
	if err != nil {
		return 0, fmt.Errorf("failed to encode archive: %w", err)
	}
	req, err := s.newRequest(ctx, http.MethodPut, s.archiveURL(workspaceID), workspaceID, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to upload archive: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusConflict:
		return 0, ErrConflict
	case http.StatusNotFound:
		return 0, ErrNotFound
	default:
		return 0, unexpectedStatus(resp)
	}

	var rev revisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rev); err != nil {
		return 0, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return rev.Revision, nil
}

// Watch long-polls the events endpoint. Each poll blocks server-side until
// the remote revision passes the given watermark or the poll window expires.
func (s *HTTPStore) Watch(ctx context.Context, workspaceID string) (<-chan int64, error) {
	events := make(chan int64)
	go func() {
		defer close(events)
		var after int64
		for {
			rev, err := s.pollEvents(ctx, workspaceID, after)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				// Transient relay errors: back off and poll again.
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
				continue
			}
			if rev > after {
				after = rev
				select {
				case events <- rev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (s *HTTPStore) pollEvents(ctx context.Context, workspaceID string, after int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, watchPollTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/v1/workspaces/%s/events?after=%d", s.baseURL, url.PathEscape(workspaceID), after)
	req, err := s.newRequest(ctx, http.MethodGet, u, workspaceID, nil)
	if err != nil {
		return 0, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, unexpectedStatus(resp)
	}
	var rev revisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rev); err != nil {
		return 0, err
	}
	return rev.Revision, nil
}

func (s *HTTPStore) archiveURL(workspaceID string) string {
	return fmt.Sprintf("%s/v1/workspaces/%s/archive", s.baseURL, url.PathEscape(workspaceID))
}

func (s *HTTPStore) newRequest(ctx context.Context, method, u, workspaceID string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if s.tokens != nil {
		token, err := s.tokens.Generate(workspaceID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue workspace token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("relay returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

var _ RemoteStore = (*HTTPStore)(nil)
