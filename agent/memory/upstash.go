// Package memory adapts an Upstash Redis REST database into the per-user
// memory boundary. Entries are appended to a list per namespace; search is a
// term-overlap filter over the namespace's entries.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
)

var ErrInvalidNamespace = errors.New("memory namespace is empty")

const (
	defaultKeyPrefix     = "localai:memory:"
	maxResponseSizeBytes = 2 << 20
)

type UpstashConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// Option customizes UpstashStore.
type Option func(*UpstashStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *UpstashStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *UpstashStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashStore implements contract.MemoryStore over the Upstash REST API.
type UpstashStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	keyPrefix  string
}

var _ contractx.MemoryStore = (*UpstashStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func NewUpstashStore(cfg UpstashConfig, opts ...Option) (*UpstashStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	store := &UpstashStore{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		keyPrefix:  defaultKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Put appends one entry to the namespace's list.
func (s *UpstashStore) Put(ctx context.Context, namespace, key, value string) error {
	redisKey, err := s.redisKey(namespace)
	if err != nil {
		return err
	}

	entry := contractx.MemoryEntry{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal memory entry: %w", err)
	}

	_, err = s.exec(ctx, []any{"RPUSH", redisKey, string(payload)})
	return err
}

// Search returns the namespace's entries whose value shares a term with the
// query, oldest first. An empty query matches everything.
func (s *UpstashStore) Search(ctx context.Context, namespace, query string) ([]contractx.MemoryEntry, error) {
	redisKey, err := s.redisKey(namespace)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"LRANGE", redisKey, 0, -1})
	if err != nil {
		return nil, err
	}

	var raws []string
	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, nil
	}
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("decode memory list: %w", err)
	}

	terms := queryTerms(query)
	entries := make([]contractx.MemoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry contractx.MemoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			// Skip undecodable entries rather than failing the recall.
			continue
		}
		if matches(entry.Value, terms) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

func matches(value string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	value = strings.ToLower(value)
	for _, term := range terms {
		if strings.Contains(value, term) {
			return true
		}
	}
	return false
}

func (s *UpstashStore) redisKey(namespace string) (string, error) {
	if strings.TrimSpace(namespace) == "" {
		return "", ErrInvalidNamespace
	}
	return s.keyPrefix + namespace, nil
}

func (s *UpstashStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}
