package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStore talks to a bucket-style object service: PUT and DELETE on
// {BaseURL}/{Bucket}/{name}, authorized with a bearer token.
type HTTPStore struct {
	BaseURL   string
	Bucket    string
	Token     string
	PublicURL string // defaults to BaseURL/Bucket
	Client    *http.Client
}

func NewHTTPStore(baseURL, bucket, token, publicURL string) *HTTPStore {
	return &HTTPStore{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Bucket:    strings.Trim(bucket, "/"),
		Token:     token,
		PublicURL: strings.TrimRight(publicURL, "/"),
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPStore) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(name), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if err := s.do(req); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return s.publicBase() + "/" + name, nil
}

func (s *HTTPStore) Delete(ctx context.Context, ref string) error {
	name, ok := strings.CutPrefix(ref, s.publicBase()+"/")
	if !ok || name == "" {
		return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(name), nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	if err := s.do(req); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (s *HTTPStore) do(req *http.Request) error {
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && !(req.Method == http.MethodDelete && resp.StatusCode == http.StatusNotFound) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("storage returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (s *HTTPStore) objectURL(name string) string {
	return s.BaseURL + "/" + s.Bucket + "/" + strings.TrimLeft(name, "/")
}

func (s *HTTPStore) publicBase() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL + "/" + s.Bucket
}
