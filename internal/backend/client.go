/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/storage"
)

// ErrUnauthorized is returned when the server rejects the bearer token.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the backend HTTP API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
// A zero timeout selects 10s.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("server %s %s: %w", method, u.Path, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("server %s %s: %w", method, u.Path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return fmt.Errorf("server %s %s: %s %s", method, u.Path, resp.Status, e.Error)
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// IssueToken asks the server for a bearer token and stores it on the client.
func (c *Client) IssueToken(ctx context.Context, subject string) (string, error) {
	var tr tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", map[string]any{"subject": subject}, &tr); err != nil {
		return "", err
	}
	c.Token = tr.Token
	return tr.Token, nil
}

// ListModules returns the stored modules.
func (c *Client) ListModules(ctx context.Context) ([]ModuleInfo, error) {
	var list []ModuleInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/modules", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetPart fetches one part of a module.
func (c *Client) GetPart(ctx context.Context, moduleID string, number int) (domain.Part, error) {
	var p domain.Part
	path := "/api/modules/" + url.PathEscape(moduleID) + "/parts/" + strconv.Itoa(number)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &p); err != nil {
		return domain.Part{}, err
	}
	return p, nil
}

// PutPart stores a part and returns the server-side version.
func (c *Client) PutPart(ctx context.Context, moduleID string, p domain.Part) (int64, error) {
	var pr putResponse
	path := "/api/modules/" + url.PathEscape(moduleID) + "/parts/" + strconv.Itoa(p.Number)
	if err := c.doJSON(ctx, http.MethodPut, path, p, &pr); err != nil {
		return 0, err
	}
	return pr.Version, nil
}

// Search runs a question search on the server.
func (c *Client) Search(ctx context.Context, moduleID string, q storage.SearchQuery) ([]storage.SearchResult, error) {
	v := url.Values{}
	if q.Text != "" {
		v.Set("q", q.Text)
	}
	if q.GroupID != "" {
		v.Set("group", q.GroupID)
	}
	if len(q.Types) > 0 {
		v.Set("type", strings.Join(q.Types, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var res []storage.SearchResult
	path := "/api/modules/" + url.PathEscape(moduleID) + "/search?" + v.Encode()
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// RemoteStore adapts the client to storage.PartStore for one module.
type RemoteStore struct {
	c        *Client
	moduleID string
}

// Module binds the client to a module id.
func (c *Client) Module(id string) *RemoteStore { return &RemoteStore{c: c, moduleID: id} }

func (s *RemoteStore) LoadPart(ctx context.Context, number int) (domain.Part, error) {
	p, err := s.c.GetPart(ctx, s.moduleID, number)
	if errors.Is(err, ErrNotFound) {
		return domain.Part{}, fmt.Errorf("%w: %v", storage.ErrPartNotFound, err)
	}
	return p, err
}

func (s *RemoteStore) SavePart(ctx context.Context, p domain.Part) error {
	_, err := s.c.PutPart(ctx, s.moduleID, p)
	return err
}

var _ storage.PartStore = (*RemoteStore)(nil)
