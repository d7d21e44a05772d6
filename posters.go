package authx

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
)

const (
	pathPosters        = "/posters"
	defaultPosterLimit = 10
)

// Poster is a single judged poster.
type Poster struct {
	ID     int     `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Score  float64 `json:"score"`
}

// NewPoster is the payload for creating a poster; the server assigns the ID.
type NewPoster struct {
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Score  float64 `json:"score"`
}

// PosterPage is one page of the caller's posters plus the total count.
type PosterPage struct {
	Data  []Poster `json:"data"`
	Total int      `json:"total"`
}

// DeleteResult is returned by Delete: the remaining posters and the removed one.
type DeleteResult struct {
	PosterPage
	Deleted Poster `json:"deleted"`
}

// PosterClient performs poster CRUD over an authenticated client.
type PosterClient struct {
	cfg    Config
	client *http.Client
}

// NewPosterClient builds a PosterClient. client is normally Manager.HTTPClient().
func NewPosterClient(cfg Config, client *http.Client) *PosterClient {
	cfg.normalize()
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &PosterClient{cfg: cfg, client: client}
}

// List returns page (1-based) of the caller's posters with at most limit entries.
func (c *PosterClient) List(ctx context.Context, page, limit int) (PosterPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPosterLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var out PosterPage
	err := c.do(ctx, http.MethodGet, pathPosters+"?"+q.Encode(), nil, &out)
	return out, err
}

// Create adds a poster.
func (c *PosterClient) Create(ctx context.Context, p NewPoster) (Poster, error) {
	if err := p.validate(); err != nil {
		return Poster{}, err
	}
	var out Poster
	err := c.do(ctx, http.MethodPost, pathPosters, p, &out)
	return out, err
}

// Update replaces a poster and returns the caller's full list.
func (c *PosterClient) Update(ctx context.Context, p Poster) (PosterPage, error) {
	if err := (NewPoster{Title: p.Title, Author: p.Author, Score: p.Score}).validate(); err != nil {
		return PosterPage{}, err
	}
	var out PosterPage
	err := c.do(ctx, http.MethodPut, posterPath(p.ID), p, &out)
	return out, err
}

// Delete removes a poster and returns what remains.
func (c *PosterClient) Delete(ctx context.Context, id int) (DeleteResult, error) {
	var out DeleteResult
	err := c.do(ctx, http.MethodDelete, posterPath(id), nil, &out)
	return out, err
}

func (p NewPoster) validate() error {
	fields := FieldErrors{}
	if p.Title == "" {
		fields["title"] = "Title is required"
	}
	if p.Author == "" {
		fields["author"] = "Author is required"
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Code: ErrCodeInvalidRequest, Message: defaultMessage(ErrCodeInvalidRequest), Err: fields}
}

func posterPath(id int) string {
	return pathPosters + "/" + strconv.Itoa(id)
}

func (c *PosterClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return newError(ErrCodeInternal, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.endpoint(path), reader)
	if err != nil {
		return newError(ErrCodeInternal, fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return newError(ErrCodeNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return responseError(resp, apiClientError(resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return newError(ErrCodeInternal, fmt.Errorf("decode %s %s response: %w", method, path, err))
	}
	return nil
}

// apiClientError maps a 4xx from an authenticated API call to an error code.
func apiClientError(status int) ErrorCode {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeUnauthenticated
	case http.StatusNotFound:
		return ErrCodeNotFound
	default:
		return ErrCodeInvalidRequest
	}
}
