// Package rest talks to the backend that keeps the durable record of
// streams, gifts and PK battles.
package rest

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

	"github.com/dkeye/LiveStudio/internal/core"
	"github.com/dkeye/LiveStudio/internal/domain"
	"github.com/rs/zerolog/log"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.Code, e.Body)
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements core.StreamRegistry, core.GiftLedger and core.PKStore.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(cfg.BaseURL, "/"),
		token: cfg.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) StartStream(ctx context.Context, info domain.StreamInfo) error {
	return c.do(ctx, http.MethodPost, "/streams", info, nil)
}

func (c *Client) EndStream(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(string(room))+"/end", nil, nil)
}

func (c *Client) FetchStream(ctx context.Context, room domain.RoomID) (domain.StreamInfo, error) {
	var info domain.StreamInfo
	err := c.do(ctx, http.MethodGet, "/streams/"+url.PathEscape(string(room)), nil, &info)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return domain.StreamInfo{}, fmt.Errorf("%w: %s", core.ErrStreamNotFound, room)
	}
	if err != nil {
		return domain.StreamInfo{}, err
	}
	if info.RoomID == "" {
		info.RoomID = room
	}
	return info, nil
}

func (c *Client) PostGift(ctx context.Context, g domain.GiftEvent) error {
	return c.do(ctx, http.MethodPost, "/gifts", g, nil)
}

func (c *Client) SavePK(ctx context.Context, ch domain.PKChallenge) error {
	return c.do(ctx, http.MethodPost, "/pk", ch, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Str("module", "rest").Str("path", path).Int("status", resp.StatusCode).Msg("request rejected")
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
