// Package vk is the source-platform boundary: an API client and the Bots
// Long Poll stream, translated into domain events at this edge.
package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.vk.com/method"
	apiVersion     = "5.199"
)

// Client calls the VK API. Safe for concurrent use.
type Client struct {
	http   *resty.Client
	token  string
	logger *slog.Logger

	namesMu sync.Mutex
	names   map[int64]string // user id -> display name
}

type ClientConfig struct {
	Token   string
	BaseURL string // defaults to the public API endpoint; overridable in tests
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(30 * time.Second),
		token:  cfg.Token,
		logger: cfg.Logger,
		names:  make(map[int64]string),
	}
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *apiError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("access_token", c.token).
		SetQueryParam("v", apiVersion).
		Get("/" + method)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%s: api error %d: %s", method, env.Error.Code, env.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return fmt.Errorf("%s: decode payload: %w", method, err)
		}
	}
	return nil
}

// UserName resolves a user id to "First Last". Results are cached for the
// process lifetime; on lookup failure the bare id is returned so the caller
// can still attribute the message.
func (c *Client) UserName(ctx context.Context, userID int64) (string, error) {
	c.namesMu.Lock()
	if name, ok := c.names[userID]; ok {
		c.namesMu.Unlock()
		return name, nil
	}
	c.namesMu.Unlock()

	var users []struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	err := c.call(ctx, "users.get", map[string]string{
		"user_ids": strconv.FormatInt(userID, 10),
	}, &users)
	if err != nil || len(users) == 0 {
		if err == nil {
			err = fmt.Errorf("users.get: user %d not found", userID)
		}
		return fmt.Sprintf("id%d", userID), err
	}

	name := users[0].FirstName + " " + users[0].LastName
	c.namesMu.Lock()
	c.names[userID] = name
	c.namesMu.Unlock()
	return name, nil
}

// WallPostExists reports whether a wall post is still visible on the source.
func (c *Client) WallPostExists(ctx context.Context, ownerID, postID int64) (bool, error) {
	var result struct {
		Items []json.RawMessage `json:"items"`
	}
	err := c.call(ctx, "wall.getById", map[string]string{
		"posts": fmt.Sprintf("%d_%d", ownerID, postID),
	}, &result)
	if err != nil {
		return false, err
	}
	return len(result.Items) > 0, nil
}

// longPollServer is one lease on the group's long-poll endpoint.
type longPollServer struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	TS     string `json:"ts"`
}

func (c *Client) longPollServer(ctx context.Context, groupID int64) (longPollServer, error) {
	var srv longPollServer
	err := c.call(ctx, "groups.getLongPollServer", map[string]string{
		"group_id": strconv.FormatInt(groupID, 10),
	}, &srv)
	if err != nil {
		return longPollServer{}, err
	}
	return srv, nil
}
