package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	xerrors "AgentCanvas/internal/errors"
)

// DefaultHTTPTimeout 是未传入 http.Client 时使用的超时时间。
const DefaultHTTPTimeout = 10 * time.Second

// APIError 表示详情服务返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("catalog api error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// Client 通过 HTTP 访问详情服务。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient 创建详情服务客户端。
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "catalog base url is empty")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid catalog base url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// GetSubnet 获取工具详情。
func (c *Client) GetSubnet(ctx context.Context, id string) (*Subnet, error) {
	var subnet Subnet
	if err := c.get(ctx, "/subnets/"+url.PathEscape(id), &subnet); err != nil {
		return nil, wrapNotFound(err, CodeSubnetNotFound, "subnet_id", id)
	}
	if subnet.ID == "" {
		subnet.ID = id
	}
	return &subnet, nil
}

// GetAgent 获取智能体详情，包含可选的预置布局。
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	if err := c.get(ctx, "/agents/"+url.PathEscape(id), &agent); err != nil {
		return nil, wrapNotFound(err, CodeAgentNotFound, "agent_id", id)
	}
	if agent.ID == "" {
		agent.ID = id
	}
	return &agent, nil
}

func wrapNotFound(err error, code xerrors.Code, key, id string) error {
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusNotFound {
		return xerrors.Wrap(code, err, "", xerrors.WithMetadata(key, id))
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "fetch catalog entry", xerrors.WithMetadata(key, id))
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Message != "" {
			apiErr.Message = env.Message
		} else {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "catalog reported failure"
		}
		return xerrors.New(xerrors.CodeUpstreamFailure, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

var _ Catalog = (*Client)(nil)
