package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/BTreeMap/RecruitPipe/internal/api"
	"github.com/BTreeMap/RecruitPipe/internal/flow"
	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// envelope is models.APIResponse with a typed result.
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Result  T      `json:"result,omitempty"`
}

// client talks to a running RecruitPipe server.
type client struct {
	http *resty.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("User-Agent", "recruitchat/1.0").
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
	}
}

// Turn posts one inbound message through the simulation webhook.
func (c *client) Turn(ctx context.Context, phone, text string) (models.TurnResult, error) {
	var res models.TurnResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.MORequest{MSISDN: phone, Message: text}).
		SetResult(&res).
		Post("/webhooks/mo")
	if err != nil {
		return res, fmt.Errorf("turn request failed: %w", err)
	}
	if resp.IsError() {
		return res, responseError(resp)
	}
	return res, nil
}

// Send starts outreach to a contact.
func (c *client) Send(ctx context.Context, req models.SendRequest) (models.SendResult, error) {
	var out envelope[models.SendResult]
	if err := c.do(ctx, "POST", "/send", req, &out); err != nil {
		return out.Result, err
	}
	return out.Result, nil
}

// Thread fetches the open or latest thread of phone.
func (c *client) Thread(ctx context.Context, phone string) (flow.ThreadView, error) {
	var out envelope[flow.ThreadView]
	err := c.do(ctx, "GET", "/threads/"+url.PathEscape(phone), nil, &out)
	return out.Result, err
}

// Summary fetches the outcome summary of phone's latest thread.
func (c *client) Summary(ctx context.Context, phone string) (models.Outcome, error) {
	var out envelope[models.Outcome]
	err := c.do(ctx, "GET", "/threads/"+url.PathEscape(phone)+"/summary", nil, &out)
	return out.Result, err
}

// Prompt fetches the prompt hash and model of the server.
func (c *client) Prompt(ctx context.Context) (api.PromptResponse, error) {
	var out envelope[api.PromptResponse]
	err := c.do(ctx, "GET", "/prompt", nil, &out)
	return out.Result, err
}

func (c *client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetResult(result)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	if resp.IsError() {
		return responseError(resp)
	}
	return nil
}

// responseError extracts the message of an error envelope.
func responseError(resp *resty.Response) error {
	var e envelope[json.RawMessage]
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Message != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode(), e.Message)
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}
