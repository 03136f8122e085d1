package asana

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
)

const DefaultBaseURL = "https://app.asana.com/api/1.0"

// taskFields is the opt_fields projection requested for every task read.
const taskFields = "gid,name,completed,modified_at,custom_fields.gid,custom_fields.name,custom_fields.type," +
	"custom_fields.text_value,custom_fields.number_value,custom_fields.enum_value.gid," +
	"custom_fields.enum_value.name,custom_fields.display_value"

var ErrTaskNotFound = errors.New("asana: task not found")

// APIError is a non-2xx answer from the Asana API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asana: http %d: %s", e.Status, e.Message)
}

// Task is the subset of an Asana task the store reads.
type Task struct {
	GID          string        `json:"gid"`
	Name         string        `json:"name"`
	Completed    bool          `json:"completed"`
	ModifiedAt   time.Time     `json:"modified_at"`
	CustomFields []CustomField `json:"custom_fields"`
}

type CustomField struct {
	GID          string      `json:"gid"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	TextValue    *string     `json:"text_value"`
	NumberValue  *float64    `json:"number_value"`
	EnumValue    *EnumOption `json:"enum_value"`
	DisplayValue *string     `json:"display_value"`
}

type EnumOption struct {
	GID  string `json:"gid"`
	Name string `json:"name"`
}

// Client is a minimal Asana REST client: project task listing, task reads,
// custom field updates and comments.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// ListProjectTasks returns every task of a project, following pagination.
func (c *Client) ListProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	var out []Task
	offset := ""
	for {
		q := url.Values{}
		q.Set("opt_fields", taskFields)
		q.Set("limit", "100")
		if offset != "" {
			q.Set("offset", offset)
		}
		env, err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/tasks?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var page []Task
		if err := json.Unmarshal(env.Data, &page); err != nil {
			return nil, fmt.Errorf("asana: decode tasks: %w", err)
		}
		out = append(out, page...)
		if env.NextPage == nil || env.NextPage.Offset == "" {
			return out, nil
		}
		offset = env.NextPage.Offset
	}
}

func (c *Client) GetTask(ctx context.Context, gid string) (Task, error) {
	q := url.Values{}
	q.Set("opt_fields", taskFields)
	env, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(gid)+"?"+q.Encode(), nil)
	if err != nil {
		return Task{}, err
	}
	var t Task
	if err := json.Unmarshal(env.Data, &t); err != nil {
		return Task{}, fmt.Errorf("asana: decode task: %w", err)
	}
	return t, nil
}

// UpdateCustomFields sets custom field values keyed by field gid. Enum values are option gids.
func (c *Client) UpdateCustomFields(ctx context.Context, gid string, fields map[string]any) error {
	body := map[string]any{"data": map[string]any{"custom_fields": fields}}
	_, err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(gid), body)
	return err
}

// AddComment posts a story (comment) on a task.
func (c *Client) AddComment(ctx context.Context, gid, text string) error {
	body := map[string]any{"data": map[string]any{"text": text}}
	_, err := c.do(ctx, http.MethodPost, "/tasks/"+url.PathEscape(gid)+"/stories", body)
	return err
}

// Ping checks credentials with the cheapest authenticated call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/users/me?opt_fields=gid", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any) (envelope, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return envelope{}, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("asana: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("asana: read body: %w", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return envelope{}, fmt.Errorf("asana: decode envelope: %w", err)
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return envelope{}, ErrTaskNotFound
	}
	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if len(env.Errors) > 0 {
			msg = env.Errors[0].Message
		}
		return envelope{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return env, nil
}
