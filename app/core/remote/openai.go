package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to the OpenAI Assistants v2 REST API. Request bodies
// are built with sjson and responses read with gjson; the typed SDK does not
// cover the assistants surface.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint, used by tests and proxies.
func (c *OpenAIClient) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

func (c *OpenAIClient) CreateAssistant(ctx context.Context, name, model, instructions string, tools []ToolDefinition) (string, error) {
	body := ""
	body, _ = sjson.Set(body, "name", name)
	body, _ = sjson.Set(body, "model", model)
	body, _ = sjson.Set(body, "instructions", instructions)
	body, _ = sjson.SetRaw(body, "tools", encodeTools(tools))

	resp, err := c.do(ctx, http.MethodPost, "/assistants", body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return "", fmt.Errorf("remote: assistant response missing id")
	}
	return id, nil
}

func (c *OpenAIClient) UpdateAssistant(ctx context.Context, assistantID, instructions string) error {
	body, _ := sjson.Set("", "instructions", instructions)
	_, err := c.do(ctx, http.MethodPost, "/assistants/"+assistantID, body)
	return err
}

func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/threads", "{}")
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "id").String()
	if id == "" {
		return "", fmt.Errorf("remote: thread response missing id")
	}
	return id, nil
}

func (c *OpenAIClient) PostMessage(ctx context.Context, threadID, role, content string) error {
	body := ""
	body, _ = sjson.Set(body, "role", role)
	body, _ = sjson.Set(body, "content", content)
	_, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body)
	return err
}

func (c *OpenAIClient) StartRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	body, _ := sjson.Set("", "assistant_id", assistantID)
	resp, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body)
	if err != nil {
		return Run{}, err
	}
	return parseRun(resp, threadID), nil
}

func (c *OpenAIClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	resp, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, "")
	if err != nil {
		return Run{}, err
	}
	return parseRun(resp, threadID), nil
}

func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	body := "{}"
	for i, out := range outputs {
		body, _ = sjson.Set(body, fmt.Sprintf("tool_outputs.%d.tool_call_id", i), out.ToolCallID)
		body, _ = sjson.Set(body, fmt.Sprintf("tool_outputs.%d.output", i), out.Output)
	}
	_, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", body)
	return err
}

func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	resp, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", "")
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, 8)
	for _, item := range gjson.GetBytes(resp, "data").Array() {
		text := strings.Builder{}
		for _, part := range item.Get("content").Array() {
			if part.Get("type").String() == "text" {
				text.WriteString(part.Get("text.value").String())
			}
		}
		messages = append(messages, Message{
			ID:   item.Get("id").String(),
			Role: item.Get("role").String(),
			Text: text.String(),
		})
	}
	return messages, nil
}

func (c *OpenAIClient) ListRuns(ctx context.Context, threadID string) ([]Run, error) {
	resp, err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs", "")
	if err != nil {
		return nil, err
	}
	runs := make([]Run, 0, 4)
	for _, item := range gjson.GetBytes(resp, "data").Array() {
		runs = append(runs, parseRun([]byte(item.Raw), threadID))
	}
	return runs, nil
}

func (c *OpenAIClient) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", "{}")
	return err
}

func (c *OpenAIClient) do(ctx context.Context, method, path, body string) ([]byte, error) {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := gjson.GetBytes(data, "error.message").String()
		if message == "" {
			message = strings.TrimSpace(string(data))
		}
		if strings.Contains(strings.ToLower(message), "active run") {
			return nil, fmt.Errorf("%w: %s", ErrActiveRun, message)
		}
		return nil, fmt.Errorf("remote: %s %s returned %d: %s", method, path, resp.StatusCode, message)
	}
	return data, nil
}

func parseRun(data []byte, threadID string) Run {
	run := Run{
		ID:        gjson.GetBytes(data, "id").String(),
		ThreadID:  threadID,
		Status:    RunStatus(gjson.GetBytes(data, "status").String()),
		LastError: gjson.GetBytes(data, "last_error.message").String(),
	}
	calls := gjson.GetBytes(data, "required_action.submit_tool_outputs.tool_calls")
	for _, call := range calls.Array() {
		run.PendingToolCalls = append(run.PendingToolCalls, ToolCall{
			ID:        call.Get("id").String(),
			Name:      call.Get("function.name").String(),
			Arguments: call.Get("function.arguments").String(),
		})
	}
	return run
}

func encodeTools(tools []ToolDefinition) string {
	encoded := "[]"
	for i, tool := range tools {
		encoded, _ = sjson.Set(encoded, fmt.Sprintf("%d.type", i), "function")
		encoded, _ = sjson.Set(encoded, fmt.Sprintf("%d.function.name", i), tool.Name)
		encoded, _ = sjson.Set(encoded, fmt.Sprintf("%d.function.description", i), tool.Description)
		if len(tool.Parameters) > 0 {
			encoded, _ = sjson.SetRaw(encoded, fmt.Sprintf("%d.function.parameters", i), string(tool.Parameters))
		}
	}
	return encoded
}
