package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fleetworks/invoicebot/internal/intake"
)

type ClientOptions struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client is a minimal Bot API client covering only the methods the intake
// flow needs. Failed sends are the caller's problem to journal; the client
// itself never retries.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		token:      strings.TrimSpace(opts.Token),
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload any, out any) error {
	if c == nil {
		return fmt.Errorf("telegram client is nil")
	}
	if c.token == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("%s failed: status=%d body=%s", method, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if !parsed.OK {
		return fmt.Errorf("%s failed: status=%d description=%s", method, resp.StatusCode, parsed.Description)
	}
	if out != nil && len(parsed.Result) > 0 {
		return json.Unmarshal(parsed.Result, out)
	}
	return nil
}

type SendOptions struct {
	ReplyMarkup     any
	MessageThreadID int64
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts != nil {
		if opts.ReplyMarkup != nil {
			payload["reply_markup"] = opts.ReplyMarkup
		}
		if opts.MessageThreadID != 0 {
			payload["message_thread_id"] = opts.MessageThreadID
		}
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// EditMessageText rewrites a previously sent message, dropping any inline
// keyboard it carried unless markup is supplied.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup any) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	return c.call(ctx, "editMessageText", payload, nil)
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]any{"callback_query_id": callbackID}, nil)
}

// FilePath resolves a file_id to a bot-scoped download path via getFile.
func (c *Client) FilePath(ctx context.Context, fileID string) (string, error) {
	var result struct {
		FilePath string `json:"file_path"`
	}
	err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &result)
	if err != nil {
		return "", err
	}
	if result.FilePath == "" {
		return "", fmt.Errorf("getFile returned no file_path")
	}
	return result.FilePath, nil
}

// File is downloaded attachment content.
type File struct {
	Bytes       []byte
	ContentType string
	Name        string
}

// Download fetches the file behind a getFile path.
func (c *Client) Download(ctx context.Context, filePath string) (File, error) {
	if c == nil {
		return File{}, fmt.Errorf("telegram client is nil")
	}
	url := c.baseURL + "/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return File{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return File{}, fmt.Errorf("file download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return File{}, err
	}
	name := filePath
	if idx := strings.LastIndex(filePath, "/"); idx >= 0 {
		name = filePath[idx+1:]
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return File{Bytes: data, ContentType: contentType, Name: name}, nil
}

// InlineKeyboard converts prompt choice rows into reply_markup. Nil when the
// prompt has no choices, so plain prompts send without a keyboard.
func InlineKeyboard(choices [][]intake.Choice) any {
	if len(choices) == 0 {
		return nil
	}
	rows := make([][]map[string]string, 0, len(choices))
	for _, row := range choices {
		buttons := make([]map[string]string, 0, len(row))
		for _, choice := range row {
			buttons = append(buttons, map[string]string{
				"text":          choice.Label,
				"callback_data": choice.Token,
			})
		}
		rows = append(rows, buttons)
	}
	return map[string]any{"inline_keyboard": rows}
}
