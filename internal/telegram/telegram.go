package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
)

// MaxPollTimeout is the longest server-side long-poll the Bot API accepts.
const MaxPollTimeout = 50

const (
	openAttempts    = 5
	openRetryDelay  = 200 * time.Millisecond
	maxMessageChars = 3900
)

// Client is a minimal Telegram Bot API client. It carries no retry logic;
// failures surface as errors to the caller.
type Client struct {
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>").
func NewClient(apiBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat
type User = cmdpkg.User

// GetUpdates calls the getUpdates API. The timeout is clamped to
// [0, MaxPollTimeout]; offset <= 0 is omitted so the server returns all
// unconfirmed updates.
func (c *Client) GetUpdates(offset int64, timeout int) ([]Update, error) {
	if timeout < 0 {
		timeout = 0
	}
	if timeout > MaxPollTimeout {
		timeout = MaxPollTimeout
	}

	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	params.Set("timeout", strconv.Itoa(timeout))

	resp, err := c.httpClient.Get(c.apiBase + "/getUpdates?" + params.Encode())
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read getUpdates response: %w", err)
	}

	var tgResp Response
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates response: %w", err)
	}
	if !tgResp.OK {
		return nil, fmt.Errorf("telegram getUpdates rejected: %s", tgResp.Description)
	}

	var updates []Update
	if err := json.Unmarshal(tgResp.Result, &updates); err != nil {
		return nil, fmt.Errorf("failed to parse getUpdates result: %w", err)
	}
	return updates, nil
}

// SendMessage sends a text message to the given chat. Non-2xx responses
// surface as errors carrying the raw response body.
func (c *Client) SendMessage(chatID int64, text string) error {
	if chatID == 0 {
		return fmt.Errorf("telegram sendMessage: chat id is required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("telegram sendMessage: text is required")
	}

	limited := truncate(text, maxMessageChars)
	payload := fmt.Sprintf(`{"chat_id":%d,"text":%s}`, chatID, jsonString(limited))

	resp, err := c.httpClient.Post(
		c.apiBase+"/sendMessage",
		"application/json",
		strings.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("telegram sendMessage request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telegram sendMessage status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}
	return nil
}

// SendDocument uploads a file to the given chat via multipart form data.
// The open is retried with a short backoff because a backup file may still
// be flushing when delivery starts.
func (c *Client) SendDocument(chatID int64, filePath, caption string) error {
	if chatID == 0 {
		return fmt.Errorf("telegram sendDocument: chat id is required")
	}
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("telegram sendDocument: %w", err)
	}

	file, err := openWithRetry(filePath)
	if err != nil {
		return fmt.Errorf("telegram sendDocument open failed: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
		return fmt.Errorf("telegram sendDocument form failed: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", truncate(caption, 1024)); err != nil {
			return fmt.Errorf("telegram sendDocument form failed: %w", err)
		}
	}
	part, err := writer.CreateFormFile("document", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("telegram sendDocument form failed: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("telegram sendDocument read failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("telegram sendDocument form failed: %w", err)
	}

	resp, err := c.httpClient.Post(c.apiBase+"/sendDocument", writer.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("telegram sendDocument request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telegram sendDocument status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}
	return nil
}

func openWithRetry(path string) (*os.File, error) {
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		file, err := os.Open(path)
		if err == nil {
			return file, nil
		}
		lastErr = err
		time.Sleep(openRetryDelay)
	}
	return nil, lastErr
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
