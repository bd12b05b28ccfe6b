package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBase    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"
)

var ErrNotConfigured = errors.New("whatsapp: token or phone number id not configured")

// HTTPStatusError is returned when the Graph API answers with anything but 200.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("whatsapp: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Outbound pushes text messages through the WhatsApp Cloud API.
type Outbound struct {
	baseURL       string
	version       string
	phoneNumberID string
	token         string
	client        *http.Client
}

type Option func(*Outbound)

func WithBaseURL(baseURL string) Option {
	return func(o *Outbound) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

func WithAPIVersion(version string) Option {
	return func(o *Outbound) {
		if version = strings.Trim(strings.TrimSpace(version), "/"); version != "" {
			o.version = version
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *Outbound) {
		if client != nil {
			o.client = client
		}
	}
}

func NewOutbound(token, phoneNumberID string, opts ...Option) *Outbound {
	o := &Outbound{
		baseURL:       defaultAPIBase,
		version:       defaultAPIVersion,
		phoneNumberID: strings.TrimSpace(phoneNumberID),
		token:         strings.TrimSpace(token),
		client:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

func (o *Outbound) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", o.baseURL, o.version, o.phoneNumberID)
}

// SendText delivers a plain text message. Only HTTP 200 counts as success.
func (o *Outbound) SendText(ctx context.Context, to, text string) error {
	if o.token == "" || o.phoneNumberID == "" {
		return ErrNotConfigured
	}
	b, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: marshal request: %w", err)
	}

	url := o.messagesURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.token)

	_, err = o.do(req, url)
	return err
}

// PhoneNumberInfo fetches the phone number object; used to check credentials.
func (o *Outbound) PhoneNumberInfo(ctx context.Context) (map[string]any, error) {
	if o.token == "" || o.phoneNumberID == "" {
		return nil, ErrNotConfigured
	}
	url := fmt.Sprintf("%s/%s/%s", o.baseURL, o.version, o.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.token)

	raw, err := o.do(req, url)
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("whatsapp: decode phone number info: %w", err)
	}
	return info, nil
}

func (o *Outbound) do(req *http.Request, url string) ([]byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Body:       string(body),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}
	return raw, nil
}
