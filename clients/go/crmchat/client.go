// Package crmchat provides a client for the crmchat messaging relay:
// a plain HTTP client plus a realtime client that maintains the push
// channel with automatic reconnection.
package crmchat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TokenHeader carries the session token on authenticated requests.
const TokenHeader = "X-Session-Token"

// Client is a crmchat HTTP API client. It doubles as the fallback send
// path for the realtime client when the push channel is down.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client. The token is empty until Login.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request, attaching the session token when
// one is held.
func (c *Client) doRequest(method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set(TokenHeader, c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("crmchat error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// User is another account on the relay.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Attachment is optional file metadata carried on a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is a direct message between two users.
type Message struct {
	ID         string      `json:"id"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Text       string      `json:"text"`
	Timestamp  time.Time   `json:"timestamp"`
	IsRead     bool        `json:"isRead"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Contact is another user with liveness and unread info.
type Contact struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
	Online   bool   `json:"online"`
	Unread   int    `json:"unread"`
}

// LoginResponse is the response from logging in.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login authenticates and stores the minted session token on the
// client for subsequent requests.
func (c *Client) Login(username, password string) (*LoginResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	respBody, err := c.doRequest("POST", "/login", body)
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	c.Token = resp.Token
	return &resp, nil
}

// Logout deletes the session and clears the stored token.
func (c *Client) Logout() error {
	_, err := c.doRequest("POST", "/logout", nil)
	c.Token = ""
	return err
}

// SendMessage sends a message over HTTP. The server persists it and
// pushes to the recipient on a best-effort basis.
func (c *Client) SendMessage(to, text string, attachment *Attachment) (*Message, error) {
	body, _ := json.Marshal(map[string]any{
		"to":         to,
		"text":       text,
		"attachment": attachment,
	})
	respBody, err := c.doRequest("POST", "/messages", body)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// History retrieves the full conversation with another user, oldest
// first.
func (c *Client) History(otherID string) ([]Message, error) {
	respBody, err := c.doRequest("GET", "/messages/history/"+otherID, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead marks the given message ids as read.
func (c *Client) MarkRead(ids []string) error {
	body, _ := json.Marshal(map[string][]string{"ids": ids})
	_, err := c.doRequest("POST", "/messages/read", body)
	return err
}

// UnreadCount returns how many messages addressed to the caller are
// still unread.
func (c *Client) UnreadCount() (int, error) {
	respBody, err := c.doRequest("GET", "/messages/unread", nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Contacts lists all other users.
func (c *Client) Contacts() ([]Contact, error) {
	respBody, err := c.doRequest("GET", "/contacts", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// Notify pushes a fire-and-forget notification to another user.
func (c *Client) Notify(userID, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	_, err := c.doRequest("POST", "/notify/"+userID, body)
	return err
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
