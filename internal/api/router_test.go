package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/api/middleware"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/crm"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/handlers"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/models"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/notify"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/registry"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/relay"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/session"
	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/ws"
)

type testServer struct {
	srv *httptest.Server
	gw  *crm.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	gw := crm.NewMemory()
	sessions := session.NewMemory(time.Hour)

	chatRelay := relay.New(gw, sessions, registry.New(), logger)
	notifier := notify.New(sessions, registry.New(), logger)
	h := handlers.NewHandler(chatRelay, notifier, sessions, gw, logger)

	router := NewRouter(logger, Deps{
		Handler:   h,
		Auth:      middleware.NewAuthMiddleware(sessions),
		ChatHub:   ws.NewChatHub(chatRelay, logger),
		NotifyHub: ws.NewNotifyHub(notifier, logger),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, gw: gw}
}

func (ts *testServer) addUser(t *testing.T, username, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	id, err := ts.gw.Create(context.Background(), crm.EntityUser, map[string]any{
		crm.FieldUsername:     username,
		crm.FieldFullName:     username + " Test",
		crm.FieldPasswordHash: string(hash),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	resp, body := ts.request(t, "POST", "/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login returned %d: %s", resp.StatusCode, body)
	}
	var lr handlers.LoginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return lr.Token
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	aliceID := ts.addUser(t, "alice", "secret")

	resp, body := ts.request(t, "POST", "/login", "", map[string]string{
		"username": "alice", "password": "secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var lr handlers.LoginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lr.Token == "" {
		t.Error("expected a session token")
	}
	if lr.User.ID != aliceID || lr.User.Username != "alice" {
		t.Errorf("user = %+v", lr.User)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", "secret")

	cases := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "alice", "nope"},
		{"unknown user", "nobody", "secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := ts.request(t, "POST", "/login", "", map[string]string{
				"username": tc.username, "password": tc.password,
			})
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.request(t, "GET", "/contacts", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = ts.request(t, "GET", "/contacts", "bogus-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", resp.StatusCode)
	}
}

func TestSendAndHistory(t *testing.T) {
	ts := newTestServer(t)
	aliceID := ts.addUser(t, "alice", "secret")
	bobID := ts.addUser(t, "bob", "hunter2")
	aliceTok := ts.login(t, "alice", "secret")
	bobTok := ts.login(t, "bob", "hunter2")

	resp, body := ts.request(t, "POST", "/messages", aliceTok, map[string]string{
		"to": bobID, "text": "hello bob",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d: %s", resp.StatusCode, body)
	}
	var sent models.ChatMessage
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.ID == "" || sent.From != aliceID || sent.To != bobID {
		t.Errorf("sent = %+v", sent)
	}

	resp, body = ts.request(t, "GET", "/messages/history/"+aliceID, bobTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d: %s", resp.StatusCode, body)
	}
	var hr struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hr.Messages) != 1 || hr.Messages[0].Text != "hello bob" {
		t.Errorf("history = %+v", hr.Messages)
	}
}

func TestSendValidation(t *testing.T) {
	ts := newTestServer(t)
	bobID := ts.addUser(t, "bob", "hunter2")
	ts.addUser(t, "alice", "secret")
	aliceTok := ts.login(t, "alice", "secret")

	resp, _ := ts.request(t, "POST", "/messages", aliceTok, map[string]string{
		"to": "not-a-uuid", "text": "hi",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid id: status = %d, want 400", resp.StatusCode)
	}

	resp, _ = ts.request(t, "POST", "/messages", aliceTok, map[string]string{
		"to": bobID, "text": "   ",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank text: status = %d, want 400", resp.StatusCode)
	}
}

func TestUnreadAndMarkRead(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", "secret")
	bobID := ts.addUser(t, "bob", "hunter2")
	aliceTok := ts.login(t, "alice", "secret")
	bobTok := ts.login(t, "bob", "hunter2")

	var ids []string
	for i := 0; i < 3; i++ {
		_, body := ts.request(t, "POST", "/messages", aliceTok, map[string]string{
			"to": bobID, "text": fmt.Sprintf("msg %d", i),
		})
		var msg models.ChatMessage
		json.Unmarshal(body, &msg)
		ids = append(ids, msg.ID)
	}

	resp, body := ts.request(t, "GET", "/messages/unread", bobTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unread status = %d", resp.StatusCode)
	}
	var ur struct {
		Count int `json:"count"`
	}
	json.Unmarshal(body, &ur)
	if ur.Count != 3 {
		t.Errorf("unread = %d, want 3", ur.Count)
	}

	resp, _ = ts.request(t, "POST", "/messages/read", bobTok, map[string][]string{
		"ids": ids[:2],
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read status = %d", resp.StatusCode)
	}

	_, body = ts.request(t, "GET", "/messages/unread", bobTok, nil)
	json.Unmarshal(body, &ur)
	if ur.Count != 1 {
		t.Errorf("unread after mark = %d, want 1", ur.Count)
	}
}

func TestContacts(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", "secret")
	bobID := ts.addUser(t, "bob", "hunter2")
	aliceTok := ts.login(t, "alice", "secret")

	resp, body := ts.request(t, "GET", "/contacts", aliceTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var cr struct {
		Contacts []models.Contact `json:"contacts"`
	}
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cr.Contacts) != 1 || cr.Contacts[0].ID != bobID {
		t.Errorf("contacts = %+v", cr.Contacts)
	}
	if cr.Contacts[0].Online {
		t.Error("bob has no live connection, should be offline")
	}
}

func TestNotifyAcceptsOfflineTarget(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", "secret")
	bobID := ts.addUser(t, "bob", "hunter2")
	aliceTok := ts.login(t, "alice", "secret")

	// Bob has no notification connection; the response is identical to
	// the delivered case.
	resp, _ := ts.request(t, "POST", "/notify/"+bobID, aliceTok, map[string]string{
		"text": "ping",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "alice", "secret")
	tok := ts.login(t, "alice", "secret")

	resp, _ := ts.request(t, "POST", "/logout", tok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = ts.request(t, "GET", "/contacts", tok, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("after logout: status = %d, want 401", resp.StatusCode)
	}
}

func TestUpstreamOutageSurfacesAsBadGateway(t *testing.T) {
	ts := newTestServer(t)
	bobID := ts.addUser(t, "bob", "hunter2")
	ts.addUser(t, "alice", "secret")
	aliceTok := ts.login(t, "alice", "secret")

	ts.gw.SetError(fmt.Errorf("crm outage"))
	defer ts.gw.SetError(nil)

	resp, _ := ts.request(t, "POST", "/messages", aliceTok, map[string]string{
		"to": bobID, "text": "hello",
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.request(t, "GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var hr handlers.HealthResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "healthy" {
		t.Errorf("status = %q, want healthy", hr.Status)
	}
}
