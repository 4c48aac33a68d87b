package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gonexia/internal/pkg/apierr"
	"gonexia/internal/pkg/transport"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func decodeBody(t *testing.T, r *http.Request, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func testManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	}
	if cfg.Login == "" {
		cfg.Login = "user@example.com"
	}
	if cfg.Password == "" {
		cfg.Password = "hunter2"
	}

	m := NewManager(cfg, transport.New(transport.Options{RetryBase: time.Millisecond}))
	m.Initialize()
	return m
}

func TestInitialize(t *testing.T) {
	t.Run("fresh install generates a device identity", func(t *testing.T) {
		m := testManager(t, Config{})
		if m.DeviceUUID() == "" {
			t.Error("expected a generated device UUID")
		}
		if m.IsSessionValid() {
			t.Error("fresh install should not have a valid session")
		}
	})

	t.Run("identity survives a restart", func(t *testing.T) {
		stateFile := filepath.Join(t.TempDir(), "state.json")

		m1 := testManager(t, Config{StateFile: stateFile})
		m2 := testManager(t, Config{StateFile: stateFile})

		if m1.DeviceUUID() != m2.DeviceUUID() {
			t.Errorf("device UUID changed across restart: %s vs %s", m1.DeviceUUID(), m2.DeviceUUID())
		}
	})

	t.Run("unexpired session is restored", func(t *testing.T) {
		stateFile := filepath.Join(t.TempDir(), "state.json")

		m1 := testManager(t, Config{StateFile: stateFile})
		m1.state.apiKey = "key-1"
		m1.state.mobileID = 42
		m1.state.sessionExpiry = time.Now().Add(time.Hour)
		m1.persist()

		m2 := testManager(t, Config{StateFile: stateFile})
		if !m2.IsSessionValid() {
			t.Error("expected restored session to be valid")
		}
		creds := m2.Credentials()
		if creds.APIKey != "key-1" || creds.MobileID != 42 {
			t.Errorf("credentials = %+v, want restored key-1/42", creds)
		}
	})

	t.Run("expired session is dropped but identity kept", func(t *testing.T) {
		stateFile := filepath.Join(t.TempDir(), "state.json")

		m1 := testManager(t, Config{StateFile: stateFile})
		m1.state.apiKey = "key-1"
		m1.state.mobileID = 42
		m1.state.sessionExpiry = time.Now().Add(-time.Hour)
		m1.persist()

		m2 := testManager(t, Config{StateFile: stateFile})
		if m2.IsSessionValid() {
			t.Error("expired session should not be valid")
		}
		if m2.DeviceUUID() != m1.DeviceUUID() {
			t.Error("device identity should survive session expiry")
		}
	})

	t.Run("corrupt state file yields a fresh identity", func(t *testing.T) {
		stateFile := filepath.Join(t.TempDir(), "state.json")
		writeFile(t, stateFile, "{not json")

		m := testManager(t, Config{StateFile: stateFile})
		if m.DeviceUUID() == "" {
			t.Error("expected a fresh device UUID after corrupt state")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	t.Run("successful sign-in", func(t *testing.T) {
		var seen struct {
			Login      string `json:"login"`
			Password   string `json:"password"`
			DeviceUUID string `json:"device_uuid"`
		}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/accounts/sign_in.json" {
				t.Errorf("path = %s, want /accounts/sign_in.json", r.URL.Path)
			}
			decodeBody(t, r, &seen)
			w.Write([]byte(`{"result": {"mobile_id": 42, "api_key": "key-1"}}`))
		}))
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})
		if err := m.Authenticate(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !m.IsSessionValid() {
			t.Error("expected a valid session after sign-in")
		}
		if seen.Login != "user@example.com" || seen.DeviceUUID != m.DeviceUUID() {
			t.Errorf("sign-in body = %+v, want configured login and device UUID", seen)
		}

		expiry := m.state.sessionExpiry
		if d := time.Until(expiry); d < 23*time.Hour || d > 25*time.Hour {
			t.Errorf("session expiry %s is not about a day out", expiry)
		}
	})

	t.Run("redirect means bad credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/login", http.StatusFound)
		}))
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})
		err := m.Authenticate(context.Background())
		if err == nil {
			t.Fatal("expected an error")
		}

		kind, _ := apierr.KindOf(err)
		if kind != apierr.KindAuth {
			t.Errorf("kind = %v, want authentication", kind)
		}
		if apierr.IsSessionExpired(err) {
			t.Error("bad login must not be reported as session expiry")
		}
		if m.state.loginAttempts != 1 {
			t.Errorf("loginAttempts = %d, want 1", m.state.loginAttempts)
		}
	})

	t.Run("incomplete sign-in response fails", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": {}}`))
		}))
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})
		err := m.Authenticate(context.Background())
		if !apierr.IsAuthentication(err) {
			t.Fatalf("error = %v, want authentication", err)
		}
		if m.IsSessionValid() {
			t.Error("session must not be valid after a failed sign-in")
		}
	})

	t.Run("missing credentials fail before the network", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer server.Close()

		m := NewManager(Config{
			BaseURL:   server.URL,
			StateFile: filepath.Join(t.TempDir(), "state.json"),
		}, transport.New(transport.Options{}))
		m.Initialize()

		err := m.Authenticate(context.Background())
		kind, _ := apierr.KindOf(err)
		if kind != apierr.KindConfig {
			t.Fatalf("error = %v, want configuration", err)
		}
		if atomic.LoadInt32(&calls) != 0 {
			t.Error("missing credentials should not reach the server")
		}
	})
}

func TestLoginRateLimit(t *testing.T) {
	t.Run("lockout after repeated failures", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			http.Redirect(w, r, "/login", http.StatusFound)
		}))
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})

		for i := 0; i < maxLoginAttempts; i++ {
			if err := m.Authenticate(context.Background()); err == nil {
				t.Fatal("expected sign-in to fail")
			}
		}
		if got := atomic.LoadInt32(&calls); got != maxLoginAttempts {
			t.Fatalf("server hit %d times, want %d", got, maxLoginAttempts)
		}

		err := m.Authenticate(context.Background())
		if !apierr.IsRateLimited(err) {
			t.Fatalf("error = %v, want rate-limited", err)
		}

		var apiErr *apierr.Error
		if !errors.As(err, &apiErr) {
			t.Fatal("expected a structured error")
		}
		if apiErr.Wait <= 0 || apiErr.Wait > loginAttemptWindow {
			t.Errorf("wait = %s, want within the attempt window", apiErr.Wait)
		}

		// The refusal is local: no extra server round trip.
		if got := atomic.LoadInt32(&calls); got != maxLoginAttempts {
			t.Errorf("server hit %d times after lockout, want %d", got, maxLoginAttempts)
		}
	})

	t.Run("window elapse resets the counter", func(t *testing.T) {
		m := testManager(t, Config{})
		m.state.loginAttempts = maxLoginAttempts
		m.state.lastLoginAttempt = time.Now()

		if err := m.checkLoginAllowed(); !apierr.IsRateLimited(err) {
			t.Fatalf("error = %v, want rate-limited", err)
		}

		m.now = func() time.Time { return time.Now().Add(loginAttemptWindow + time.Minute) }
		if err := m.checkLoginAllowed(); err != nil {
			t.Errorf("unexpected error after window elapse: %v", err)
		}
	})

	t.Run("success resets the counter", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result": {"mobile_id": 42, "api_key": "key-1"}}`))
		}))
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})
		m.state.loginAttempts = maxLoginAttempts - 1
		m.state.lastLoginAttempt = time.Now()

		if err := m.Authenticate(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.state.loginAttempts != 0 {
			t.Errorf("loginAttempts = %d after success, want 0", m.state.loginAttempts)
		}
	})
}

func TestHandleSessionExpired(t *testing.T) {
	m := testManager(t, Config{})
	m.state.apiKey = "key-1"
	m.state.mobileID = 42
	m.state.sessionExpiry = time.Now().Add(time.Hour)
	uuid := m.DeviceUUID()

	m.HandleSessionExpired()

	if m.IsSessionValid() {
		t.Error("session should be invalid after expiry handling")
	}
	if m.DeviceUUID() != uuid {
		t.Error("device identity must survive session expiry")
	}
	if creds := m.Credentials(); creds.APIKey != "" || creds.MobileID != 0 {
		t.Errorf("credentials = %+v, want cleared", creds)
	}
}

func TestSessionInfo(t *testing.T) {
	const modern = `{"result": {"_links": {"child": [
		{"data": {"id": 100, "name": "Main House", "type": "house"}},
		{"data": {"id": 200, "name": "Cabin", "type": "house"}}
	]}}}`
	const legacy = `{"result": {"homes": [
		{"house_id": 100, "name": "Main House"},
		{"house_id": 200, "name": "Cabin"}
	]}}`

	serve := func(body string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/session" {
				t.Errorf("path = %s, want /session", r.URL.Path)
			}
			w.Write([]byte(body))
		}))
	}

	t.Run("both response shapes resolve the same house", func(t *testing.T) {
		for name, body := range map[string]string{"modern": modern, "legacy": legacy} {
			server := serve(body)

			m := testManager(t, Config{BaseURL: server.URL})
			house, err := m.SessionInfo(context.Background())
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", name, err)
			}
			if house.ID != 100 || house.Name != "Main House" {
				t.Errorf("%s: house = %+v, want first home", name, house)
			}

			server.Close()
		}
	})

	t.Run("configured house id selects a specific home", func(t *testing.T) {
		server := serve(modern)
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL, HouseID: 200})
		house, err := m.SessionInfo(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if house.ID != 200 || house.Name != "Cabin" {
			t.Errorf("house = %+v, want the configured one", house)
		}
	})

	t.Run("unknown configured house id fails listing valid ids", func(t *testing.T) {
		server := serve(modern)
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL, HouseID: 999})
		_, err := m.SessionInfo(context.Background())
		if !apierr.IsAuthentication(err) {
			t.Fatalf("error = %v, want authentication", err)
		}
		if !strings.Contains(err.Error(), "100") || !strings.Contains(err.Error(), "200") {
			t.Errorf("error %q should list the discovered house ids", err.Error())
		}
	})

	t.Run("no homes at all fails", func(t *testing.T) {
		server := serve(`{"result": {}}`)
		defer server.Close()

		m := testManager(t, Config{BaseURL: server.URL})
		if _, err := m.SessionInfo(context.Background()); !apierr.IsAuthentication(err) {
			t.Fatalf("error = %v, want authentication", err)
		}
	})
}
