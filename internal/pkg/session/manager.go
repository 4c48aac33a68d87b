package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gonexia/internal/pkg/apierr"
	"gonexia/internal/pkg/logging"
	"gonexia/internal/pkg/transport"
)

const (
	sessionLifetime   = time.Hour * 24
	defaultDeviceName = "gonexia"
	defaultAppVersion = "6.0.0"
)

type Config struct {
	BaseURL  string
	Login    string
	Password string

	// HouseID pins the account house; 0 selects the first discovered home.
	HouseID int64

	DeviceName   string
	AppVersion   string
	IsCommercial bool
	StateFile    string
}

// Manager owns the persisted device identity and the api-key/mobile-id pair
// exchanged for the account credentials. It never retries authentication on
// its own; recovery orchestration belongs to the device registry.
type Manager struct {
	cfg   Config
	tr    *transport.Client
	state state

	now func() time.Time
}

func NewManager(cfg Config, tr *transport.Client) *Manager {
	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = defaultAppVersion
	}
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile()
	}

	return &Manager{
		cfg: cfg,
		tr:  tr,
		now: time.Now,
	}
}

// Initialize loads persisted state from disk, falling back to a fresh device
// identity when the file is missing or corrupt. A still-unexpired session is
// restored directly, skipping the network sign-in.
func (m *Manager) Initialize() {
	if err := m.state.load(m.cfg.StateFile); err != nil {
		logging.Logger(nil).WithError(err).Debug("no usable session state, generating fresh device identity")
		m.state = state{deviceUUID: uuid.New().String()}
		m.persist()
		return
	}

	if m.IsSessionValid() {
		logging.Logger(nil).Debugf("restored session, expires %s", m.state.sessionExpiry)
	} else if m.state.apiKey != "" {
		// Loaded credentials are stale; keep the identity, drop the rest.
		m.state.apiKey = ""
		m.state.mobileID = 0
		m.state.sessionExpiry = time.Time{}
	}
}

// IsSessionValid is a pure check: api key, mobile id and an unexpired expiry
// must all be present.
func (m *Manager) IsSessionValid() bool {
	return m.state.apiKey != "" &&
		m.state.mobileID != 0 &&
		m.state.sessionExpiry.After(m.now())
}

// Credentials returns the per-request credential value for the current
// session; empty when unauthenticated.
func (m *Manager) Credentials() transport.Credentials {
	if !m.IsSessionValid() {
		return transport.Credentials{
			DeviceUUID: m.state.deviceUUID,
			AppVersion: m.cfg.AppVersion,
		}
	}

	return transport.Credentials{
		APIKey:     m.state.apiKey,
		MobileID:   m.state.mobileID,
		DeviceUUID: m.state.deviceUUID,
		AppVersion: m.cfg.AppVersion,
	}
}

// DeviceUUID returns the stable installation identity.
func (m *Manager) DeviceUUID() string {
	return m.state.deviceUUID
}

type signInResult struct {
	Result struct {
		MobileID int64  `json:"mobile_id"`
		APIKey   string `json:"api_key"`
	} `json:"result"`
}

// Authenticate exchanges the account credentials plus device identity for an
// api-key/mobile-id pair. The local rate limiter runs first; a refusal never
// reaches the network.
func (m *Manager) Authenticate(ctx context.Context) error {
	if err := m.checkLoginAllowed(); err != nil {
		return err
	}

	if m.cfg.Login == "" || m.cfg.Password == "" {
		return apierr.New(apierr.KindConfig, "login and password are required")
	}

	body := map[string]interface{}{
		"login":         m.cfg.Login,
		"password":      m.cfg.Password,
		"device_uuid":   m.state.deviceUUID,
		"device_name":   m.cfg.DeviceName,
		"app_version":   m.cfg.AppVersion,
		"is_commercial": m.cfg.IsCommercial,
	}

	resp, err := m.tr.Do(ctx, http.MethodPost, m.cfg.BaseURL+"/accounts/sign_in.json", body, m.Credentials())
	if err != nil {
		m.recordLoginFailure()
		metricLoginFailure.Inc()

		// The sign-in endpoint answers bad credentials with a redirect to
		// the login page, which the transport reports as session-expired.
		if apierr.IsSessionExpired(err) {
			return apierr.New(apierr.KindAuth, "invalid login credentials")
		}
		return err
	}

	var result signInResult
	if err := resp.Decode(&result); err != nil {
		m.recordLoginFailure()
		metricLoginFailure.Inc()
		return err
	}

	if result.Result.APIKey == "" || result.Result.MobileID == 0 {
		m.recordLoginFailure()
		metricLoginFailure.Inc()
		return apierr.New(apierr.KindAuth, "sign-in response missing api key or mobile id")
	}

	m.state.apiKey = result.Result.APIKey
	m.state.mobileID = result.Result.MobileID
	m.state.sessionExpiry = m.now().Add(sessionLifetime)
	m.state.loginAttempts = 0
	m.persist()

	metricLoginSuccess.Inc()
	metricSessionValid.Set(1)
	logging.Logger(ctx).Infof("authenticated, session expires %s", m.state.sessionExpiry)

	return nil
}

// HandleSessionExpired synchronously drops the in-memory credentials so a
// subsequent Authenticate performs a clean re-login. The device identity and
// attempt counter are untouched.
func (m *Manager) HandleSessionExpired() {
	m.state.apiKey = ""
	m.state.mobileID = 0
	m.state.sessionExpiry = time.Time{}
	m.persist()
	metricSessionValid.Set(0)
}

// Logout invalidates the session locally.
func (m *Manager) Logout() {
	m.HandleSessionExpired()
	logging.Logger(nil).Info("logged out")
}

// House identifies one home on the account.
type House struct {
	ID   int64
	Name string
}

type sessionResult struct {
	Result struct {
		Links struct {
			Child []struct {
				Data struct {
					ID   int64  `json:"id"`
					Name string `json:"name"`
					Type string `json:"type"`
				} `json:"data"`
			} `json:"child"`
		} `json:"_links"`
		Homes []struct {
			HouseID int64  `json:"house_id"`
			Name    string `json:"name"`
		} `json:"homes"`
	} `json:"result"`
}

// SessionInfo resolves the caller's house. The discovery response arrives in
// either the modern link-collection shape or the legacy flat homes list. A
// configured house id must match one of the discovered homes.
func (m *Manager) SessionInfo(ctx context.Context) (House, error) {
	resp, err := m.tr.Do(ctx, http.MethodPost, m.cfg.BaseURL+"/session", nil, m.Credentials())
	if err != nil {
		return House{}, err
	}

	var result sessionResult
	if err := resp.Decode(&result); err != nil {
		return House{}, err
	}

	var houses []House
	for _, child := range result.Result.Links.Child {
		if child.Data.Type != "" && child.Data.Type != "house" {
			continue
		}
		if child.Data.ID != 0 {
			houses = append(houses, House{ID: child.Data.ID, Name: child.Data.Name})
		}
	}
	for _, home := range result.Result.Homes {
		houses = append(houses, House{ID: home.HouseID, Name: home.Name})
	}

	if len(houses) == 0 {
		return House{}, apierr.New(apierr.KindAuth, "session discovery returned no homes")
	}

	if m.cfg.HouseID == 0 {
		return houses[0], nil
	}

	for _, house := range houses {
		if house.ID == m.cfg.HouseID {
			return house, nil
		}
	}

	valid := make([]string, 0, len(houses))
	for _, house := range houses {
		valid = append(valid, fmt.Sprintf("%d (%s)", house.ID, house.Name))
	}
	return House{}, apierr.New(apierr.KindAuth,
		"configured house id %d matches no discovered home; valid ids: %s",
		m.cfg.HouseID, strings.Join(valid, ", "))
}

// persist writes state to disk, best effort: losing the convenience cache
// must not break the functional path.
func (m *Manager) persist() {
	if err := m.state.save(m.cfg.StateFile); err != nil {
		logging.Logger(nil).WithError(err).Warn("failed to persist session state")
	}
}
