package session

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// state is the device identity plus session credentials persisted across
// process restarts. The device UUID is generated once per installation and
// must be presented on every login attempt; everything else is convenience
// that can be lost without breaking the functional path.
type state struct {
	deviceUUID       string
	apiKey           string
	mobileID         int64
	sessionExpiry    time.Time
	loginAttempts    int
	lastLoginAttempt time.Time
}

// Version of state that we marshal/unmarshal
type stateMarshal struct {
	DeviceUUID       string     `json:"device_uuid"`
	APIKey           string     `json:"api_key,omitempty"`
	MobileID         int64      `json:"mobile_id,omitempty"`
	SessionExpiry    *time.Time `json:"session_expiry,omitempty"`
	LoginAttempts    int        `json:"login_attempts"`
	LastLoginAttempt *time.Time `json:"last_login_attempt,omitempty"`
}

func hashOf(s string) string {
	sum := sha1.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// obfuscate the api key when stringified
func (s state) String() string {
	return fmt.Sprintf("deviceUUID [%s]  apiKey [%s]  mobileID [%d]  sessionExpiry [%s]  loginAttempts [%d]",
		s.deviceUUID, hashOf(s.apiKey), s.mobileID, s.sessionExpiry, s.loginAttempts)
}

func (s *state) save(fileName string) error {
	sm := stateMarshal{
		DeviceUUID:    s.deviceUUID,
		APIKey:        s.apiKey,
		MobileID:      s.mobileID,
		LoginAttempts: s.loginAttempts,
	}
	if !s.sessionExpiry.IsZero() {
		t := s.sessionExpiry
		sm.SessionExpiry = &t
	}
	if !s.lastLoginAttempt.IsZero() {
		t := s.lastLoginAttempt
		sm.LastLoginAttempt = &t
	}

	if err := os.MkdirAll(filepath.Dir(fileName), 0750); err != nil {
		return errors.Wrapf(err, "creating state directory for %s", fileName)
	}

	file, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening session state %s for write", fileName)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sm); err != nil {
		return errors.Wrapf(err, "saving session state to %s", fileName)
	}

	return nil
}

func (s *state) load(fileName string) error {
	sm := stateMarshal{}

	file, err := os.OpenFile(fileName, os.O_RDONLY, 0600)
	if err != nil {
		return errors.Wrapf(err, "opening session state %s for read", fileName)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&sm); err != nil {
		return errors.Wrapf(err, "loading session state from %s", fileName)
	}

	if sm.DeviceUUID == "" {
		return errors.Errorf("session state %s has no device UUID", fileName)
	}

	s.deviceUUID = sm.DeviceUUID
	s.apiKey = sm.APIKey
	s.mobileID = sm.MobileID
	s.loginAttempts = sm.LoginAttempts
	if sm.SessionExpiry != nil {
		s.sessionExpiry = *sm.SessionExpiry
	}
	if sm.LastLoginAttempt != nil {
		s.lastLoginAttempt = *sm.LastLoginAttempt
	}

	return nil
}

// DefaultStateFile returns the per-user session state location.
func DefaultStateFile() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".gonexia/state.json"
	}
	return filepath.Join(home, ".gonexia", "state.json")
}
