package nexia

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gonexia/internal/pkg/apierr"
	"gonexia/internal/pkg/devices"
	"gonexia/internal/pkg/logging"
	"gonexia/internal/pkg/session"
	"gonexia/internal/pkg/transport"
)

const (
	// DefaultBaseURL is the vendor's mobile API endpoint.
	DefaultBaseURL = "https://www.mynexia.com/mobile"

	defaultSettleDelay  = time.Second * 3
	defaultPollInterval = time.Second * 2
	defaultPollAttempts = 10
)

type Config struct {
	BaseURL  string
	Login    string
	Password string
	HouseID  int64

	DeviceName   string
	IsCommercial bool
	StateFile    string

	Timeout    time.Duration
	MaxRetries int

	// SettleDelay is the wait between a write and the forced refresh that
	// follows it; the vendor API is eventually consistent.
	SettleDelay time.Duration

	// PollInterval/PollAttempts bound the active-sensor polling after a
	// RoomIQ sensor selection.
	PollInterval time.Duration
	PollAttempts int
}

// Home orchestrates the session manager, transport and normalizer for one
// house: it refreshes the canonical device tree, dispatches commands and
// transparently re-authenticates once on session expiry.
type Home struct {
	cfg  Config
	tr   *transport.Client
	sess *session.Manager

	house session.House

	mu          sync.RWMutex
	thermostats map[int64]*devices.Thermostat
	automations map[int64]*devices.Automation

	// ctx is cancelled by Close, aborting pending settle delays and polls.
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config) *Home {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = defaultPollAttempts
	}

	tr := transport.New(transport.Options{
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})

	sess := session.NewManager(session.Config{
		BaseURL:      cfg.BaseURL,
		Login:        cfg.Login,
		Password:     cfg.Password,
		HouseID:      cfg.HouseID,
		DeviceName:   cfg.DeviceName,
		IsCommercial: cfg.IsCommercial,
		StateFile:    cfg.StateFile,
	}, tr)
	sess.Initialize()

	ctx, cancel := context.WithCancel(context.Background())

	return &Home{
		cfg:         cfg,
		tr:          tr,
		sess:        sess,
		thermostats: make(map[int64]*devices.Thermostat),
		automations: make(map[int64]*devices.Automation),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Close cancels any pending delayed refresh or sensor polling.
func (h *Home) Close() {
	h.cancel()
}

// Login ensures an authenticated session and resolves the account house.
func (h *Home) Login(ctx context.Context) error {
	if !h.sess.IsSessionValid() {
		if err := h.sess.Authenticate(ctx); err != nil {
			return err
		}
	}

	if h.house.ID == 0 {
		house, err := h.sess.SessionInfo(ctx)
		if err != nil {
			return err
		}
		h.house = house
		logging.Logger(ctx).Infof("using house %d (%s)", house.ID, house.Name)
	}

	return nil
}

// Logout drops the stored session credentials, keeping the device identity.
func (h *Home) Logout() {
	h.sess.Logout()
	h.tr.InvalidateETags()
}

// House returns the resolved house, zero before Login.
func (h *Home) House() session.House {
	return h.house
}

// Update refreshes the canonical device tree. A forced update bypasses the
// conditional-GET cache; otherwise a 304 leaves the current snapshot alone.
func (h *Home) Update(ctx context.Context, force bool) error {
	ctx = logging.WithTxnID(ctx, uuid.New().String())

	if err := h.Login(ctx); err != nil {
		return err
	}

	url := h.houseURL()
	if force {
		h.tr.InvalidateETag(url)
	}

	resp, err := h.withSessionRetry(ctx, func() (*transport.Response, error) {
		return h.tr.GetWithETag(ctx, url, h.sess.Credentials())
	})
	if err != nil {
		return err
	}

	if resp.FromCache {
		logging.Logger(ctx).Debug("device tree unchanged, keeping current snapshot")
		return nil
	}

	thermostats, automations, err := parseDeviceTree(resp.Data)
	if err != nil {
		return err
	}

	// Replace the collections wholesale so readers never see a torn state.
	h.mu.Lock()
	h.thermostats = thermostats
	h.automations = automations
	h.mu.Unlock()

	logging.Logger(ctx).Debugf("refreshed %d thermostats, %d automations", len(thermostats), len(automations))
	return nil
}

// Thermostats returns the latest snapshot, ordered by id.
func (h *Home) Thermostats() []*devices.Thermostat {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*devices.Thermostat, 0, len(h.thermostats))
	for _, t := range h.thermostats {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Thermostat returns one thermostat by id.
func (h *Home) Thermostat(id int64) (*devices.Thermostat, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.thermostats[id]
	if !ok {
		return nil, apierr.New(apierr.KindDeviceNotFound, "no thermostat with id %d", id)
	}
	return t, nil
}

// Automations returns the latest snapshot, ordered by id.
func (h *Home) Automations() []*devices.Automation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]*devices.Automation, 0, len(h.automations))
	for _, a := range h.automations {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Automation returns one automation by id.
func (h *Home) Automation(id int64) (*devices.Automation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.automations[id]
	if !ok {
		return nil, apierr.New(apierr.KindDeviceNotFound, "no automation with id %d", id)
	}
	return a, nil
}

// findZone locates a zone by id across the current snapshot.
func (h *Home) findZone(id string) (*devices.Zone, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, t := range h.thermostats {
		if z := t.Zone(id); z != nil {
			return z, nil
		}
	}
	return nil, apierr.New(apierr.KindDeviceNotFound, "no zone with id %s", id)
}

func (h *Home) houseURL() string {
	return fmt.Sprintf("%s/houses/%d", h.cfg.BaseURL, h.house.ID)
}

// withSessionRetry is the sole recovery point in the client: when a call
// fails with a session-expiry classification it clears the session,
// re-authenticates once and retries once. A second failure propagates.
func (h *Home) withSessionRetry(ctx context.Context, fn func() (*transport.Response, error)) (*transport.Response, error) {
	resp, err := fn()
	if err == nil || !apierr.IsSessionExpired(err) {
		return resp, err
	}

	logging.Logger(ctx).Info("session expired, re-authenticating")
	h.sess.HandleSessionExpired()
	if err := h.sess.Authenticate(ctx); err != nil {
		return nil, err
	}

	return fn()
}

type treeChild struct {
	Data json.RawMessage `json:"data"`
}

type treeResult struct {
	Result struct {
		Links struct {
			Child []treeChild `json:"child"`
		} `json:"_links"`
	} `json:"result"`
}

// parseDeviceTree walks the nested link/collection structure of the house
// endpoint. Children are either direct device links or embedded item
// collections; items carrying the thermostat feature marker become
// thermostats, items typed "automation" become automations.
func parseDeviceTree(data []byte) (map[int64]*devices.Thermostat, map[int64]*devices.Automation, error) {
	var tree treeResult
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, nil, apierr.Wrap(apierr.KindParse, err, "decoding device tree")
	}

	thermostats := make(map[int64]*devices.Thermostat)
	automations := make(map[int64]*devices.Automation)

	for _, child := range tree.Result.Links.Child {
		var group struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(child.Data, &group)

		items := group.Items
		if len(items) == 0 {
			items = []json.RawMessage{child.Data}
		}

		for _, item := range items {
			if devices.IsThermostat(item) {
				t, err := devices.Normalize(item)
				if err != nil {
					return nil, nil, err
				}
				thermostats[t.ID] = t
				continue
			}

			var probe struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(item, &probe)
			if probe.Type == "automation" {
				a, err := devices.NormalizeAutomation(item)
				if err != nil {
					return nil, nil, err
				}
				automations[a.ID] = a
			}
		}
	}

	return thermostats, automations, nil
}
