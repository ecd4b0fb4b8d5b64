package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mailcycle/mailcycle/engine"
)

// wdElementKey is the W3C WebDriver element identifier property.
const wdElementKey = "element-6066-11e4-a52e-4f735466cecf"

const defaultRequestTimeout = 60 * time.Second

// Config configures a WebDriver.
type Config struct {
	// Endpoint is the remote WebDriver endpoint, e.g. http://localhost:4444.
	Endpoint string

	// PortalURL is the portal page the session navigates to.
	PortalURL string

	// Headless requests a headless browser session.
	Headless bool

	Selectors Selectors
	Timeout   time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// WebDriver drives the portal over the W3C WebDriver protocol. It owns
// one browser session, created lazily on first use and reused across
// cycles. All methods are safe for sequential use from the engine loop.
type WebDriver struct {
	client    *resty.Client
	portalURL string
	headless  bool
	selectors Selectors
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	sessionID string

	// lastSpan is the most recently applied filter span, used to
	// complete one-sided window displays.
	lastSpan time.Duration
}

// New creates a WebDriver client for a remote session endpoint.
func New(cfg Config) (*WebDriver, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("driver endpoint is required")
	}
	if cfg.PortalURL == "" {
		return nil, errors.New("driver portal url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &WebDriver{
		client:    client,
		portalURL: cfg.PortalURL,
		headless:  cfg.Headless,
		selectors: cfg.Selectors.merged(),
		now:       cfg.Now,
		logger:    cfg.Logger,
		lastSpan:  engine.DefaultInterval,
	}, nil
}

// Ready reports whether the remote endpoint accepts new sessions.
func (d *WebDriver) Ready(ctx context.Context) error {
	var out struct {
		Value struct {
			Ready bool `json:"ready"`
		} `json:"value"`
	}
	resp, err := d.client.R().SetContext(ctx).SetResult(&out).Get("/status")
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrDriverUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s", engine.ErrDriverUnavailable, resp.Status())
	}
	if !out.Value.Ready {
		return fmt.Errorf("%w: endpoint reports ready=false", engine.ErrDriverUnavailable)
	}
	return nil
}

// Close ends the browser session, if one exists.
func (d *WebDriver) Close(ctx context.Context) error {
	d.mu.Lock()
	sessionID := d.sessionID
	d.sessionID = ""
	d.mu.Unlock()

	if sessionID == "" {
		return nil
	}
	resp, err := d.client.R().SetContext(ctx).Delete("/session/" + sessionID)
	if err != nil {
		return fmt.Errorf("webdriver delete session: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webdriver delete session: %s", resp.Status())
	}
	return nil
}

// ConfirmConnection refreshes the portal page and checks for the
// disconnect affordance that only renders while the account is linked.
func (d *WebDriver) ConfirmConnection(ctx context.Context) error {
	sessionID, err := d.ensureSession(ctx)
	if err != nil {
		return err
	}

	// The portal only updates its connection banner after a reload.
	if err := d.refresh(ctx, sessionID); err != nil {
		return err
	}

	_, found, err := d.findFirst(ctx, sessionID, d.selectors.Disconnect)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("disconnect control not found on portal page")
	}
	return nil
}

// ApplyRecentFilter clicks the "last N minutes" filter option.
func (d *WebDriver) ApplyRecentFilter(ctx context.Context, span time.Duration) error {
	sessionID, err := d.ensureSession(ctx)
	if err != nil {
		return err
	}

	minutes := int(span.Minutes())
	selectors := make([]string, 0, len(d.selectors.RecentFilter))
	for _, sel := range d.selectors.RecentFilter {
		selectors = append(selectors, expandFilter(sel, minutes))
	}

	elem, found, err := d.findFirst(ctx, sessionID, selectors)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("filter option for last %d min not found", minutes)
	}
	if err := d.click(ctx, sessionID, elem); err != nil {
		return err
	}

	d.mu.Lock()
	d.lastSpan = span
	d.mu.Unlock()
	return nil
}

// AppliedWindow reads the range display the portal renders for the
// active filter. The boolean is false when no display is present.
func (d *WebDriver) AppliedWindow(ctx context.Context) (engine.Window, bool, error) {
	sessionID, err := d.ensureSession(ctx)
	if err != nil {
		return engine.Window{}, false, err
	}

	d.mu.Lock()
	span := d.lastSpan
	d.mu.Unlock()

	for _, selector := range d.selectors.WindowDisplay {
		elems, err := d.findAll(ctx, sessionID, selector)
		if err != nil {
			return engine.Window{}, false, err
		}
		for _, elem := range elems {
			text, err := d.text(ctx, sessionID, elem)
			if err != nil {
				return engine.Window{}, false, err
			}
			window, ok := parseWindowText(text, d.now(), span)
			if ok {
				d.logger.Debug("parsed portal window display", "text", text, "window", window.Clock())
				return window, true, nil
			}
		}
	}
	return engine.Window{}, false, nil
}

// TriggerProcessing clicks the processing action for the window.
func (d *WebDriver) TriggerProcessing(ctx context.Context, w engine.Window) error {
	sessionID, err := d.ensureSession(ctx)
	if err != nil {
		return err
	}

	elem, found, err := d.findFirst(ctx, sessionID, d.selectors.Trigger)
	if err != nil {
		return err
	}
	if !found {
		return errors.New("processing control not found on portal page")
	}
	if err := d.click(ctx, sessionID, elem); err != nil {
		return err
	}
	d.logger.Info("processing triggered", "window", w.Clock())
	return nil
}

// ensureSession returns the active session, creating one and navigating
// to the portal when needed.
func (d *WebDriver) ensureSession(ctx context.Context) (string, error) {
	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()
	if sessionID != "" {
		return sessionID, nil
	}

	args := []string{"--no-sandbox", "--disable-dev-shm-usage", "--window-size=1920,1080"}
	if d.headless {
		args = append(args, "--headless=new")
	}
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName": "chrome",
				"goog:chromeOptions": map[string]any{
					"args": args,
				},
			},
		},
	}

	var out struct {
		Value struct {
			SessionID string `json:"sessionId"`
		} `json:"value"`
	}
	resp, err := d.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/session")
	if err != nil {
		return "", fmt.Errorf("webdriver create session: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("webdriver create session: %s", resp.Status())
	}
	if out.Value.SessionID == "" {
		return "", errors.New("webdriver create session: empty session id")
	}
	sessionID = out.Value.SessionID

	if err := d.navigate(ctx, sessionID, d.portalURL); err != nil {
		return "", err
	}

	d.mu.Lock()
	d.sessionID = sessionID
	d.mu.Unlock()
	d.logger.Info("browser session started", "session_id", sessionID, "portal", d.portalURL)
	return sessionID, nil
}

func (d *WebDriver) navigate(ctx context.Context, sessionID, url string) error {
	resp, err := d.client.R().SetContext(ctx).
		SetBody(map[string]string{"url": url}).
		Post("/session/" + sessionID + "/url")
	if err != nil {
		return fmt.Errorf("webdriver navigate: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webdriver navigate: %s", resp.Status())
	}
	return nil
}

func (d *WebDriver) refresh(ctx context.Context, sessionID string) error {
	resp, err := d.client.R().SetContext(ctx).
		SetBody(map[string]string{}).
		Post("/session/" + sessionID + "/refresh")
	if err != nil {
		return fmt.Errorf("webdriver refresh: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webdriver refresh: %s", resp.Status())
	}
	return nil
}

// findFirst tries each selector in order and returns the first matching
// element.
func (d *WebDriver) findFirst(ctx context.Context, sessionID string, selectors []string) (string, bool, error) {
	for _, selector := range selectors {
		elems, err := d.findAll(ctx, sessionID, selector)
		if err != nil {
			return "", false, err
		}
		if len(elems) > 0 {
			return elems[0], true, nil
		}
	}
	return "", false, nil
}

func (d *WebDriver) findAll(ctx context.Context, sessionID, selector string) ([]string, error) {
	var out struct {
		Value []map[string]string `json:"value"`
	}
	resp, err := d.client.R().SetContext(ctx).
		SetBody(map[string]string{"using": "xpath", "value": selector}).
		SetResult(&out).
		Post("/session/" + sessionID + "/elements")
	if err != nil {
		return nil, fmt.Errorf("webdriver find elements: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("webdriver find elements: %s", resp.Status())
	}

	ids := make([]string, 0, len(out.Value))
	for _, ref := range out.Value {
		if id := ref[wdElementKey]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *WebDriver) click(ctx context.Context, sessionID, elementID string) error {
	resp, err := d.client.R().SetContext(ctx).
		SetBody(map[string]string{}).
		Post("/session/" + sessionID + "/element/" + elementID + "/click")
	if err != nil {
		return fmt.Errorf("webdriver click: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webdriver click: %s", resp.Status())
	}
	return nil
}

func (d *WebDriver) text(ctx context.Context, sessionID, elementID string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	resp, err := d.client.R().SetContext(ctx).
		SetResult(&out).
		Get("/session/" + sessionID + "/element/" + elementID + "/text")
	if err != nil {
		return "", fmt.Errorf("webdriver element text: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("webdriver element text: %s", resp.Status())
	}
	return out.Value, nil
}
