package myq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"garage-bridge/internal/domain/model"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	apiVersion = "5.1"
	userAgent  = "garage-bridge"

	keyToken   = "security_token"
	keyAccount = "account_id"
)

var errUnauthorized = errors.New("MyQ API: unauthorized")

// Client talks to the MyQ cloud on behalf of a single door.
type Client struct {
	deviceID string
	username string
	password string

	authURL   string
	deviceURL string
	appID     string

	httpClient   *http.Client
	loginTimeout time.Duration
	limiter      *rate.Limiter
	session    *cache.Cache
	login      singleflight.Group
}

func NewClient(deviceID, username, password string, cfg model.MyQConfig) *Client {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		deviceID:     deviceID,
		username:     username,
		password:     password,
		authURL:      strings.TrimSuffix(cfg.AuthURL, "/"),
		deviceURL:    strings.TrimSuffix(cfg.DeviceURL, "/"),
		appID:        cfg.AppID,
		httpClient:   &http.Client{Timeout: timeout},
		loginTimeout: 2 * timeout,
		limiter:      rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		session:      cache.New(ttl, 2*ttl),
	}
}

type loginRequest struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

type loginResponse struct {
	SecurityToken string `json:"SecurityToken"`
}

type accountResponse struct {
	Account struct {
		ID string `json:"Id"`
	} `json:"Account"`
}

type deviceResponse struct {
	SerialNumber string                 `json:"serial_number"`
	Name         string                 `json:"name"`
	State        map[string]interface{} `json:"state"`
}

type actionRequest struct {
	ActionType string `json:"action_type"`
}

// GetDeviceAttribute returns one entry of the device "state" object as a string.
func (c *Client) GetDeviceAttribute(ctx context.Context, name string) (string, error) {
	var dev deviceResponse
	if err := c.doDevice(ctx, http.MethodGet, "", nil, &dev); err != nil {
		return "", errors.Wrapf(err, "get attribute %s", name)
	}

	raw, ok := dev.State[name]
	if !ok || raw == nil {
		return "", errors.Errorf("attribute %s not reported for device %s", name, c.deviceID)
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return fmt.Sprint(raw), nil
}

// ActOnDevice sends an action such as "open" or "close" to the device.
func (c *Client) ActOnDevice(ctx context.Context, actionType string) error {
	err := c.doDevice(ctx, http.MethodPut, "/actions", actionRequest{ActionType: actionType}, nil)
	return errors.Wrapf(err, "action %s", actionType)
}

// doDevice performs an authenticated device call. A 401 drops the cached
// session and retries once with a fresh login.
func (c *Client) doDevice(ctx context.Context, method, suffix string, body, out interface{}) error {
	for attempt := 0; ; attempt++ {
		token, account, err := c.sessionFor(ctx)
		if err != nil {
			return err
		}

		u := fmt.Sprintf("%s/api/v%s/Accounts/%s/Devices/%s%s", c.deviceURL, apiVersion,
			url.PathEscape(account), url.PathEscape(c.deviceID), suffix)
		err = c.do(ctx, method, u, token, body, out)
		if errors.Cause(err) == errUnauthorized && attempt == 0 {
			c.session.Delete(keyToken)
			c.session.Delete(keyAccount)
			continue
		}
		return err
	}
}

func (c *Client) sessionFor(ctx context.Context) (string, string, error) {
	token, tokOK := c.session.Get(keyToken)
	account, accOK := c.session.Get(keyAccount)
	if tokOK && accOK {
		return token.(string), account.(string), nil
	}

	// Concurrent callers share one login round-trip. It runs detached from
	// the caller that started it, so one cancelled request does not fail the
	// others waiting on it.
	ch := c.login.DoChan("login", func() (interface{}, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loginTimeout)
		defer cancel()

		token, err := c.authenticate(loginCtx)
		if err != nil {
			return nil, err
		}
		account, err := c.account(loginCtx, token)
		if err != nil {
			return nil, err
		}
		c.session.Set(keyToken, token, cache.DefaultExpiration)
		c.session.Set(keyAccount, account, cache.DefaultExpiration)
		return [2]string{token, account}, nil
	})

	select {
	case <-ctx.Done():
		return "", "", errors.Wrap(ctx.Err(), "login")
	case res := <-ch:
		if res.Err != nil {
			return "", "", res.Err
		}
		s := res.Val.([2]string)
		return s[0], s[1], nil
	}
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, c.authURL+"/api/v5/Login", "", loginRequest{
		Username: c.username,
		Password: c.password,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "login failed")
	}
	if resp.SecurityToken == "" {
		return "", errors.New("login failed: empty security token")
	}
	return resp.SecurityToken, nil
}

func (c *Client) account(ctx context.Context, token string) (string, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, c.authURL+"/api/v5/My?expand=account", token, nil, &resp); err != nil {
		return "", errors.Wrap(err, "account lookup failed")
	}
	if resp.Account.ID == "" {
		return "", errors.New("account lookup failed: empty account id")
	}
	return resp.Account.ID, nil
}

func (c *Client) do(ctx context.Context, method, u, token string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "json marshal failed")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("MyQApplicationId", c.appID)
	req.Header.Set("ApiVersion", apiVersion)
	req.Header.Set("BrandId", "2")
	req.Header.Set("Culture", "en")
	if token != "" {
		req.Header.Set("SecurityToken", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode >= 400 {
		return errors.Errorf("MyQ API error: %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "json un-marshal failed")
}
