package portal

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"

	pkgerrors "netaccess/pkg/errors"
)

// Portal paths, relative to the base URL.
const (
	LoginPath   = "/account/login"
	IndexPath   = "/account/index"
	ApprovePath = "/account/approve"
	RevokePath  = "/account/revoke"
)

// Form field names.
const (
	userNameField   = "userLogin"
	passwordField   = "userPassword"
	durationField   = "duration"
	approveBtnField = "approveBtn"
)

// DefaultBaseURL is the portal host.
const DefaultBaseURL = "https://netaccess.iitm.ac.in"

// ClientConfig represents session client configuration
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	Resolver   AddressResolver
	Classifier OutcomeClassifier
	Logger     logrus.FieldLogger
	// Now is the clock used to compute remaining validity.
	Now func() time.Time
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:    DefaultBaseURL,
		Timeout:    5 * time.Second,
		UserAgent:  "netaccess/1.0",
		Resolver:   DefaultResolver,
		Classifier: DefaultClassifier,
		Now:        time.Now,
	}
}

// Client owns one cookie-backed session with the portal. It is not safe for
// concurrent use by independent callers.
type Client struct {
	http       *http.Client
	baseURL    *url.URL
	userAgent  string
	resolver   AddressResolver
	classifier OutcomeClassifier
	now        func() time.Time
	log        logrus.FieldLogger
}

// NewClient creates a session client. Zero fields of cfg fall back to
// DefaultClientConfig.
func NewClient(cfg ClientConfig) (*Client, error) {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Resolver == nil {
		cfg.Resolver = def.Resolver
	}
	if cfg.Classifier == nil {
		cfg.Classifier = def.Classifier
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Logger = l
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", cfg.BaseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		http: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    base,
		userAgent:  cfg.UserAgent,
		resolver:   cfg.Resolver,
		classifier: cfg.Classifier,
		now:        cfg.Now,
		log:        cfg.Logger,
	}, nil
}

// Login authenticates the session. Unless force is set, an already
// authenticated session is reused without submitting credentials.
func (c *Client) Login(ctx context.Context, user User, force bool) error {
	if !force {
		loggedIn, err := c.isLoggedIn(ctx)
		if err != nil {
			return err
		}
		if loggedIn {
			return nil
		}
	}

	form := url.Values{
		userNameField: {user.Name()},
		passwordField: {user.Password()},
	}
	path, err := c.submit(ctx, "login", LoginPath, form)
	if err != nil {
		return err
	}
	switch c.classifier.Classify(path) {
	case OutcomeSuccess:
		c.log.WithField("user", user.Name()).Debug("logged in")
		return nil
	case OutcomeCredentialFailure:
		return pkgerrors.ErrInvalidCredentials
	default:
		return &pkgerrors.UnexpectedPathError{Op: "login", Path: path}
	}
}

func (c *Client) isLoggedIn(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, "index", http.MethodGet, IndexPath, nil)
	if err != nil {
		return false, err
	}
	drain(resp)
	return c.classifier.Classify(c.resolvedPath(resp)) == OutcomeSuccess, nil
}

// Status logs in if needed and returns the current connection table with the
// system's own entry split out.
func (c *Client) Status(ctx context.Context, user User) (*Status, error) {
	if err := c.Login(ctx, user, false); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, "index", http.MethodGet, IndexPath, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if path := c.resolvedPath(resp); c.classifier.Classify(path) != OutcomeSuccess {
		return nil, &pkgerrors.UnexpectedPathError{Op: "index", Path: path}
	}

	connections, err := Parse(resp.Body, c.now())
	if err != nil {
		return nil, err
	}

	ip, err := c.resolver.LocalAddr()
	if err != nil {
		return nil, err
	}

	system, ok := connections[ip]
	if ok {
		delete(connections, ip)
	} else {
		system = NewConnection(0, false)
	}

	c.log.WithFields(logrus.Fields{
		"ip":     ip,
		"active": system.IsActive(),
		"others": len(connections),
	}).Debug("status fetched")

	return &Status{
		System:      SystemStatus{IP: ip, Connection: system},
		Connections: connections,
	}, nil
}

// Result is what an approve or revoke did.
type Result struct {
	IP netip.Addr
	// Submitted is false when the address already was in the requested
	// state and no form was posted.
	Submitted bool
}

// Approve registers the system's own address for the given tier. Unless
// force is set, an already active connection is returned untouched.
func (c *Client) Approve(ctx context.Context, user User, tier DurationTier, force bool) (netip.Addr, error) {
	res, err := c.ApproveResult(ctx, user, tier, force)
	return res.IP, err
}

// ApproveResult is Approve that also reports whether the portal was asked.
func (c *Client) ApproveResult(ctx context.Context, user User, tier DurationTier, force bool) (Result, error) {
	status, err := c.Status(ctx, user)
	if err != nil {
		return Result{}, err
	}

	ip := status.System.IP
	if !force && status.System.Connection.IsActive() {
		return Result{IP: ip}, nil
	}

	form := url.Values{
		durationField:   {strconv.Itoa(tier.Index())},
		approveBtnField: {""},
	}
	path, err := c.submit(ctx, "approve", ApprovePath, form)
	if err != nil {
		return Result{}, err
	}
	if c.classifier.Classify(path) != OutcomeSuccess {
		return Result{}, &pkgerrors.UnexpectedPathError{Op: "approve", Path: path}
	}

	c.log.WithFields(logrus.Fields{"ip": ip, "tier": tier}).Info("approved")
	return Result{IP: ip, Submitted: true}, nil
}

// Revoke removes the approval of target, or of the system's own address if
// target is empty. An already inactive address is returned untouched.
func (c *Client) Revoke(ctx context.Context, user User, target string) (netip.Addr, error) {
	res, err := c.RevokeResult(ctx, user, target)
	return res.IP, err
}

// RevokeResult is Revoke that also reports whether the portal was asked.
func (c *Client) RevokeResult(ctx context.Context, user User, target string) (Result, error) {
	status, err := c.Status(ctx, user)
	if err != nil {
		return Result{}, err
	}

	ip := status.System.IP
	if target != "" {
		ip, err = netip.ParseAddr(strings.TrimSpace(target))
		if err != nil {
			return Result{}, &pkgerrors.AddressError{Input: target, Err: err}
		}
	}

	if !status.IsActive(ip) {
		return Result{IP: ip}, nil
	}

	path, err := c.submit(ctx, "revoke", RevokePath+"/"+ip.String(), nil)
	if err != nil {
		return Result{}, err
	}
	if c.classifier.Classify(path) != OutcomeSuccess {
		return Result{}, &pkgerrors.UnexpectedPathError{Op: "revoke", Path: path}
	}

	c.log.WithField("ip", ip).Info("revoked")
	return Result{IP: ip, Submitted: true}, nil
}

// submit posts form to path and returns the resolved path after redirects.
func (c *Client) submit(ctx context.Context, op, path string, form url.Values) (string, error) {
	resp, err := c.do(ctx, op, http.MethodPost, path, form)
	if err != nil {
		return "", err
	}
	drain(resp)
	resolved := c.resolvedPath(resp)
	c.log.WithFields(logrus.Fields{"op": op, "path": resolved}).Debug("portal response")
	return resolved, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, form url.Values) (*http.Response, error) {
	target := c.baseURL.JoinPath(path).String()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &pkgerrors.TransportError{Op: op, URL: target, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &pkgerrors.UnexpectedStatusError{Op: op, Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// resolvedPath is the path of the final request after following redirects,
// relative to the path the base URL is mounted at.
func (c *Client) resolvedPath(resp *http.Response) string {
	if resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	path := resp.Request.URL.Path
	if rest, ok := strings.CutPrefix(path, c.baseURL.Path); ok && strings.HasPrefix(rest, "/") {
		return rest
	}
	return path
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
