package portal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"netaccess/internal/portal/portaltest"
	pkgerrors "netaccess/pkg/errors"
)

var (
	selfIP  = netip.MustParseAddr("10.21.0.7")
	otherIP = netip.MustParseAddr("10.21.0.99")
	alice   = NewUser("alice", "s3cret")
)

func newTestClient(t *testing.T, p *portaltest.Portal) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		BaseURL:  p.URL,
		Timeout:  2 * time.Second,
		Resolver: StaticAddress(selfIP),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func newTestPortal(t *testing.T) *portaltest.Portal {
	t.Helper()
	p := portaltest.New("alice", "s3cret")
	p.ApproveTarget = selfIP.String()
	t.Cleanup(p.Close)
	return p
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	for _, u := range []string{"::not a url", "netaccess.example"} {
		if _, err := NewClient(ClientConfig{BaseURL: u}); err == nil {
			t.Errorf("NewClient(%q) expected error", u)
		}
	}
}

func TestLoginSuccessAndSessionReuse(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	if err := c.Login(ctx, alice, false); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := p.Requests("POST /account/login"); n != 1 {
		t.Fatalf("expected 1 login POST, got %d", n)
	}
	form := p.LastForm()
	if form["userLogin"][0] != "alice" || form["userPassword"][0] != "s3cret" {
		t.Errorf("unexpected login form %v", form)
	}

	// Session cookie is reused; no further credential submission.
	if err := c.Login(ctx, alice, false); err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if n := p.Requests("POST /account/login"); n != 1 {
		t.Errorf("expected session reuse, got %d login POSTs", n)
	}

	// Forced login always submits.
	if err := c.Login(ctx, alice, true); err != nil {
		t.Fatalf("forced Login: %v", err)
	}
	if n := p.Requests("POST /account/login"); n != 2 {
		t.Errorf("expected forced login POST, got %d", n)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)

	err := c.Login(context.Background(), NewUser("alice", "wrong"), false)
	if !errors.Is(err, pkgerrors.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnexpectedPath(t *testing.T) {
	p := newTestPortal(t)
	p.LoginRedirect = "/elsewhere"
	c := newTestClient(t, p)

	err := c.Login(context.Background(), alice, false)
	var upe *pkgerrors.UnexpectedPathError
	if !errors.As(err, &upe) {
		t.Fatalf("expected UnexpectedPathError, got %v", err)
	}
	if upe.Path != "/elsewhere" || upe.Op != "login" {
		t.Errorf("unexpected error contents %+v", upe)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: url, Resolver: StaticAddress(selfIP)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = c.Login(context.Background(), alice, false)
	var te *pkgerrors.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewClient(ClientConfig{BaseURL: srv.URL, Resolver: StaticAddress(selfIP)})
	err := c.Login(context.Background(), alice, false)
	var se *pkgerrors.UnexpectedStatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 UnexpectedStatusError, got %v", err)
	}
}

func TestStatusPartitionsSystemConnection(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	p.Set(otherIP.String(), time.Now().Add(3*time.Hour), "Active")
	c := newTestClient(t, p)

	status, err := c.Status(context.Background(), alice)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.System.IP != selfIP {
		t.Errorf("system ip = %v, want %v", status.System.IP, selfIP)
	}
	if !status.System.Connection.IsActive() {
		t.Error("expected system connection active")
	}
	if _, ok := status.Connections[selfIP]; ok {
		t.Error("system ip must be removed from connections")
	}
	if len(status.Connections) != 1 || !status.Connections[otherIP].IsActive() {
		t.Errorf("unexpected connections %v", status.Connections)
	}
}

func TestStatusDefaultsMissingSystemToInactive(t *testing.T) {
	p := newTestPortal(t)
	p.Set(otherIP.String(), time.Now().Add(3*time.Hour), "Active")
	c := newTestClient(t, p)

	status, err := c.Status(context.Background(), alice)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.System.Connection != (Connection{}) {
		t.Errorf("expected zero inactive connection, got %+v", status.System.Connection)
	}
	if status.System.Connection.IsActive() {
		t.Error("missing system connection must be inactive")
	}
}

func TestStatusParseFailure(t *testing.T) {
	p := newTestPortal(t)
	p.IndexBody = "<html><body>no table here</body></html>"
	c := newTestClient(t, p)

	status, err := c.Status(context.Background(), alice)
	if !errors.Is(err, pkgerrors.ErrMissingTableBody) {
		t.Fatalf("expected ErrMissingTableBody, got %v", err)
	}
	if status != nil {
		t.Error("expected no status on parse failure")
	}
}

func TestStatusLocalAddressFailure(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)
	c.resolver = AddressResolverFunc(func() (netip.Addr, error) {
		return netip.Addr{}, pkgerrors.ErrLocalAddress
	})

	if _, err := c.Status(context.Background(), alice); !errors.Is(err, pkgerrors.ErrLocalAddress) {
		t.Fatalf("expected ErrLocalAddress, got %v", err)
	}
}

func TestApproveSkipsWhenActive(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	c := newTestClient(t, p)

	ip, err := c.Approve(context.Background(), alice, TierDay, false)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ip != selfIP {
		t.Errorf("ip = %v, want %v", ip, selfIP)
	}
	if n := p.Requests("POST /account/approve"); n != 0 {
		t.Errorf("expected no approve POST, got %d", n)
	}
}

func TestApproveResultReportsSubmission(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	c := newTestClient(t, p)

	res, err := c.ApproveResult(context.Background(), alice, TierDay, false)
	if err != nil {
		t.Fatalf("ApproveResult: %v", err)
	}
	if res.IP != selfIP || res.Submitted {
		t.Errorf("result = %+v, want %v not submitted", res, selfIP)
	}

	res, err = c.ApproveResult(context.Background(), alice, TierDay, true)
	if err != nil {
		t.Fatalf("ApproveResult: %v", err)
	}
	if !res.Submitted {
		t.Error("forced approve not reported as submitted")
	}
}

func TestApproveForceAlwaysPosts(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	c := newTestClient(t, p)

	if _, err := c.Approve(context.Background(), alice, TierMonth, true); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if n := p.Requests("POST /account/approve"); n != 1 {
		t.Fatalf("expected 1 approve POST, got %d", n)
	}
	form := p.LastForm()
	if form["duration"][0] != "3" {
		t.Errorf("duration = %v, want 3", form["duration"])
	}
	if v, ok := form["approveBtn"]; !ok || v[0] != "" {
		t.Errorf("approveBtn = %v, want empty field", v)
	}
}

func TestApproveInactiveConnection(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(-time.Hour), "Active")
	c := newTestClient(t, p)

	ip, err := c.Approve(context.Background(), alice, TierHour, false)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ip != selfIP {
		t.Errorf("ip = %v, want %v", ip, selfIP)
	}
	if n := p.Requests("POST /account/approve"); n != 1 {
		t.Errorf("expected approve POST, got %d", n)
	}
	if e, _ := p.Get(selfIP.String()); e.Label != "Active" || !e.ValidTill.After(time.Now()) {
		t.Errorf("portal not updated: %+v", e)
	}
}

func TestApproveUnexpectedPath(t *testing.T) {
	p := newTestPortal(t)
	p.ApproveRedirect = "/elsewhere"
	c := newTestClient(t, p)

	_, err := c.Approve(context.Background(), alice, TierDay, false)
	var upe *pkgerrors.UnexpectedPathError
	if !errors.As(err, &upe) || upe.Op != "approve" {
		t.Fatalf("expected approve UnexpectedPathError, got %v", err)
	}
}

func TestRevokeSelfTargetsOwnAddress(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	c := newTestClient(t, p)

	ip, err := c.Revoke(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ip != selfIP {
		t.Errorf("ip = %v, want %v", ip, selfIP)
	}
	if n := p.Requests("POST /account/revoke"); n != 1 {
		t.Errorf("expected revoke POST, got %d", n)
	}
	if e, _ := p.Get(selfIP.String()); e.Label == "Active" {
		t.Error("portal entry still active")
	}
}

func TestRevokeExplicitInactiveIsNoop(t *testing.T) {
	p := newTestPortal(t)
	p.Set(otherIP.String(), time.Now().Add(-time.Hour), "Active")
	c := newTestClient(t, p)

	ip, err := c.Revoke(context.Background(), alice, otherIP.String())
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ip != otherIP {
		t.Errorf("ip = %v, want %v", ip, otherIP)
	}
	if n := p.Requests("POST /account/revoke"); n != 0 {
		t.Errorf("expected no revoke POST, got %d", n)
	}
}

func TestRevokeResultReportsSubmission(t *testing.T) {
	p := newTestPortal(t)
	p.Set(otherIP.String(), time.Now().Add(-time.Hour), "Active")
	c := newTestClient(t, p)

	res, err := c.RevokeResult(context.Background(), alice, otherIP.String())
	if err != nil {
		t.Fatalf("RevokeResult: %v", err)
	}
	if res.IP != otherIP || res.Submitted {
		t.Errorf("result = %+v, want %v not submitted", res, otherIP)
	}

	p.Set(otherIP.String(), time.Now().Add(time.Hour), "Active")
	res, err = c.RevokeResult(context.Background(), alice, otherIP.String())
	if err != nil {
		t.Fatalf("RevokeResult: %v", err)
	}
	if !res.Submitted {
		t.Error("revoke of an active address not reported as submitted")
	}
}

func TestRevokeUnknownAddressIsNoop(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)

	ip, err := c.Revoke(context.Background(), alice, "192.168.1.1")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if ip != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("unexpected ip %v", ip)
	}
	if n := p.Requests("POST /account/revoke"); n != 0 {
		t.Errorf("expected no revoke POST, got %d", n)
	}
}

func TestRevokeExplicitActive(t *testing.T) {
	p := newTestPortal(t)
	p.Set(otherIP.String(), time.Now().Add(time.Hour), "Active")
	c := newTestClient(t, p)

	if _, err := c.Revoke(context.Background(), alice, otherIP.String()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if n := p.Requests("POST /account/revoke"); n != 1 {
		t.Errorf("expected revoke POST, got %d", n)
	}
}

func TestRevokeMalformedAddress(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)

	_, err := c.Revoke(context.Background(), alice, "not-an-ip")
	var ae *pkgerrors.AddressError
	if !errors.As(err, &ae) || ae.Input != "not-an-ip" {
		t.Fatalf("expected AddressError, got %v", err)
	}
}

func TestRevokeUnexpectedPath(t *testing.T) {
	p := newTestPortal(t)
	p.Set(selfIP.String(), time.Now().Add(2*time.Hour), "Active")
	p.RevokeRedirect = "/elsewhere"
	c := newTestClient(t, p)

	_, err := c.Revoke(context.Background(), alice, "")
	var upe *pkgerrors.UnexpectedPathError
	if !errors.As(err, &upe) || upe.Op != "revoke" {
		t.Fatalf("expected revoke UnexpectedPathError, got %v", err)
	}
}

func TestClientUnderPathPrefix(t *testing.T) {
	p := portaltest.NewMounted("alice", "s3cret", "/portal")
	p.ApproveTarget = selfIP.String()
	t.Cleanup(p.Close)
	c, err := NewClient(ClientConfig{
		BaseURL:  p.URL + "/portal/",
		Timeout:  2 * time.Second,
		Resolver: StaticAddress(selfIP),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ip, err := c.Approve(context.Background(), alice, TierDay, false)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if ip != selfIP {
		t.Errorf("ip = %v, want %v", ip, selfIP)
	}
	if n := p.Requests("POST /account/approve"); n != 1 {
		t.Errorf("expected approve POST, got %d", n)
	}

	bad := portaltest.NewMounted("alice", "wrong", "/portal")
	t.Cleanup(bad.Close)
	c, err = NewClient(ClientConfig{BaseURL: bad.URL + "/portal", Resolver: StaticAddress(selfIP)})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Status(context.Background(), alice); !errors.Is(err, pkgerrors.ErrInvalidCredentials) {
		t.Errorf("Status with bad password = %v, want ErrInvalidCredentials", err)
	}
}

func TestStatusReloginAfterSessionExpiry(t *testing.T) {
	p := newTestPortal(t)
	c := newTestClient(t, p)
	ctx := context.Background()

	if _, err := c.Status(ctx, alice); err != nil {
		t.Fatalf("Status: %v", err)
	}
	p.ExpireSessions()
	if _, err := c.Status(ctx, alice); err != nil {
		t.Fatalf("Status after expiry: %v", err)
	}
	if n := p.Requests("POST /account/login"); n != 2 {
		t.Errorf("expected re-login, got %d login POSTs", n)
	}
}
