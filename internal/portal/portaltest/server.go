// Package portaltest provides an in-process fake of the access portal for
// tests. It reproduces the portal's habit of answering everything with 200 and
// signalling outcomes only through redirects.
package portaltest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"
)

const sessionCookie = "PHPSESSID"

// Zone is the portal's calendar.
var Zone = time.FixedZone("IST", 5*3600+30*60)

// Entry is one row of the fake's connection table.
type Entry struct {
	ValidTill time.Time
	Label     string
}

// Portal is a fake access portal backed by httptest.Server.
type Portal struct {
	*httptest.Server

	mu       sync.Mutex
	username string
	password string
	sessions map[string]bool
	nextID   int
	entries  map[string]Entry

	// ApproveTarget is the address registered by an approve submission.
	ApproveTarget string
	// ApproveFor is how long an approval lasts.
	ApproveFor time.Duration
	// ApproveRedirect overrides where approve submissions land.
	ApproveRedirect string
	// RevokeRedirect overrides where revoke submissions land.
	RevokeRedirect string
	// LoginRedirect overrides where successful logins land.
	LoginRedirect string
	// IndexBody replaces the rendered index page when non-empty.
	IndexBody string

	prefix   string
	requests map[string]int
	forms    []map[string][]string
}

// New starts a fake portal accepting username/password.
func New(username, password string) *Portal {
	return NewMounted(username, password, "")
}

// NewMounted starts a fake portal served below prefix, e.g. "/portal".
func NewMounted(username, password, prefix string) *Portal {
	p := &Portal{
		prefix:     strings.TrimRight(prefix, "/"),
		username:   username,
		password:   password,
		sessions:   make(map[string]bool),
		entries:    make(map[string]Entry),
		requests:   make(map[string]int),
		ApproveFor: 24 * time.Hour,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/account/login", p.handleLogin)
	mux.HandleFunc("/account/index", p.handleIndex)
	mux.HandleFunc("/account/approve", p.handleApprove)
	mux.HandleFunc("/account/revoke/", p.handleRevoke)
	mux.HandleFunc("/elsewhere", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>maintenance</body></html>")
	})
	var h http.Handler = mux
	if p.prefix != "" {
		h = http.StripPrefix(p.prefix, mux)
	}
	p.Server = httptest.NewServer(h)
	return p
}

// Set registers or replaces a row.
func (p *Portal) Set(ip string, validTill time.Time, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[ip] = Entry{ValidTill: validTill, Label: label}
}

// Get returns the row for ip.
func (p *Portal) Get(ip string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[ip]
	return e, ok
}

// Requests returns how many requests hit "METHOD /path-prefix".
func (p *Portal) Requests(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[key]
}

// LastForm returns the most recent submitted form.
func (p *Portal) LastForm() map[string][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		return nil
	}
	return p.forms[len(p.forms)-1]
}

// ExpireSessions logs every client out.
func (p *Portal) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]bool)
}

func (p *Portal) count(r *http.Request, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests[r.Method+" "+key]++
	if r.Method == http.MethodPost {
		r.ParseForm()
		form := make(map[string][]string, len(r.PostForm))
		for k, v := range r.PostForm {
			form[k] = v
		}
		p.forms = append(p.forms, form)
	}
}

func (p *Portal) authenticated(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[c.Value]
}

func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.count(r, "/account/login")
	if r.Method != http.MethodPost {
		fmt.Fprint(w, `<html><body><form method="post"><input name="userLogin"><input name="userPassword"></form></body></html>`)
		return
	}
	if r.PostFormValue("userLogin") != p.username || r.PostFormValue("userPassword") != p.password {
		p.redirect(w, r, "/account/login")
		return
	}

	p.mu.Lock()
	p.nextID++
	id := fmt.Sprintf("session-%d", p.nextID)
	p.sessions[id] = true
	target := p.LoginRedirect
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/"})
	if target == "" {
		target = "/account/index"
	}
	p.redirect(w, r, target)
}

func (p *Portal) handleIndex(w http.ResponseWriter, r *http.Request) {
	p.count(r, "/account/index")
	if !p.authenticated(r) {
		p.redirect(w, r, "/account/login")
		return
	}
	p.mu.Lock()
	body := p.IndexBody
	if body == "" {
		body = p.render()
	}
	p.mu.Unlock()
	fmt.Fprint(w, body)
}

func (p *Portal) handleApprove(w http.ResponseWriter, r *http.Request) {
	p.count(r, "/account/approve")
	if !p.authenticated(r) {
		p.redirect(w, r, "/account/login")
		return
	}
	p.mu.Lock()
	if p.ApproveTarget != "" {
		p.entries[p.ApproveTarget] = Entry{ValidTill: time.Now().Add(p.ApproveFor), Label: "Active"}
	}
	target := p.ApproveRedirect
	p.mu.Unlock()
	if target == "" {
		target = "/account/index"
	}
	p.redirect(w, r, target)
}

func (p *Portal) handleRevoke(w http.ResponseWriter, r *http.Request) {
	p.count(r, "/account/revoke")
	if !p.authenticated(r) {
		p.redirect(w, r, "/account/login")
		return
	}
	ip := strings.TrimPrefix(r.URL.Path, "/account/revoke/")
	p.mu.Lock()
	if e, ok := p.entries[ip]; ok {
		e.Label = "Expired"
		p.entries[ip] = e
	}
	target := p.RevokeRedirect
	p.mu.Unlock()
	if target == "" {
		target = "/account/index"
	}
	p.redirect(w, r, target)
}

func (p *Portal) redirect(w http.ResponseWriter, r *http.Request, target string) {
	http.Redirect(w, r, p.prefix+target, http.StatusFound)
}

// render must be called with p.mu held.
func (p *Portal) render() string {
	ips := make([]string, 0, len(p.entries))
	for ip := range p.entries {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var b strings.Builder
	b.WriteString(`<html><body><table class="table"><tbody>`)
	b.WriteString(`<tr><th>MAC</th><th align="center">IP</th><th>Valid till</th><th>Download today</th><th colspan="2">Status</th></tr>`)
	for _, ip := range ips {
		e := p.entries[ip]
		fmt.Fprintf(&b, `<tr><td>00:11:22:33:44:55</td><td>%s</td><td>%s</td><td>     0 B</td>`+
			`<td><span class='label label-success'>%s</span></td>`+
			`<td><a href="/account/revoke/%s"><span class='label label-danger'>Delete</span></a></td></tr>`,
			ip, e.ValidTill.In(Zone).Format("02 Jan 2006, 15:04"), e.Label, ip)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}
