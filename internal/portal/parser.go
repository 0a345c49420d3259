package portal

import (
	"fmt"
	"io"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	pkgerrors "netaccess/pkg/errors"
)

// validityLayout is the "Valid till" column format, e.g. "24 Jul 2023, 10:07".
const validityLayout = "2 Jan 2006, 15:04"

// activeLabel is the status badge text of an approved connection.
const activeLabel = "Active"

// portalZone is the portal's server-local calendar. It is fixed regardless
// of the host timezone.
var portalZone = time.FixedZone("IST", 5*3600+30*60)

type selectors struct {
	tbody goquery.Matcher
	tr    goquery.Matcher
	td    goquery.Matcher
	span  goquery.Matcher
}

var statusSelectors = sync.OnceValue(func() selectors {
	return selectors{
		tbody: cascadia.MustCompile("tbody"),
		tr:    cascadia.MustCompile("tr"),
		td:    cascadia.MustCompile("td"),
		span:  cascadia.MustCompile("span"),
	}
})

// Parse reads the connections table out of the portal's index page.
//
// The expected markup is
//
//	<tbody>
//	  <tr><th>MAC</th><th>IP</th><th>Valid till</th><th>Download today</th><th colspan="2">Status</th></tr>
//	  <tr>
//	    <td>MAC</td>
//	    <td>10.1.2.3</td>
//	    <td>24 Jul 2023, 10:07</td>
//	    <td>0 B</td>
//	    <td><span class='label label-success'>Active</span></td>
//	    <td><a href="/account/revoke/10.1.2.3"><span class='label label-danger'>Delete</span></a></td>
//	  </tr>
//	</tbody>
//
// Any malformed row fails the whole parse; no partial map is returned.
func Parse(r io.Reader, now time.Time) (map[netip.Addr]Connection, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read status page: %w", err)
	}

	sel := statusSelectors()
	tbody := doc.FindMatcher(sel.tbody).First()
	if tbody.Length() == 0 {
		return nil, pkgerrors.ErrMissingTableBody
	}

	rows := tbody.FindMatcher(sel.tr)
	connections := make(map[netip.Addr]Connection, max(rows.Length()-1, 0))
	now = now.In(portalZone)
	if rows.Length() < 2 {
		return connections, nil
	}

	var parseErr error
	// First row is the header.
	rows.Slice(1, goquery.ToEnd).EachWithBreak(func(i int, row *goquery.Selection) bool {
		ip, conn, err := parseRow(row, sel, now)
		if err != nil {
			err.Row = i + 1
			parseErr = err
			return false
		}
		connections[ip] = conn
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return connections, nil
}

func parseRow(row *goquery.Selection, sel selectors, now time.Time) (netip.Addr, Connection, *pkgerrors.ParseError) {
	cells := row.FindMatcher(sel.td)
	// First cell holds the MAC address, which is of no use.
	if cells.Length() < 2 {
		return netip.Addr{}, Connection{}, fieldErr("ip address", pkgerrors.ErrMissingCell)
	}
	ipText, err := extractText(cells.Eq(1))
	if err != nil {
		return netip.Addr{}, Connection{}, fieldErr("ip address", err)
	}
	if cells.Length() < 3 {
		return netip.Addr{}, Connection{}, fieldErr("validity", pkgerrors.ErrMissingCell)
	}
	validityText, err := extractText(cells.Eq(2))
	if err != nil {
		return netip.Addr{}, Connection{}, fieldErr("validity", err)
	}
	span := row.FindMatcher(sel.span).First()
	if span.Length() == 0 {
		return netip.Addr{}, Connection{}, fieldErr("status", pkgerrors.ErrMissingCell)
	}
	label, err := extractText(span)
	if err != nil {
		return netip.Addr{}, Connection{}, fieldErr("status", err)
	}

	ip, err := netip.ParseAddr(ipText)
	if err != nil {
		return netip.Addr{}, Connection{}, fieldErr("ip address", err)
	}
	validTill, err := time.ParseInLocation(validityLayout, validityText, portalZone)
	if err != nil {
		return netip.Addr{}, Connection{}, fieldErr("validity", err)
	}

	return ip, NewConnection(validTill.Sub(now), label == activeLabel), nil
}

// extractText returns the element's leading text node. Elements whose first
// child is not text are malformed.
func extractText(s *goquery.Selection) (string, error) {
	node := s.Get(0)
	if node == nil || node.FirstChild == nil {
		return "", pkgerrors.ErrMalformedElement
	}
	if node.FirstChild.Type != html.TextNode {
		return "", fmt.Errorf("%w: expected text node", pkgerrors.ErrMalformedElement)
	}
	return strings.TrimSpace(node.FirstChild.Data), nil
}

func fieldErr(field string, err error) *pkgerrors.ParseError {
	return &pkgerrors.ParseError{Field: field, Err: err}
}
