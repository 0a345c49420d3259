package portal

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	pkgerrors "netaccess/pkg/errors"
)

// User is an opaque credential pair for the portal.
type User struct {
	name     string
	password string
}

// NewUser creates a user from a name and password.
func NewUser(name, password string) User {
	return User{name: name, password: password}
}

func (u User) Name() string     { return u.name }
func (u User) Password() string { return u.password }

// String never includes the password.
func (u User) String() string {
	return "User " + u.name
}

// Connection is a single IP's remaining validity as reported by the portal.
type Connection struct {
	TimeLeft     time.Duration `json:"time_left"`
	ServerActive bool          `json:"server_active"`
}

// NewConnection clamps a negative timeLeft to zero.
func NewConnection(timeLeft time.Duration, serverActive bool) Connection {
	if timeLeft < 0 {
		timeLeft = 0
	}
	return Connection{TimeLeft: timeLeft, ServerActive: serverActive}
}

// IsActive reports whether the portal marks the connection active and it has
// not expired yet.
func (c Connection) IsActive() bool {
	return c.ServerActive && c.TimeLeft > 0
}

// SystemStatus is the portal row for the machine running this process.
type SystemStatus struct {
	IP netip.Addr `json:"ip"`
	Connection
}

// Status is one snapshot of the portal's connection table.
type Status struct {
	System      SystemStatus
	Connections map[netip.Addr]Connection
}

// IsActive reports whether ip is registered and active, including the
// system's own address.
func (s *Status) IsActive(ip netip.Addr) bool {
	if ip == s.System.IP {
		return s.System.Connection.IsActive()
	}
	c, ok := s.Connections[ip]
	return ok && c.IsActive()
}

// DurationTier selects one of the approval lengths the portal understands.
type DurationTier int

const (
	TierHour  DurationTier = 1
	TierDay   DurationTier = 2
	TierMonth DurationTier = 3
)

// ParseDurationTier parses "hour", "day" or "month".
func ParseDurationTier(s string) (DurationTier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hour":
		return TierHour, nil
	case "day":
		return TierDay, nil
	case "month":
		return TierMonth, nil
	}
	return 0, fmt.Errorf("%w: %q (available: hour, day, month)", pkgerrors.ErrUnknownTier, s)
}

func (t DurationTier) String() string {
	switch t {
	case TierHour:
		return "hour"
	case TierDay:
		return "day"
	case TierMonth:
		return "month"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Index is the numeric form field value sent to the portal.
func (t DurationTier) Index() int { return int(t) }

// Set implements pflag.Value.
func (t *DurationTier) Set(s string) error {
	v, err := ParseDurationTier(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Type implements pflag.Value.
func (t *DurationTier) Type() string { return "duration-tier" }

// FormatDuration renders d as "2 days, 3 hours, 5 minutes", omitting zero
// units.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total / 60) % 24
	minutes := total % 60

	var fragments []string
	add := func(n int64, unit string) {
		if n <= 0 {
			return
		}
		if n == 1 {
			unit = strings.TrimSuffix(unit, "s")
		}
		fragments = append(fragments, fmt.Sprintf("%d %s", n, unit))
	}
	add(days, "days")
	add(hours, "hours")
	add(minutes, "minutes")
	if len(fragments) == 0 {
		return "0 minutes"
	}
	return strings.Join(fragments, ", ")
}
