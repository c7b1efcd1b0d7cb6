// Package auth implements API-key lifecycle, role-based permissions, and
// the authentication context that flows from a validated key into the
// request handler (spec §3, §4.4).
package auth

import (
	"net"
	"strings"
	"time"
)

// Role is a tagged union mirroring spec §3: Admin/Operator/Monitor carry no
// payload, Device and Custom carry a permission set.
type Role struct {
	Kind           RoleKind
	AllowedDevices map[string]struct{} // Kind == RoleDevice
	CustomPerms    map[string]struct{} // Kind == RoleCustom
}

// RoleKind discriminates the Role tagged union.
type RoleKind int

const (
	RoleAdmin RoleKind = iota
	RoleOperator
	RoleMonitor
	RoleDevice
	RoleCustom
)

func (k RoleKind) String() string {
	switch k {
	case RoleAdmin:
		return "admin"
	case RoleOperator:
		return "operator"
	case RoleMonitor:
		return "monitor"
	case RoleDevice:
		return "device"
	case RoleCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// NewAdminRole, NewOperatorRole, and NewMonitorRole build the three
// payload-free roles.
func NewAdminRole() Role    { return Role{Kind: RoleAdmin} }
func NewOperatorRole() Role { return Role{Kind: RoleOperator} }
func NewMonitorRole() Role  { return Role{Kind: RoleMonitor} }

// NewDeviceRole builds a Device role scoped to the given device UUIDs.
func NewDeviceRole(allowedDevices ...string) Role {
	set := make(map[string]struct{}, len(allowedDevices))
	for _, d := range allowedDevices {
		set[d] = struct{}{}
	}
	return Role{Kind: RoleDevice, AllowedDevices: set}
}

// NewCustomRole builds a Custom role with a literal permission set.
func NewCustomRole(permissions ...string) Role {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[p] = struct{}{}
	}
	return Role{Kind: RoleCustom, CustomPerms: set}
}

// HasPermission implements the rules from spec §3:
//   - Admin: all permissions.
//   - Operator: any permission not prefixed "admin.".
//   - Monitor: permissions prefixed "read." or exactly "health.check".
//   - Device: "device.<uuid>" iff uuid is in AllowedDevices.
//   - Custom: literal set membership.
func (r Role) HasPermission(permission string) bool {
	switch r.Kind {
	case RoleAdmin:
		return true
	case RoleOperator:
		return !strings.HasPrefix(permission, "admin.")
	case RoleMonitor:
		return strings.HasPrefix(permission, "read.") || permission == "health.check"
	case RoleDevice:
		uuid, ok := strings.CutPrefix(permission, "device.")
		if !ok {
			return false
		}
		_, allowed := r.AllowedDevices[uuid]
		return allowed
	case RoleCustom:
		_, ok := r.CustomPerms[permission]
		return ok
	default:
		return false
	}
}

// AuthContext is produced by a successful key validation and consumed by
// the handler and backends (spec §3, §4.4).
type AuthContext struct {
	UserID   string
	Roles    []Role
	APIKeyID string
}

// HasPermission reports whether any role in the context grants permission.
func (a AuthContext) HasPermission(permission string) bool {
	for _, r := range a.Roles {
		if r.HasPermission(permission) {
			return true
		}
	}
	return false
}

// Identity groups the roles held by a single authenticated principal,
// independent of which key was used to authenticate.
type Identity struct {
	ID    string
	Name  string
	Roles []Role
}

// IPWhitelist is a set of literal IPs and/or CIDR blocks. An empty
// whitelist means "any" per spec §3.
type IPWhitelist struct {
	entries []ipEntry
}

type ipEntry struct {
	literal string
	network *net.IPNet
}

// NewIPWhitelist parses a list of IPs and/or CIDR blocks (e.g.
// "203.0.113.7" or "203.0.113.0/24"). Malformed entries are skipped.
func NewIPWhitelist(entries ...string) IPWhitelist {
	w := IPWhitelist{}
	for _, e := range entries {
		if _, network, err := net.ParseCIDR(e); err == nil {
			w.entries = append(w.entries, ipEntry{network: network})
			continue
		}
		w.entries = append(w.entries, ipEntry{literal: e})
	}
	return w
}

// Empty reports whether the whitelist has no entries (meaning "any").
func (w IPWhitelist) Empty() bool { return len(w.entries) == 0 }

// Strings returns the whitelist's entries in their original textual form
// (literal IPs as given, CIDR blocks via Network.String()), for
// serialization by storage adapters.
func (w IPWhitelist) Strings() []string {
	out := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		if e.network != nil {
			out = append(out, e.network.String())
			continue
		}
		out = append(out, e.literal)
	}
	return out
}

// Allows reports whether ip satisfies the whitelist.
func (w IPWhitelist) Allows(ip string) bool {
	if w.Empty() {
		return true
	}
	parsed := net.ParseIP(ip)
	for _, e := range w.entries {
		if e.network != nil {
			if parsed != nil && e.network.Contains(parsed) {
				return true
			}
			continue
		}
		if e.literal == ip {
			return true
		}
	}
	return false
}

// ApiKey is the domain record for an API key (spec §3). Secret holds the
// plaintext only on the value returned at creation time; it is never
// persisted and never present on any value read back from storage.
type ApiKey struct {
	ID         string
	Name       string
	Secret     string
	SecretHash string
	// Salt is exposed for the legacy SHA-256 path (HashSecret); Argon2id
	// hashes carry their salt embedded in SecretHash and leave this empty.
	Salt        string
	Role        Role
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LastUsed    *time.Time
	IPWhitelist IPWhitelist
	Active      bool
	UsageCount  uint64
}

// Expired reports whether ExpiresAt is set and in the past.
func (k *ApiKey) Expired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}

// Valid reports whether the key is usable: active and not expired.
func (k *ApiKey) Valid() bool {
	return k.Active && !k.Expired()
}

// SecureApiKey is the persisted projection of an ApiKey: it carries no
// plaintext secret, ever (spec §9 design note on separating the two).
type SecureApiKey struct {
	ID          string
	Name        string
	SecretHash  string
	Salt        string
	Role        Role
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	LastUsed    *time.Time
	IPWhitelist IPWhitelist
	Active      bool
	UsageCount  uint64
}

// Secure projects an ApiKey into its persistable form, dropping Secret.
func (k *ApiKey) Secure() SecureApiKey {
	return SecureApiKey{
		ID: k.ID, Name: k.Name, SecretHash: k.SecretHash, Salt: k.Salt,
		Role: k.Role, CreatedAt: k.CreatedAt, ExpiresAt: k.ExpiresAt,
		LastUsed: k.LastUsed, IPWhitelist: k.IPWhitelist, Active: k.Active,
		UsageCount: k.UsageCount,
	}
}

// Restore rebuilds an ApiKey (without Secret) from its secure projection,
// for validation and listing paths that never need the plaintext.
func (s SecureApiKey) Restore() *ApiKey {
	return &ApiKey{
		ID: s.ID, Name: s.Name, SecretHash: s.SecretHash, Salt: s.Salt,
		Role: s.Role, CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt,
		LastUsed: s.LastUsed, IPWhitelist: s.IPWhitelist, Active: s.Active,
		UsageCount: s.UsageCount,
	}
}
