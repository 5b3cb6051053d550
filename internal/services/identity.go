package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/models"
)

// Headers set by the trusted reverse proxy. Clients can send them too; only
// a valid attestation makes them meaningful.
const (
	HeaderPrincipal            = "X-MS-CLIENT-PRINCIPAL"
	HeaderPrincipalID          = "X-MS-CLIENT-PRINCIPAL-ID"
	HeaderAttestation          = "X-Proxy-Attestation"
	HeaderAttestationTimestamp = "X-Proxy-Attestation-Timestamp"
)

const maxPrincipalBytes = 16 << 10

var groupClaimTypes = map[string]bool{
	"groups": true,
	"http://schemas.microsoft.com/ws/2008/06/identity/claims/groups": true,
}

var nameClaimTypes = map[string]bool{
	"name": true,
	"preferred_username": true,
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name": true,
}

type IdentityStatus int

const (
	Unauthenticated IdentityStatus = iota
	Unauthorized
	Authenticated
	Misconfigured
)

func (s IdentityStatus) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthorized:
		return "unauthorized"
	case Misconfigured:
		return "misconfigured"
	default:
		return "unauthenticated"
	}
}

// IdentityResult is the outcome of guarding one request. Principal is set for
// Authenticated and Unauthorized.
type IdentityResult struct {
	Status    IdentityStatus
	Principal *models.Principal
}

// Attestation is a principal header that passed attestation and may be parsed.
type Attestation struct {
	principalID string
	blob        string
}

type clientPrincipal struct {
	AuthType string `json:"auth_typ"`
	Claims   []struct {
		Type  string `json:"typ"`
		Value string `json:"val"`
	} `json:"claims"`
}

// IdentityGuard verifies the proxy attestation, then extracts the principal.
type IdentityGuard struct {
	adminGroupID string
	secret       []byte
	maxSkew      time.Duration
	now          func() time.Time
}

func NewIdentityGuard(cfg config.AuthConfig) *IdentityGuard {
	return &IdentityGuard{
		adminGroupID: cfg.AdminGroupID,
		secret:       []byte(cfg.AttestationSecret),
		maxSkew:      cfg.MaxSkew,
		now:          time.Now,
	}
}

// Check runs both stages. It never fails open: without configuration every
// request is Misconfigured.
func (g *IdentityGuard) Check(header http.Header) IdentityResult {
	if g.adminGroupID == "" || len(g.secret) == 0 {
		return IdentityResult{Status: Misconfigured}
	}

	a, ok := g.VerifyAttestation(header)
	if !ok {
		return IdentityResult{Status: Unauthenticated}
	}

	principal, ok := ExtractPrincipal(a)
	if !ok {
		return IdentityResult{Status: Unauthenticated}
	}

	if !principal.HasGroup(g.adminGroupID) {
		return IdentityResult{Status: Unauthorized, Principal: principal}
	}
	return IdentityResult{Status: Authenticated, Principal: principal}
}

// VerifyAttestation checks the proxy signature over the principal headers.
func (g *IdentityGuard) VerifyAttestation(header http.Header) (Attestation, bool) {
	blob := header.Get(HeaderPrincipal)
	principalID := header.Get(HeaderPrincipalID)
	signature := header.Get(HeaderAttestation)
	ts := header.Get(HeaderAttestationTimestamp)

	if blob == "" || principalID == "" || signature == "" || ts == "" {
		return Attestation{}, false
	}
	if len(blob) > maxPrincipalBytes {
		return Attestation{}, false
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Attestation{}, false
	}
	skew := g.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > g.maxSkew {
		return Attestation{}, false
	}

	expected := SignAttestation(g.secret, ts, principalID, blob)

	// Use constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(signature)), []byte(expected)) != 1 {
		return Attestation{}, false
	}

	return Attestation{principalID: principalID, blob: blob}, true
}

// ExtractPrincipal decodes an attested principal blob. Any decoding problem
// yields false, never a panic.
func ExtractPrincipal(a Attestation) (*models.Principal, bool) {
	raw, err := base64.StdEncoding.DecodeString(a.blob)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(a.blob)
		if err != nil {
			return nil, false
		}
	}

	var cp clientPrincipal
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, false
	}

	p := &models.Principal{ID: a.principalID, Provider: cp.AuthType}
	for _, c := range cp.Claims {
		switch {
		case groupClaimTypes[c.Type]:
			p.Groups = append(p.Groups, c.Value)
		case nameClaimTypes[c.Type] && p.Name == "":
			p.Name = c.Value
		}
	}
	return p, true
}

// SignAttestation computes the proxy signature the guard expects.
func SignAttestation(secret []byte, timestamp, principalID, blob string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write([]byte(principalID))
	mac.Write([]byte("."))
	mac.Write([]byte(blob))
	return hex.EncodeToString(mac.Sum(nil))
}

// AttestedHeaders builds the full header set a trusted proxy would send.
func AttestedHeaders(secret []byte, principalID string, groups []string, at time.Time) http.Header {
	cp := map[string]any{
		"auth_typ": "aad",
		"claims":   groupClaims(groups),
	}
	raw, _ := json.Marshal(cp)
	blob := base64.StdEncoding.EncodeToString(raw)
	ts := strconv.FormatInt(at.Unix(), 10)

	h := http.Header{}
	h.Set(HeaderPrincipal, blob)
	h.Set(HeaderPrincipalID, principalID)
	h.Set(HeaderAttestationTimestamp, ts)
	h.Set(HeaderAttestation, SignAttestation(secret, ts, principalID, blob))
	return h
}

func groupClaims(groups []string) []map[string]string {
	claims := make([]map[string]string, 0, len(groups))
	for _, g := range groups {
		claims = append(claims, map[string]string{"typ": "groups", "val": g})
	}
	return claims
}
