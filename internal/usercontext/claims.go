package usercontext

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
)

// Token kinds carried in the "kind" claim.
const (
	KindAnonymous = "anonymous"
	KindCitizen   = "citizen"
	KindAdmin     = "admin"
	KindAgency    = "agency"
)

// Group membership prefixes carried in the "groups" claim, e.g. "org-admin:<uuid>".
const (
	GroupOrganisationAdmin = "org-admin"
	GroupServiceAdmin      = "service-admin"
	GroupServiceProvider   = "service-provider"
)

// Claims is the JWT payload presented by callers.
// Subject holds the user id, or the tracking id for anonymous tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind     string   `json:"kind"`
	UinFin   string   `json:"uinfin,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	MobileNo string   `json:"mobile_no,omitempty"`
}

// AnonymousClaims builds claims for an anonymous caller, optionally carrying a verified mobile number.
func AnonymousClaims(trackingID, mobileNo string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: trackingID},
		Kind:             KindAnonymous,
		MobileNo:         mobileNo,
	}
}

func (c *Claims) anonymous() bool { return c == nil || c.Kind == KindAnonymous }

func kindOf(s string) (model.UserKind, bool) {
	switch s {
	case KindAnonymous:
		return model.UserAnonymous, true
	case KindCitizen:
		return model.UserCitizen, true
	case KindAdmin:
		return model.UserAdmin, true
	case KindAgency:
		return model.UserAgency, true
	default:
		return 0, false
	}
}

// TokenParser verifies HS256 tokens.
type TokenParser struct {
	key []byte
}

// NewTokenParser constructs a parser for tokens signed with key.
func NewTokenParser(key []byte) *TokenParser { return &TokenParser{key: key} }

// Parse verifies raw and returns its claims. Any failure wraps errs.ErrUnauthorized.
func (p *TokenParser) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", errs.ErrUnauthorized)
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return p.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if _, ok := kindOf(c.Kind); !ok {
		return nil, fmt.Errorf("%w: unknown token kind %q", errs.ErrUnauthorized, c.Kind)
	}
	if c.Kind != KindAnonymous && c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", errs.ErrUnauthorized)
	}
	return &c, nil
}

// Issue signs c, stamping IssuedAt and, when ttl is positive, ExpiresAt.
func (p *TokenParser) Issue(c Claims, ttl time.Duration) (string, error) {
	if len(p.key) == 0 {
		return "", errors.New("token key is not configured")
	}
	now := time.Now()
	c.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.key)
}
