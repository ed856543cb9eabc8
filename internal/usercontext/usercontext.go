// Package usercontext resolves the caller behind a request into a user and a set of
// auth groups. Each value is computed at most once per request.
package usercontext

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
)

// anonymousNamespace derives stable user ids from anonymous tracking ids.
var anonymousNamespace = uuid.Must(uuid.FromString("6f1c3b8e-52a4-4c1e-9a57-0d2b7f4e91c3"))

// OTPAddon is the verified mobile number an anonymous caller may present.
type OTPAddon struct {
	MobileNo string
}

// Snapshot is a consistent view of the resolved caller.
type Snapshot struct {
	User   *model.User
	Groups []authgroup.Group
	OTP    *OTPAddon
}

// UserContext is request scoped. It must not be shared between requests.
type UserContext struct {
	claims    *Claims
	users     repository.UserRepository
	hierarchy repository.HierarchyReader
	log       *zap.Logger

	sf singleflight.Group

	mu          sync.Mutex
	fixed       bool
	gen         uint64
	trackingID  string
	user        *model.User
	groups      []authgroup.Group
	groupsReady bool
}

// New builds a context for a caller presenting claims (nil for no token) and an
// anonymous tracking id. Nothing is resolved until first asked for.
func New(claims *Claims, trackingID string, users repository.UserRepository, hierarchy repository.HierarchyReader, log *zap.Logger) *UserContext {
	if log == nil {
		log = zap.NewNop()
	}
	if claims != nil && claims.anonymous() && claims.Subject != "" {
		trackingID = claims.Subject
	}
	return &UserContext{claims: claims, trackingID: trackingID, users: users, hierarchy: hierarchy, log: log}
}

// NewResolved returns a context whose user and groups are already known.
// It is meant for background jobs and tests.
func NewResolved(user *model.User, groups []authgroup.Group) *UserContext {
	return &UserContext{
		log:         zap.NewNop(),
		fixed:       true,
		user:        user,
		groups:      append([]authgroup.Group(nil), groups...),
		groupsReady: true,
	}
}

// CurrentUser returns the caller, resolving it on first use.
func (c *UserContext) CurrentUser(ctx context.Context) (*model.User, error) {
	c.mu.Lock()
	if c.user != nil {
		u := c.user
		c.mu.Unlock()
		return u, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.sf.Do("user:"+strconv.FormatUint(gen, 10), func() (any, error) {
		c.mu.Lock()
		if c.gen == gen && c.user != nil {
			u := c.user
			c.mu.Unlock()
			return u, nil
		}
		tracking := c.trackingID
		c.mu.Unlock()

		u, err := c.resolveUser(ctx, tracking)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.user = u
		}
		c.mu.Unlock()
		return u, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.User), nil
}

// AuthGroups returns the caller's groups, resolving them on first use.
func (c *UserContext) AuthGroups(ctx context.Context) ([]authgroup.Group, error) {
	c.mu.Lock()
	if c.groupsReady {
		g := c.groups
		c.mu.Unlock()
		return g, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.sf.Do("groups:"+strconv.FormatUint(gen, 10), func() (any, error) {
		c.mu.Lock()
		if c.gen == gen && c.groupsReady {
			g := c.groups
			c.mu.Unlock()
			return g, nil
		}
		c.mu.Unlock()

		u, err := c.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		g, err := c.resolveGroups(ctx, u)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.groups, c.groupsReady = g, true
		}
		c.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]authgroup.Group), nil
}

// OTPAddon returns the verified mobile number of an anonymous caller, if any.
func (c *UserContext) OTPAddon() *OTPAddon {
	if c.claims != nil && c.claims.anonymous() && c.claims.MobileNo != "" {
		return &OTPAddon{MobileNo: c.claims.MobileNo}
	}
	return nil
}

// Snapshot returns user and groups as resolved within the same generation.
func (c *UserContext) Snapshot(ctx context.Context) (Snapshot, error) {
	for {
		if _, err := c.AuthGroups(ctx); err != nil {
			return Snapshot{}, err
		}
		c.mu.Lock()
		if c.user != nil && c.groupsReady {
			s := Snapshot{User: c.user, Groups: c.groups, OTP: c.OTPAddon()}
			c.mu.Unlock()
			return s, nil
		}
		c.mu.Unlock()
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
	}
}

// ReplaceAnonymousUser switches an anonymous caller to trackingID and drops
// everything resolved so far.
func (c *UserContext) ReplaceAnonymousUser(trackingID string) error {
	if trackingID == "" {
		return errors.New("tracking id is empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fixed || !c.claims.anonymous() {
		return fmt.Errorf("%w: only an unresolved anonymous caller can be replaced", errs.ErrPrecondition)
	}
	c.gen++
	c.trackingID = trackingID
	c.user = nil
	c.groups, c.groupsReady = nil, false
	return nil
}

func (c *UserContext) resolveUser(ctx context.Context, trackingID string) (*model.User, error) {
	if c.claims.anonymous() {
		u := &model.User{Kind: model.UserAnonymous, TrackingID: trackingID}
		if trackingID != "" {
			u.ID = uuid.NewV5(anonymousNamespace, trackingID)
		}
		return u, nil
	}
	id, err := uuid.FromString(c.claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed subject", errs.ErrUnauthorized)
	}
	u, err := c.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", errs.ErrUnauthorized)
		}
		return nil, err
	}
	if u.Kind == model.UserAnonymous {
		return nil, fmt.Errorf("%w: anonymous account presented a signed-in token", errs.ErrUnauthorized)
	}
	return u, nil
}
