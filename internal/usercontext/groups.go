package usercontext

import (
	"context"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/model"
)

func (c *UserContext) resolveGroups(ctx context.Context, u *model.User) ([]authgroup.Group, error) {
	switch u.Kind {
	case model.UserAnonymous:
		if otp := c.OTPAddon(); otp != nil {
			return []authgroup.Group{authgroup.NewOTP(u, otp.MobileNo)}, nil
		}
		return []authgroup.Group{authgroup.NewAnonymous(u, u.TrackingID)}, nil
	case model.UserCitizen:
		return []authgroup.Group{authgroup.NewCitizen(u, u.UinFin)}, nil
	default:
		return c.memberships(ctx, u)
	}
}

// memberships turns claimed groups into auth groups, keeping only what exists.
func (c *UserContext) memberships(ctx context.Context, u *model.User) ([]authgroup.Group, error) {
	var orgIDs, serviceIDs, providerIDs []uuid.UUID
	for _, raw := range c.claims.Groups {
		prefix, value, ok := strings.Cut(raw, ":")
		id, err := uuid.FromString(value)
		if !ok || err != nil {
			c.log.Warn("ignoring malformed group claim", zap.String("group", raw), zap.Stringer("user_id", u.ID))
			continue
		}
		switch prefix {
		case GroupOrganisationAdmin:
			orgIDs = append(orgIDs, id)
		case GroupServiceAdmin:
			serviceIDs = append(serviceIDs, id)
		case GroupServiceProvider:
			providerIDs = append(providerIDs, id)
		default:
			c.log.Warn("ignoring unknown group claim", zap.String("group", raw), zap.Stringer("user_id", u.ID))
		}
	}

	var out []authgroup.Group
	if len(orgIDs) > 0 {
		ids, err := c.hierarchy.ExistingOrganisationIDs(ctx, orgIDs)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			out = append(out, authgroup.NewOrganisationAdmin(u, ids))
		}
	}
	if len(serviceIDs) > 0 {
		ids, err := c.hierarchy.ExistingServiceIDs(ctx, serviceIDs)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			out = append(out, authgroup.NewServiceAdmin(u, ids))
		}
	}
	if len(providerIDs) > 0 {
		sps, err := c.hierarchy.ServiceProvidersByIDs(ctx, providerIDs)
		if err != nil {
			return nil, err
		}
		for _, sp := range sps {
			// a provider linked to another account is not claimable
			if sp.UserID != nil && *sp.UserID != u.ID {
				continue
			}
			out = append(out, authgroup.NewServiceProvider(u, sp.ID, sp.ServiceID))
		}
	}
	return out, nil
}
