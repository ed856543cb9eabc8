package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/authgroup"
	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/policy"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/usercontext"
)

// ServiceCatalog lists the services a caller may book or manage.
type ServiceCatalog interface {
	// Search returns visible services, optionally within one organisation.
	Search(ctx context.Context, organisationID *uuid.UUID) ([]model.Service, error)
	// CanManage reports whether the caller may perform action on the service id.
	CanManage(ctx context.Context, id uuid.UUID, action policy.CrudAction) (bool, error)
}

type ServiceCatalogImpl struct {
	services repository.ServiceRepository
}

// NewServiceCatalog constructs ServiceCatalog.
func NewServiceCatalog(services repository.ServiceRepository) *ServiceCatalogImpl {
	return &ServiceCatalogImpl{services: services}
}

// Search ANDs the caller's service visibility with the organisation filter.
func (c *ServiceCatalogImpl) Search(ctx context.Context, organisationID *uuid.UUID) ([]model.Service, error) {
	groups, err := groupsFrom(ctx)
	if err != nil {
		return nil, err
	}
	pred, params := policy.NewServiceQueryVisitor(repository.ServiceAlias).UserVisibilityCondition(groups)
	return c.services.Search(ctx, repository.Visibility{Predicate: pred, Params: params}, organisationID)
}

// CanManage loads the service and evaluates the service permission visitor.
func (c *ServiceCatalogImpl) CanManage(ctx context.Context, id uuid.UUID, action policy.CrudAction) (bool, error) {
	groups, err := groupsFrom(ctx)
	if err != nil {
		return false, err
	}
	svc, err := c.services.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return policy.NewServiceActionPermission(svc, action).HasPermission(groups), nil
}

func groupsFrom(ctx context.Context) ([]authgroup.Group, error) {
	uc, ok := usercontext.FromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: no user context", errs.ErrUnauthorized)
	}
	return uc.AuthGroups(ctx)
}
