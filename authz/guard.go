// Package authz decides whether a principal may act on a resource by
// walking the ownership chain up to the company that owns it.
package authz

import (
	"context"

	"stockboard/errs"
)

type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

type ResourceKind string

const (
	KindCompany    ResourceKind = "company"
	KindSeries     ResourceKind = "series"
	KindPrediction ResourceKind = "prediction"
)

// ChainStore resolves ownership links with minimal-field queries. Every
// method returns errs.KindNotFound when the record does not exist.
type ChainStore interface {
	CompanyOwner(ctx context.Context, companyID uint) (uint, error)
	SeriesCompany(ctx context.Context, seriesID uint) (uint, error)
	PredictionCompany(ctx context.Context, predictionID uint) (uint, error)
}

// Guard is a pure decision function over the ownership chain. It never
// mutates anything; side effects belong to the caller after ALLOW.
type Guard struct {
	store ChainStore
}

func NewGuard(store ChainStore) *Guard {
	return &Guard{store: store}
}

// Check walks kind/id up to its company and compares the owner against
// the principal. A zero principal is unauthenticated. The action is part
// of the contract for audit logging; ownership grants all actions.
func (g *Guard) Check(ctx context.Context, principal uint, kind ResourceKind, id uint, action Action) error {
	if principal == 0 {
		return errs.New(errs.KindUnauthenticated, "no authenticated principal for %s %d", kind, id)
	}

	companyID := id
	switch kind {
	case KindCompany:
	case KindSeries:
		cid, err := g.store.SeriesCompany(ctx, id)
		if err != nil {
			return err
		}
		companyID = cid
	case KindPrediction:
		cid, err := g.store.PredictionCompany(ctx, id)
		if err != nil {
			return err
		}
		companyID = cid
	default:
		return errs.New(errs.KindInternal, "unknown resource kind %q", kind)
	}

	owner, err := g.store.CompanyOwner(ctx, companyID)
	if err != nil {
		return err
	}
	if owner != principal {
		return errs.New(errs.KindForbidden, "user %d does not own company %d", principal, companyID)
	}
	return nil
}

// CheckCompany is the common case: the route already names the company.
func (g *Guard) CheckCompany(ctx context.Context, principal, companyID uint, action Action) error {
	return g.Check(ctx, principal, KindCompany, companyID, action)
}
