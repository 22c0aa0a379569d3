package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

// AsNotFound turns ErrNotFound into a NotFoundError for kind/id and passes
// other errors through.
func AsNotFound(err error, kind, id string) error {
	if errors.Is(err, ErrNotFound) {
		return &contracts.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// LoadWorkOrder reads a work order visible to actor. A work order owned by
// another tenant is reported as not found. With forUpdate the row stays
// locked until the unit of work ends.
func LoadWorkOrder(ctx context.Context, tx Tx, actor contracts.Actor, id string, forUpdate bool) (*contracts.WorkOrder, error) {
	var (
		wo  *contracts.WorkOrder
		err error
	)
	if forUpdate {
		wo, err = tx.LockWorkOrder(ctx, id)
	} else {
		wo, err = tx.GetWorkOrder(ctx, id)
	}
	if err != nil {
		return nil, AsNotFound(err, "work_order", id)
	}
	if actor.TenantID != "" && wo.TenantID != actor.TenantID {
		return nil, &contracts.NotFoundError{Kind: "work_order", ID: id}
	}
	return wo, nil
}
