package workorder

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

const maxCommentLength = 4000

// AddComment appends an operator comment.
func (s *Service) AddComment(ctx context.Context, actor contracts.Actor, workOrderID, body string) (*contracts.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &contracts.ValidationError{Field: "body", Detail: "is required"}
	}
	if utf8.RuneCountInString(body) > maxCommentLength {
		return nil, &contracts.ValidationError{Field: "body", Detail: "is too long"}
	}
	c := &contracts.Comment{
		ID:          uuid.New().String(),
		WorkOrderID: workOrderID,
		Author:      actor.ID,
		Body:        body,
		Kind:        contracts.CommentUser,
	}
	err := lock.With(ctx, s.locker, lock.Key("workorder", workOrderID), func() error {
		return s.store.Update(ctx, func(tx store.Tx) error {
			if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
				return err
			}
			c.CreatedAt = s.clock().UTC()
			err := tx.InsertComment(ctx, c)
			if errors.Is(err, store.ErrUnsupported) {
				return &contracts.ConflictError{Detail: "comments are not enabled for this deployment"}
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns comments oldest first.
func (s *Service) ListComments(ctx context.Context, actor contracts.Actor, workOrderID string) ([]*contracts.Comment, error) {
	var out []*contracts.Comment
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := store.LoadWorkOrder(ctx, tx, actor, workOrderID, false); err != nil {
			return err
		}
		var err error
		out, err = tx.ListComments(ctx, workOrderID)
		return err
	})
	if out == nil && err == nil {
		out = []*contracts.Comment{}
	}
	return out, err
}
