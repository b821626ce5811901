package registry

import (
	"context"
	"log/slog"
)

// createAndAuthorize is the shared entity-creation flow: persist the row,
// then register its ACL; when the grant fails, delete the row again and
// return the grant's error. The entity row and its ACL live in independent
// writes, so the compensating delete is what makes the pair look atomic to
// callers.
//
// The compensation is best effort. If the delete itself fails the row stays
// behind with no ACL — invisible to every caller, indistinguishable from
// nonexistent — and both errors are logged while the original grant error
// is still the one returned.
func createAndAuthorize[T any](
	ctx context.Context,
	logger *slog.Logger,
	persist func(context.Context) (T, error),
	authorize func(context.Context, T) error,
	compensate func(context.Context, T) error,
) (T, error) {
	var zero T

	entity, err := persist(ctx)
	if err != nil {
		return zero, err
	}

	if err := authorize(ctx, entity); err != nil {
		if delErr := compensate(ctx, entity); delErr != nil {
			logger.Error("compensating delete failed, entity row is orphaned",
				"grantError", err, "deleteError", delErr)
		}
		return zero, err
	}

	return entity, nil
}
