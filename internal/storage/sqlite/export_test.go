package sqlite

import (
	"context"
	"fmt"

	"github.com/apilens/apilens/pkg/models"
)

// SetActive toggles the active flag of one endpoint.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE endpoints SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}
