// Package rls binds the current tenant to the database session so
// postgres row-level security policies can enforce isolation below the
// application layer.
package rls

import (
	"fmt"

	"gorm.io/gorm"
)

// WithTenant must run inside a transaction; SET LOCAL resets when the
// transaction ends.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	return tx.Exec(
		"SET LOCAL app.current_org_id = ?",
		fmt.Sprintf("%d", tenantID),
	).Error
}
