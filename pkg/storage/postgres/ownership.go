package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/creatorstats/pkg/analytics"
)

// OwnershipStore resolves content creators from content_ownership
type OwnershipStore struct {
	cm *ConnectionManager
}

var _ analytics.OwnershipStore = (*OwnershipStore)(nil)

// NewOwnershipStore creates a new ownership store
func NewOwnershipStore(cm *ConnectionManager) *OwnershipStore {
	return &OwnershipStore{cm: cm}
}

// FindOwnerTenant returns the creating tenant, or found=false for unknown content
func (s *OwnershipStore) FindOwnerTenant(ctx context.Context, contentType analytics.ContentType, contentID string) (string, bool, error) {
	var tenantID string
	err := s.cm.Replica().QueryRowContext(ctx,
		"SELECT tenant_id FROM content_ownership WHERE content_type = $1 AND content_id = $2",
		string(contentType), contentID,
	).Scan(&tenantID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find owner of %s:%s: %w", contentType, contentID, err)
	}
	return tenantID, true, nil
}
