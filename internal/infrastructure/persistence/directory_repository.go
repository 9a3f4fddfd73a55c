package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
)

var (
	querySelectOrganization = fmt.Sprintf("%s %s, %s %s %s %s %s = ?",
		KeywordSelect, constants.FieldID, constants.FieldName, KeywordFrom, constants.TableOrganization, KeywordWhere, constants.FieldID)

	// Admins first, then the earliest member
	querySelectAttributingUser = fmt.Sprintf("%s %s, %s, %s, %s, %s %s %s %s %s = ? %s %s %s %s = '%s' %s 0 %s 1 %s, %s %s %s 1",
		KeywordSelect, constants.FieldID, constants.FieldOrganizationID, constants.FieldName, constants.FieldEmail, constants.FieldRole,
		KeywordFrom, constants.TableUser, KeywordWhere, constants.FieldOrganizationID,
		KeywordOrderBy, KeywordCase, KeywordWhen, constants.FieldRole, models.UserRoleAdmin, KeywordThen, KeywordElse, KeywordEnd,
		constants.FieldCreatedAt, KeywordAsc, KeywordLimit)
)

// GetOrganization returns an organization by id
func (s *SQLStore) GetOrganization(ctx context.Context, organizationID string) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx, querySelectOrganization, organizationID).Scan(&org.ID, &org.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Organization", organizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %s: %w", organizationID, err)
	}
	return &org, nil
}

// FindAttributingUser returns the first admin, else the first user of the organization
func (s *SQLStore) FindAttributingUser(ctx context.Context, organizationID string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, querySelectAttributingUser, organizationID).Scan(
		&user.ID,
		&user.OrganizationID,
		&user.Name,
		&user.Email,
		&user.Role,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("User", "organization "+organizationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find attributing user for %s: %w", organizationID, err)
	}
	return &user, nil
}
