package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/totegamma/aswan/internal/domain"
	"github.com/totegamma/aswan/internal/infra/database/models"
)

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, cred domain.Credential) error {
	model := toModel(cred)
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *CredentialRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	result := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", id).
		Update("status", status.String())
	return affected(result)
}

func (r *CredentialRepository) IncrementUsage(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ? AND status <> ?", id, domain.StatusRevoked.String()).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	return affected(result)
}

func (r *CredentialRepository) Rename(ctx context.Context, id, name string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id = ?", id).
		Update("display_name", name)
	return affected(result)
}

func (r *CredentialRepository) LoadAll(ctx context.Context) ([]domain.Credential, error) {
	var rows []models.Credential
	err := r.db.WithContext(ctx).Order("created_at asc").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	creds := make([]domain.Credential, 0, len(rows))
	for _, row := range rows {
		cred, err := fromModel(row)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func affected(result *gorm.DB) error {
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return domain.NotFoundError{Resource: "credential"}
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFoundError{Resource: "credential"}
	}
	return nil
}

func toModel(cred domain.Credential) models.Credential {
	return models.Credential{
		ID:          cred.ID,
		Owner:       cred.Owner,
		DisplayName: cred.DisplayName,
		Secret:      cred.Secret,
		Status:      cred.Status.String(),
		UsageCount:  cred.UsageCount,
		CreatedAt:   cred.CreatedAt,
	}
}

func fromModel(row models.Credential) (domain.Credential, error) {
	status, err := domain.ParseStatus(row.Status)
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{
		ID:          row.ID,
		Owner:       row.Owner,
		DisplayName: row.DisplayName,
		Secret:      row.Secret,
		Status:      status,
		UsageCount:  row.UsageCount,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}
