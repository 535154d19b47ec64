package repository

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/sahelsms/orange-gateway/pkg/pg"
)

// TokenEntity is the single-row write-through cache for the carrier bearer
// token, so a restart does not force a fresh OAuth exchange.
type TokenEntity struct {
	ID        int64     `gorm:"primaryKey;column:id"`
	Token     string    `gorm:"column:token;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (TokenEntity) TableName() string { return "carrier_tokens" }

const tokenRowID = 1

type TokenRepository struct {
	*pg.DB
}

func NewTokenRepository(db *pg.DB) *TokenRepository {
	return &TokenRepository{db}
}

func (r *TokenRepository) SaveToken(ctx context.Context, token string, expiresAt time.Time) error {
	entity := &TokenEntity{ID: tokenRowID, Token: token, ExpiresAt: expiresAt}
	return r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(entity).Error
}

// LoadToken returns the cached token, or empty values when none is stored.
func (r *TokenRepository) LoadToken(ctx context.Context) (string, time.Time, error) {
	var entity TokenEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", tokenRowID).Error
	if err != nil {
		return "", time.Time{}, err
	}
	return entity.Token, entity.ExpiresAt, nil
}
