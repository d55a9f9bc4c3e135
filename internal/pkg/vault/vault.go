package vault

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/attune-health/attune/app/models"
	"github.com/attune-health/attune/internal/pkg/env"
)

// ErrCredentialsNotConfigured is returned when no active credential set
// exists for a provider. Callers treat it as operational misconfiguration.
var ErrCredentialsNotConfigured = errors.New("gateway credentials not configured")

// Credentials is the per-provider secret material. Values are sealed at rest
// and must never be logged.
type Credentials struct {
	APIKey        string `json:"api_key"`
	WebhookSecret string `json:"webhook_secret"`
	MerchantID    string `json:"merchant_id,omitempty"`
}

// Vault stores and retrieves the active credential set per provider. Only
// the gateway adapter layer and the administrative path may hold a Vault.
type Vault interface {
	Store(ctx context.Context, provider string, creds Credentials) error
	Get(ctx context.Context, provider string) (Credentials, error)
}

type gormVault struct {
	db  *gorm.DB
	key [32]byte
}

// New creates a DB-backed vault. The sealing key is derived from
// VAULT_MASTER_KEY.
func New(db *gorm.DB) (Vault, error) {
	masterKey := env.GetEnv("VAULT_MASTER_KEY", "")
	if strings.TrimSpace(masterKey) == "" {
		return nil, errors.New("VAULT_MASTER_KEY is not configured")
	}
	return &gormVault{db: db, key: deriveKey(masterKey)}, nil
}

func (v *gormVault) Store(ctx context.Context, provider string, creds Credentials) error {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return errors.New("provider is required")
	}
	if strings.TrimSpace(creds.APIKey) == "" && strings.TrimSpace(creds.WebhookSecret) == "" {
		return errors.New("credential set is empty")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	sealed, err := seal(plaintext, v.key)
	if err != nil {
		return err
	}

	record := &models.GatewayCredential{
		Provider:  p,
		SecretEnc: sealed,
		IsActive:  true,
	}
	// One active credential set per provider: overwrite in place.
	return v.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"secret_enc",
			"is_active",
			"updated_at",
		}),
	}).Create(record).Error
}

func (v *gormVault) Get(ctx context.Context, provider string) (Credentials, error) {
	p := strings.ToLower(strings.TrimSpace(provider))

	var record models.GatewayCredential
	err := v.db.WithContext(ctx).
		Where("provider = ? AND is_active = ?", p, true).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Credentials{}, ErrCredentialsNotConfigured
		}
		return Credentials{}, err
	}

	plaintext, err := open(record.SecretEnc, v.key)
	if err != nil {
		return Credentials{}, err
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}
