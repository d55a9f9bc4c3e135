package models

import "time"

// GatewayCredential holds the sealed secret material for one payment
// provider. At most one active row exists per provider; the plaintext never
// leaves the vault package.
type GatewayCredential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Provider  string    `gorm:"type:varchar(20);not null;uniqueIndex" json:"provider"`
	SecretEnc string    `gorm:"type:text;not null" json:"-"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
