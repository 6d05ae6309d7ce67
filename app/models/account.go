package models

import "time"

// Account is the local owner a subscription attaches to. The engine only
// needs the stable id plus the provider-side customer id to associate the
// two; everything else about the user lives outside this service.
type Account struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ExternalCustomerID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_accounts_external_customer_id" json:"external_customer_id"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
