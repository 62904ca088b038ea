package models

import (
	"time"
)

type Credential struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text"`
	Owner       string    `json:"owner" gorm:"type:text;index"`
	DisplayName string    `json:"displayName" gorm:"type:text;not null"`
	Secret      string    `json:"-" gorm:"type:text;not null"`
	Status      string    `json:"status" gorm:"type:text;not null;default:'Active'"`
	UsageCount  int64     `json:"usageCount" gorm:"type:bigint;not null;default:0"`
	CreatedAt   time.Time `json:"createdAt" gorm:"->;<-:create;type:timestamp with time zone;not null;index"`
}
