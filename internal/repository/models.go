package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/oralscan/internal/verdict"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var (
	confidenceMin = decimal.Zero
	confidenceMax = decimal.NewFromInt(1)
)

// User is an identity seen at least once through the auth boundary.
type User struct {
	ID         uint      `gorm:"primaryKey"`
	ExternalID string    `gorm:"column:external_id;uniqueIndex;size:128;not null"`
	Email      *string   `gorm:"column:email;uniqueIndex;size:320"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// Analysis is one persisted screening verdict.
type Analysis struct {
	ID              string          `gorm:"primaryKey;type:uuid"`
	UserID          string          `gorm:"column:user_id;size:128;not null;index:idx_analyses_user_created,priority:1"`
	ImageURL        string          `gorm:"column:image_url;type:text;not null"`
	Result          string          `gorm:"column:result;size:32;not null"`
	Confidence      decimal.Decimal `gorm:"column:confidence;type:numeric(4,3);not null"`
	Explanation     *string         `gorm:"column:explanation;type:text"`
	Recommendations *string         `gorm:"column:recommendations;type:text"`
	Severity        string          `gorm:"column:severity;size:16;not null"`
	Status          string          `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	PatientNotes    *string         `gorm:"column:patient_notes;type:text"`
	FollowUpDate    *datatypes.Date `gorm:"column:follow_up_date"`
	CreatedAt       time.Time       `gorm:"column:created_at;index:idx_analyses_user_created,priority:2"`
}

// TableName overrides the default table name.
func (Analysis) TableName() string {
	return "analyses"
}

// BeforeCreate assigns the id and timestamp when the caller left them empty.
func (a *Analysis) BeforeCreate(*gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	return nil
}

// BeforeSave keeps confidence inside [0,1] at the column's precision.
func (a *Analysis) BeforeSave(*gorm.DB) error {
	a.Confidence = ClampConfidence(a.Confidence)
	return nil
}

// ClampConfidence bounds c to [0,1] and rounds it to three decimals.
func ClampConfidence(c decimal.Decimal) decimal.Decimal {
	switch {
	case c.LessThan(confidenceMin):
		c = confidenceMin
	case c.GreaterThan(confidenceMax):
		c = confidenceMax
	}
	return c.Round(3)
}

// SeverityFor grades a verdict for triage.
func SeverityFor(result string, confidence decimal.Decimal) string {
	if result != verdict.ResultConcerning {
		return SeverityLow
	}
	if confidence.GreaterThanOrEqual(decimal.NewFromFloat(0.8)) {
		return SeverityHigh
	}
	return SeverityMedium
}

// ConfidenceFloat returns the stored confidence as a float64.
func (a *Analysis) ConfidenceFloat() float64 {
	f, _ := a.Confidence.Float64()
	return f
}
