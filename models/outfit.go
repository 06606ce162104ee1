package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OutfitRecord is one suggested outfit as produced by the analysis model.
type OutfitRecord struct {
	Image              string  `json:"image"`
	Top                string  `json:"top" validate:"required"`
	Bottoms            string  `json:"bottoms" validate:"required"`
	Shoes              string  `json:"shoes" validate:"required"`
	Accessories        string  `json:"accessories" validate:"required"`
	Outerwear          *string `json:"outerwear,omitempty"`
	Gender             string  `json:"gender"`
	OverallAesthetic   string  `json:"overall_aesthetic"`
	PoseRecommendation string  `json:"pose_recommendation" validate:"required"`
	BackgroundSetting  string  `json:"background_setting" validate:"required"`
}

type OutfitBatch struct {
	Outfits []OutfitRecord `json:"outfits"`
}

// OutfitAnalysis stores the raw model text of a phase-one call so the render
// phase can be driven by a signed handle instead of client-echoed text.
type OutfitAnalysis struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UID              string         `gorm:"index;size:128" json:"uid"`
	RawText          string         `gorm:"type:text" json:"-"`
	OutfitCount      int            `json:"outfitCount"`
	Model            string         `json:"model"`
	InputTokenCount  int64          `json:"-"`
	OutputTokenCount int64          `json:"-"`
	TotalTokenCount  int64          `json:"-"`
	ImageCount       int            `json:"imageCount"`
	ExpiresAt        time.Time      `gorm:"index" json:"expiresAt"`
	CreatedAt        time.Time      `json:"createdAt"`
	Renders          []OutfitRender `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE" json:"renders"`
}

type OutfitRender struct {
	JsonModel
	AnalysisID  *uuid.UUID     `gorm:"type:uuid;index" json:"analysisId"`
	UID         string         `gorm:"index;size:128" json:"uid"`
	ImageURLs   pq.StringArray `gorm:"type:text[]" json:"imageUrls"`
	Mode        string         `json:"mode"`
	FailedCount int            `json:"failedCount"`
}
