package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Platform is a vibe-coding service that hosts or lists applications.
// CanonicalName is the normalised form used for uniqueness, so "Bolt" and
// "bolt.new" resolve to the same row.
type Platform struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	CanonicalName  string `gorm:"size:191;uniqueIndex;not null"`
	BaseURL        string
	Description    string
	ScrapingMethod string
	LastScrapedAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Application is one app/project discovered on a platform.
type Application struct {
	ID              uint      `gorm:"primaryKey"`
	PlatformID      uint      `gorm:"not null;uniqueIndex:idx_app_identity,priority:1"`
	Platform        *Platform `gorm:"constraint:OnDelete:RESTRICT"`
	IdentityKey     string    `gorm:"size:700;not null;uniqueIndex:idx_app_identity,priority:2"`
	ExternalID      string    `gorm:"size:255;index"`
	Name            string    `gorm:"not null"`
	Description     string
	URL             string
	DiscoveryMethod string `gorm:"size:64;index"`
	IsActive        bool   `gorm:"not null;default:true;index"`
	IsFeatured      bool   `gorm:"not null;default:false"`
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time
	RawData         datatypes.JSON
	LastEnrichedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GitHubRepository holds repository metadata for an application hosted on
// GitHub. At most one per application.
type GitHubRepository struct {
	ID            uint         `gorm:"primaryKey"`
	ApplicationID uint         `gorm:"uniqueIndex;not null"`
	Application   *Application `gorm:"constraint:OnDelete:CASCADE"`
	RepoID        int64        `gorm:"index"`
	Owner         string       `gorm:"not null"`
	Name          string       `gorm:"not null"`
	FullName      string       `gorm:"size:255;index"`
	Description   string
	Stars         int
	Forks         int
	OpenIssues    int
	Language      string
	DefaultBranch string
	Archived      bool
	RepoCreatedAt *time.Time
	RepoUpdatedAt *time.Time
	PushedAt      *time.Time
	FetchedAt     time.Time
}

func (GitHubRepository) TableName() string { return "github_repositories" }

// AITool is an AI model or assistant an application is associated with.
type AITool struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:191;uniqueIndex;not null"`
	Provider  string
	Category  string
	CreatedAt time.Time
}

func (AITool) TableName() string { return "ai_tools" }

// ApplicationAITool links an application to a tool with a confidence in [0,1].
type ApplicationAITool struct {
	ApplicationID   uint    `gorm:"primaryKey"`
	AIToolID        uint    `gorm:"primaryKey"`
	Confidence      float64 `gorm:"not null;check:confidence >= 0 AND confidence <= 1"`
	DetectionMethod string
	CreatedAt       time.Time
}

func (ApplicationAITool) TableName() string { return "application_ai_tools" }

// AllModels lists every persisted entity in migration order.
func AllModels() []any {
	return []any{
		&Platform{},
		&Application{},
		&GitHubRepository{},
		&AITool{},
		&ApplicationAITool{},
	}
}
