package repository

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

// UpsertAITool returns the id of the tool with d.Tool's name, creating it if needed.
func (s *Store) UpsertAITool(ctx context.Context, d domain.ToolDetection) (uint, error) {
	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = upsertTool(tx, d)
		return err
	})
	if err != nil {
		return 0, common.WrapError(common.ErrCodeDatabase, "upsert ai tool "+d.Tool, err)
	}
	return id, nil
}

func upsertTool(tx *gorm.DB, d domain.ToolDetection) (uint, error) {
	name := strings.TrimSpace(d.Tool)
	if name == "" {
		return 0, common.NewError(common.ErrCodeInvalidInput, "ai tool name is empty")
	}

	tool := domain.AITool{Name: name, Provider: d.Provider, Category: d.Category}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&tool)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		return tool.ID, nil
	}

	var existing domain.AITool
	if err := tx.Where("name = ?", name).Take(&existing).Error; err != nil {
		return 0, err
	}
	return existing.ID, nil
}

// LinkAITool associates an application with a tool. Linking the same pair
// twice is a no-op; linked reports whether a new association was created.
func (s *Store) LinkAITool(ctx context.Context, appID uint, d domain.ToolDetection) (linked bool, err error) {
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return false, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("confidence %v outside [0,1]", d.Confidence))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		toolID, err := upsertTool(tx, d)
		if err != nil {
			return err
		}
		link := domain.ApplicationAITool{
			ApplicationID:   appID,
			AIToolID:        toolID,
			Confidence:      d.Confidence,
			DetectionMethod: d.Method,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "application_id"}, {Name: "ai_tool_id"}},
			DoNothing: true,
		}).Create(&link)
		if res.Error != nil {
			return res.Error
		}
		linked = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		if common.HasCode(err, common.ErrCodeInvalidInput) {
			return false, err
		}
		return false, common.WrapError(common.ErrCodeDatabase, fmt.Sprintf("link application %d to %s", appID, d.Tool), err)
	}
	return linked, nil
}

// ApplicationTools lists the tool links of one application.
func (s *Store) ApplicationTools(ctx context.Context, appID uint) ([]domain.ApplicationAITool, error) {
	var links []domain.ApplicationAITool
	err := s.db.WithContext(ctx).
		Where("application_id = ?", appID).
		Order("ai_tool_id").
		Find(&links).Error
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "list application tools", err)
	}
	return links, nil
}

// UpsertGitHubRepository stores repo metadata for its application and marks
// the application as enriched at repo.FetchedAt.
func (s *Store) UpsertGitHubRepository(ctx context.Context, repo *domain.GitHubRepository) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "application_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"repo_id", "owner", "name", "full_name", "description", "stars", "forks",
				"open_issues", "language", "default_branch", "archived",
				"repo_created_at", "repo_updated_at", "pushed_at", "fetched_at",
			}),
		}).Create(repo).Error
		if err != nil {
			return err
		}
		return tx.Model(&domain.Application{}).
			Where("id = ?", repo.ApplicationID).
			Update("last_enriched_at", repo.FetchedAt).Error
	})
	if err != nil {
		return common.WrapError(common.ErrCodeDatabase, "upsert github repository "+repo.FullName, err)
	}
	return nil
}

// MarkEnriched stamps an application as enriched at at without storing
// repository metadata, so a repository that no longer exists waits out the
// staleness window like any other.
func (s *Store) MarkEnriched(ctx context.Context, appID uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&domain.Application{}).
		Where("id = ?", appID).
		Update("last_enriched_at", at).Error
	if err != nil {
		return common.WrapError(common.ErrCodeDatabase, fmt.Sprintf("mark application %d enriched", appID), err)
	}
	return nil
}

// GitHubRepositoryFor returns the stored repository for an application.
func (s *Store) GitHubRepositoryFor(ctx context.Context, appID uint) (*domain.GitHubRepository, error) {
	var repo domain.GitHubRepository
	if err := s.db.WithContext(ctx).Where("application_id = ?", appID).Take(&repo).Error; err != nil {
		return nil, notFoundOr(err, "github repository")
	}
	return &repo, nil
}
