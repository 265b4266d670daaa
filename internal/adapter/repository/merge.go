package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

type collision struct {
	MergeAppID uint
	KeepAppID  uint
}

// MergePlatforms folds platform mergeID into keepID inside one transaction:
// its applications move to keepID and the platform row is removed. When both
// platforms hold the same application identity the duplicate is collapsed
// into the keeper's row, carrying over AI tool links and GitHub metadata the
// keeper lacks. A missing mergeID is a no-op, so re-running is safe.
func (s *Store) MergePlatforms(ctx context.Context, keepID, mergeID uint) (domain.MergeResult, error) {
	result := domain.MergeResult{KeepID: keepID, MergeID: mergeID}
	if keepID == mergeID {
		return result, common.NewError(common.ErrCodeInvalidInput, fmt.Sprintf("cannot merge platform %d into itself", keepID))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var merge domain.Platform
		if err := tx.Take(&merge, mergeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Skipped = true
				return nil
			}
			return err
		}

		var keep domain.Platform
		if err := tx.Take(&keep, keepID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.NewError(common.ErrCodeNotFound, fmt.Sprintf("platform %d not found", keepID))
			}
			return err
		}

		var collisions []collision
		err := tx.Table("applications AS m").
			Select("m.id AS merge_app_id, k.id AS keep_app_id").
			Joins("JOIN applications AS k ON k.identity_key = m.identity_key AND k.platform_id = ?", keepID).
			Where("m.platform_id = ?", mergeID).
			Scan(&collisions).Error
		if err != nil {
			return err
		}

		for _, c := range collisions {
			if err := collapseApplication(tx, c.KeepAppID, c.MergeAppID); err != nil {
				return fmt.Errorf("collapse application %d into %d: %w", c.MergeAppID, c.KeepAppID, err)
			}
			result.Collapsed++
		}

		res := tx.Model(&domain.Application{}).Where("platform_id = ?", mergeID).Update("platform_id", keepID)
		if res.Error != nil {
			return res.Error
		}
		result.Moved = res.RowsAffected

		return tx.Delete(&domain.Platform{}, mergeID).Error
	})
	if err != nil {
		result.Err = err
		if common.HasCode(err, common.ErrCodeNotFound) {
			return result, err
		}
		return result, common.WrapError(common.ErrCodeDatabase, fmt.Sprintf("merge platform %d into %d", mergeID, keepID), err)
	}
	return result, nil
}

// collapseApplication reads the keeper's links first and updates with plain
// predicates; MySQL rejects an UPDATE whose subquery reads the same table.
func collapseApplication(tx *gorm.DB, keepAppID, mergeAppID uint) error {
	var keptTools []uint
	if err := tx.Model(&domain.ApplicationAITool{}).
		Where("application_id = ?", keepAppID).
		Pluck("ai_tool_id", &keptTools).Error; err != nil {
		return err
	}
	move := tx.Model(&domain.ApplicationAITool{}).Where("application_id = ?", mergeAppID)
	if len(keptTools) > 0 {
		move = move.Where("ai_tool_id NOT IN ?", keptTools)
	}
	if err := move.Update("application_id", keepAppID).Error; err != nil {
		return err
	}
	if err := tx.Where("application_id = ?", mergeAppID).Delete(&domain.ApplicationAITool{}).Error; err != nil {
		return err
	}

	var keptRepos int64
	if err := tx.Model(&domain.GitHubRepository{}).
		Where("application_id = ?", keepAppID).
		Count(&keptRepos).Error; err != nil {
		return err
	}
	if keptRepos == 0 {
		if err := tx.Model(&domain.GitHubRepository{}).
			Where("application_id = ?", mergeAppID).
			Update("application_id", keepAppID).Error; err != nil {
			return err
		}
	}
	if err := tx.Where("application_id = ?", mergeAppID).Delete(&domain.GitHubRepository{}).Error; err != nil {
		return err
	}

	return tx.Delete(&domain.Application{}, mergeAppID).Error
}
