package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

func notFoundOr(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return common.WrapError(common.ErrCodeNotFound, what+" not found", err)
	}
	return common.WrapError(common.ErrCodeDatabase, "load "+what, err)
}

// GetApplication loads one application by id.
func (s *Store) GetApplication(ctx context.Context, id uint) (*domain.Application, error) {
	var app domain.Application
	if err := s.db.WithContext(ctx).Take(&app, id).Error; err != nil {
		return nil, notFoundOr(err, "application")
	}
	return &app, nil
}

// ListApplications returns applications matching f, oldest first.
func (s *Store) ListApplications(ctx context.Context, f domain.ApplicationFilter) ([]domain.Application, error) {
	q := s.db.WithContext(ctx).Model(&domain.Application{})
	if f.PlatformID != 0 {
		q = q.Where("platform_id = ?", f.PlatformID)
	}
	if f.DiscoveryMethod != "" {
		q = q.Where("discovery_method = ?", f.DiscoveryMethod)
	}
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var apps []domain.Application
	if err := q.Order("id").Find(&apps).Error; err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "list applications", err)
	}
	return apps, nil
}

// ListPlatforms returns every platform ordered by id.
func (s *Store) ListPlatforms(ctx context.Context) ([]domain.Platform, error) {
	var platforms []domain.Platform
	if err := s.db.WithContext(ctx).Order("id").Find(&platforms).Error; err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "list platforms", err)
	}
	return platforms, nil
}

// FindPlatform looks a platform up by any spelling of its name.
func (s *Store) FindPlatform(ctx context.Context, name string) (*domain.Platform, error) {
	var p domain.Platform
	canonical := domain.CanonicalPlatformName(name, s.aliases)
	if err := s.db.WithContext(ctx).Where("canonical_name = ?", canonical).Take(&p).Error; err != nil {
		return nil, notFoundOr(err, "platform "+name)
	}
	return &p, nil
}

type platformCountRow struct {
	PlatformID      uint
	Name            string
	DiscoveryMethod string
	Apps            int64
	Featured        int64
}

// PlatformStats counts applications per platform, split by discovery method.
// Platforms without applications are included with zero counts.
func (s *Store) PlatformStats(ctx context.Context) ([]domain.PlatformStats, error) {
	var rows []platformCountRow
	err := s.db.WithContext(ctx).
		Table("platforms AS p").
		Select(`p.id AS platform_id, p.name AS name,
			COALESCE(a.discovery_method, '') AS discovery_method,
			COUNT(a.id) AS apps,
			COALESCE(SUM(CASE WHEN a.is_featured THEN 1 ELSE 0 END), 0) AS featured`).
		Joins("LEFT JOIN applications AS a ON a.platform_id = p.id").
		Group("p.id, p.name, a.discovery_method").
		Order("p.id").
		Scan(&rows).Error
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "platform stats", err)
	}

	var stats []domain.PlatformStats
	index := map[uint]int{}
	for _, r := range rows {
		i, ok := index[r.PlatformID]
		if !ok {
			stats = append(stats, domain.PlatformStats{
				PlatformID:        r.PlatformID,
				Name:              r.Name,
				ByDiscoveryMethod: map[string]int64{},
			})
			i = len(stats) - 1
			index[r.PlatformID] = i
		}
		if r.Apps == 0 {
			continue
		}
		stats[i].Applications += r.Apps
		stats[i].Featured += r.Featured
		method := r.DiscoveryMethod
		if method == "" {
			method = "unknown"
		}
		stats[i].ByDiscoveryMethod[method] += r.Apps
	}
	return stats, nil
}

// Search finds applications whose name, description or URL contains query.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]domain.Application, error) {
	if limit <= 0 {
		limit = 10
	}
	like := "%" + query + "%"

	var apps []domain.Application
	err := s.db.WithContext(ctx).
		Where("(name LIKE ? OR description LIKE ? OR url LIKE ?)", like, like, like).
		Order("is_featured DESC").
		Order("id DESC").
		Limit(limit).
		Find(&apps).Error
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "search applications", err)
	}
	return apps, nil
}

// EnrichmentCandidates returns active GitHub-hosted applications never
// enriched or last enriched before staleBefore.
func (s *Store) EnrichmentCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]domain.Application, error) {
	q := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("url LIKE ?", "https://github.com/%").
		Where("(last_enriched_at IS NULL OR last_enriched_at < ?)", staleBefore).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var apps []domain.Application
	if err := q.Find(&apps).Error; err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "list enrichment candidates", err)
	}
	return apps, nil
}

// ApplicationsWithoutTools returns applications that have no AI tool link yet.
func (s *Store) ApplicationsWithoutTools(ctx context.Context, limit int) ([]domain.Application, error) {
	q := s.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM application_ai_tools AS l WHERE l.application_id = applications.id)").
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var apps []domain.Application
	if err := q.Find(&apps).Error; err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "list applications without tools", err)
	}
	return apps, nil
}

// CountApplications returns the number of stored applications.
func (s *Store) CountApplications(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&domain.Application{}).Count(&n).Error; err != nil {
		return 0, common.WrapError(common.ErrCodeDatabase, "count applications", err)
	}
	return n, nil
}
