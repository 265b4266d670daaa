package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vibe-apps-miner/internal/adapter/dedup"
	"vibe-apps-miner/internal/common"
	"vibe-apps-miner/internal/domain"
)

// Store is the unified store for platforms, applications, GitHub metadata
// and AI tool links. It implements port.Repository.
type Store struct {
	db      *gorm.DB
	aliases map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithAliases adds platform aliases on top of domain.DefaultPlatformAliases.
func WithAliases(aliases map[string]string) Option {
	return func(s *Store) {
		s.aliases = aliases
	}
}

// Open connects to the database for driver ("sqlite", "postgres" or "mysql") and
// migrates the schema.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(mysqlDSN(dsn))
	default:
		return nil, common.NewError(common.ErrCodeConfig, fmt.Sprintf("unsupported database driver %q", driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(os.Stderr),
	})
	if err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "connect database", err)
	}

	if driver == "sqlite" || driver == "" {
		// A single connection serialises writers instead of failing with
		// "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, common.WrapError(common.ErrCodeDatabase, "connect database", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(domain.AllModels()...); err != nil {
		return nil, common.WrapError(common.ErrCodeDatabase, "migrate schema", err)
	}

	return NewStore(db, opts...), nil
}

// newGormLogger reports slow queries and failures. A lookup miss is an
// expected outcome here, not an error.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// NewStore wraps an already migrated connection.
func NewStore(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// mysqlDSN makes the driver scan DATETIME columns into time.Time.
func mysqlDSN(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "parseTime=true&charset=utf8mb4"
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "vibe_apps.db"
	}
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=1&_busy_timeout=5000"
}

// UpsertPlatform returns the id of the platform named in, creating it when
// its canonical name is new. Known platforms get non-empty metadata refreshed.
func (s *Store) UpsertPlatform(ctx context.Context, in domain.PlatformInput) (uint, error) {
	canonical := domain.CanonicalPlatformName(in.Name, s.aliases)
	if canonical == "" {
		return 0, common.NewError(common.ErrCodeInvalidInput, "platform name is empty")
	}

	var id uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p := domain.Platform{
			Name:           strings.TrimSpace(in.Name),
			CanonicalName:  canonical,
			BaseURL:        in.BaseURL,
			Description:    in.Description,
			ScrapingMethod: in.ScrapingMethod,
			LastScrapedAt:  in.ScrapedAt,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "canonical_name"}},
			DoNothing: true,
		}).Create(&p)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			id = p.ID
			return nil
		}

		var existing domain.Platform
		if err := tx.Where("canonical_name = ?", canonical).Take(&existing).Error; err != nil {
			return err
		}
		id = existing.ID

		updates := map[string]any{}
		if in.BaseURL != "" && in.BaseURL != existing.BaseURL {
			updates["base_url"] = in.BaseURL
		}
		if in.Description != "" && in.Description != existing.Description {
			updates["description"] = in.Description
		}
		if in.ScrapingMethod != "" && in.ScrapingMethod != existing.ScrapingMethod {
			updates["scraping_method"] = in.ScrapingMethod
		}
		if in.ScrapedAt != nil {
			updates["last_scraped_at"] = *in.ScrapedAt
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&existing).Updates(updates).Error
	})
	if err != nil {
		return 0, common.WrapError(common.ErrCodeDatabase, "upsert platform "+in.Name, err)
	}
	return id, nil
}

// UpsertApplication stores rec under platformID. In ModeIngest an identity
// that already exists is left untouched; in ModeRefresh its mutable fields
// are updated. inserted is true only when a new row was created. A unique
// constraint conflict from a concurrent writer counts as "already exists".
func (s *Store) UpsertApplication(ctx context.Context, platformID uint, rec domain.NormalizedRecord, mode domain.IngestMode) (id uint, inserted bool, err error) {
	key := dedup.IdentityKey(rec)
	if key == "" {
		return 0, false, common.NewError(common.ErrCodeInvalidInput, "record has no identity")
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Application
		lookupErr := tx.Where("platform_id = ? AND identity_key = ?", platformID, key).Take(&existing).Error
		if lookupErr != nil && !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
			return lookupErr
		}

		switch dedup.Decide(lookupErr == nil, mode) {
		case domain.DecisionSkip:
			id = existing.ID
			return nil
		case domain.DecisionUpdate:
			id = existing.ID
			updates := refreshColumns(rec)
			if len(updates) == 0 {
				return nil
			}
			return tx.Model(&existing).Updates(updates).Error
		}

		app := newApplication(platformID, key, rec)
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_id"}, {Name: "identity_key"}},
			DoNothing: true,
		}).Create(&app)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if err := tx.Where("platform_id = ? AND identity_key = ?", platformID, key).Take(&existing).Error; err != nil {
				return err
			}
			id = existing.ID
			return nil
		}
		id, inserted = app.ID, true
		return nil
	})
	if err != nil {
		return 0, false, common.WrapError(common.ErrCodeDatabase, "upsert application "+key, err)
	}
	return id, inserted, nil
}

func newApplication(platformID uint, key string, rec domain.NormalizedRecord) domain.Application {
	app := domain.Application{
		PlatformID:      platformID,
		IdentityKey:     key,
		ExternalID:      rec.ExternalID,
		Name:            rec.Name,
		Description:     rec.Description,
		URL:             rec.URL,
		DiscoveryMethod: rec.DiscoveryMethod,
		IsActive:        true,
		IsFeatured:      rec.Featured,
		SourceCreatedAt: rec.CreatedAt,
		SourceUpdatedAt: rec.UpdatedAt,
	}
	if len(rec.Raw) > 0 {
		app.RawData = datatypes.JSON(rec.Raw)
	}
	return app
}

// refreshColumns lists the mutable fields a refresh may overwrite. Empty
// values never clear stored data.
func refreshColumns(rec domain.NormalizedRecord) map[string]any {
	updates := map[string]any{}
	if rec.Name != "" {
		updates["name"] = rec.Name
	}
	if rec.Description != "" {
		updates["description"] = rec.Description
	}
	if rec.URL != "" {
		updates["url"] = rec.URL
	}
	if rec.UpdatedAt != nil {
		updates["source_updated_at"] = *rec.UpdatedAt
	}
	if rec.Featured {
		updates["is_featured"] = true
	}
	if len(rec.Raw) > 0 {
		updates["raw_data"] = datatypes.JSON(rec.Raw)
	}
	return updates
}
