package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"seo-rules-engine/internal/rules"
)

type siteModel struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"not null"`
	Key            string `gorm:"uniqueIndex;not null"`
	Brand          string
	CreatedAt      time.Time
}

func (siteModel) TableName() string { return "sites" }

// ruleModel keeps JSON documents as text; SQLite has no JSONB.
type ruleModel struct {
	SiteID         string `gorm:"primaryKey"`
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"not null"`
	Name           string `gorm:"not null"`
	Description    string
	Status         string `gorm:"index;not null"`
	Priority       int
	Targeting      string `gorm:"not null"`
	Modifications  string `gorm:"not null"`
	ABTesting      *string
	Schedule       *string
	Impressions    int64
	Successes      int64
	LastApplied    *time.Time
	CreatedAt      time.Time
}

func (ruleModel) TableName() string { return "seo_rules" }

type performanceModel struct {
	ID         uint `gorm:"primaryKey"`
	SiteID     string `gorm:"index;not null"`
	RuleID     string `gorm:"index;not null"`
	URL        string
	Variant    string
	LoadTimeMs float64
	Success    bool
	RecordedAt time.Time `gorm:"autoCreateTime"`
}

func (performanceModel) TableName() string { return "rule_performance" }

// SQLite is the single-node Store, backed by a pure-Go SQLite driver.
type SQLite struct {
	db *gorm.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger:         newGormLogger(),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under concurrent impressions
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetMaxOpenConns(1)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLite) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&siteModel{}, &ruleModel{}, &performanceModel{})
}

func (s *SQLite) LoadActiveRules(ctx context.Context) ([]SiteRules, error) {
	db := s.db.WithContext(ctx)
	var sites []siteModel
	if err := db.Order("key").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	var rows []ruleModel
	err := db.Where("status = ?", string(rules.StatusActive)).
		Order("site_id, created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}

	out := make([]SiteRules, len(sites))
	bySite := make(map[string]*SiteRules, len(sites))
	for i, m := range sites {
		out[i] = SiteRules{Site: m.site()}
		bySite[m.ID] = &out[i]
	}
	for _, m := range rows {
		sr, ok := bySite[m.SiteID]
		if !ok || sr.Site.OrganizationID != m.OrganizationID {
			continue
		}
		r, err := m.rule()
		if err != nil {
			return nil, err
		}
		sr.Rules = append(sr.Rules, r)
	}
	return out, nil
}

func (s *SQLite) RecordImpression(ctx context.Context, siteKey string, imp Impression) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		site, err := findSite(tx, siteKey)
		if err != nil {
			return err
		}
		success := 0
		if imp.Success {
			success = 1
		}
		res := tx.Model(&ruleModel{}).
			Where("site_id = ? AND organization_id = ? AND id = ?", site.ID, site.OrganizationID, imp.RuleID).
			Updates(map[string]any{
				"impressions":  gorm.Expr("impressions + 1"),
				"successes":    gorm.Expr("successes + ?", success),
				"last_applied": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("update counters: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("rule %s/%s: %w", siteKey, imp.RuleID, ErrNotFound)
		}
		return tx.Create(&performanceModel{
			SiteID:     site.ID,
			RuleID:     imp.RuleID,
			URL:        imp.URL,
			Variant:    imp.Variant,
			LoadTimeMs: imp.LoadTimeMs,
			Success:    imp.Success,
		}).Error
	})
}

func (s *SQLite) UpsertSite(ctx context.Context, site Site) (Site, error) {
	if site.Key == "" || site.OrganizationID == "" {
		return site, errors.New("site needs a key and an organization")
	}
	db := s.db.WithContext(ctx)
	existing, err := findSite(db, site.Key)
	switch {
	case err == nil:
		if err := db.Model(&siteModel{}).Where("id = ?", existing.ID).Update("brand", site.Brand).Error; err != nil {
			return site, fmt.Errorf("update site: %w", err)
		}
		existing.Brand = site.Brand
		return existing.site(), nil
	case !errors.Is(err, ErrNotFound):
		return site, err
	}
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	m := siteModel{ID: site.ID, OrganizationID: site.OrganizationID, Key: site.Key, Brand: site.Brand}
	if err := db.Create(&m).Error; err != nil {
		return site, fmt.Errorf("create site: %w", err)
	}
	return m.site(), nil
}

func (s *SQLite) UpsertRules(ctx context.Context, site Site, rs []rules.Rule) error {
	models := make([]ruleModel, 0, len(rs))
	now := time.Now().UTC()
	for i := range rs {
		r := &rs[i]
		if err := r.Validate(); err != nil {
			return err
		}
		m, err := modelOf(site, r)
		if err != nil {
			return err
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = createdAt(now, i)
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "description", "status", "priority", "targeting", "modifications", "ab_testing", "schedule",
		}),
	}).Create(&models).Error
	if err != nil {
		return fmt.Errorf("upsert rules: %w", err)
	}
	return nil
}

func (s *SQLite) Rules(ctx context.Context, siteKey string) ([]rules.Rule, error) {
	db := s.db.WithContext(ctx)
	site, err := findSite(db, siteKey)
	if err != nil {
		return nil, err
	}
	var rows []ruleModel
	err = db.Where("site_id = ? AND organization_id = ?", site.ID, site.OrganizationID).
		Order("priority DESC, created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	out := make([]rules.Rule, 0, len(rows))
	for _, m := range rows {
		r, err := m.rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func findSite(db *gorm.DB, key string) (siteModel, error) {
	var m siteModel
	err := db.Where("key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, fmt.Errorf("site %q: %w", key, ErrNotFound)
	}
	return m, err
}

func (m siteModel) site() Site {
	return Site{ID: m.ID, OrganizationID: m.OrganizationID, Key: m.Key, Brand: m.Brand}
}

func modelOf(site Site, r *rules.Rule) (ruleModel, error) {
	targeting, err := json.Marshal(r.Targeting)
	if err != nil {
		return ruleModel{}, err
	}
	mods, err := json.Marshal(r.Modifications)
	if err != nil {
		return ruleModel{}, err
	}
	m := ruleModel{
		SiteID:         site.ID,
		ID:             r.ID,
		OrganizationID: site.OrganizationID,
		Name:           r.Name,
		Description:    r.Description,
		Status:         string(r.Status),
		Priority:       r.Priority,
		Targeting:      string(targeting),
		Modifications:  string(mods),
		CreatedAt:      r.CreatedAt,
	}
	if b := nullableJSON(r.ABTesting); b != nil {
		v := string(b)
		m.ABTesting = &v
	}
	if b := nullableJSON(r.Schedule); b != nil {
		v := string(b)
		m.Schedule = &v
	}
	return m, nil
}

func (m ruleModel) rule() (rules.Rule, error) {
	r := rules.Rule{
		ID:             m.ID,
		SiteID:         m.SiteID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Description:    m.Description,
		Status:         rules.Status(m.Status),
		Priority:       m.Priority,
		CreatedAt:      m.CreatedAt,
		Stats: rules.Stats{
			Impressions: m.Impressions,
			LastApplied: m.LastApplied,
			SuccessRate: successRate(m.Impressions, m.Successes),
		},
	}
	if err := json.Unmarshal([]byte(m.Targeting), &r.Targeting); err != nil {
		return r, fmt.Errorf("rule %s targeting: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(m.Modifications), &r.Modifications); err != nil {
		return r, fmt.Errorf("rule %s modifications: %w", r.ID, err)
	}
	if m.ABTesting != nil {
		if err := json.Unmarshal([]byte(*m.ABTesting), &r.ABTesting); err != nil {
			return r, fmt.Errorf("rule %s abTesting: %w", r.ID, err)
		}
	}
	if m.Schedule != nil {
		if err := json.Unmarshal([]byte(*m.Schedule), &r.Schedule); err != nil {
			return r, fmt.Errorf("rule %s schedule: %w", r.ID, err)
		}
	}
	return r, nil
}
