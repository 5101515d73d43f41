package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"seo-rules-engine/internal/config"
	"seo-rules-engine/internal/rules"
)

type Postgres struct {
	pool    *pgxpool.Pool
	channel string
}

var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func NewPostgres(ctx context.Context, cfg config.Config) (*Postgres, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	if !channelName.MatchString(cfg.Listener.Channel) {
		return nil, fmt.Errorf("invalid listener channel %q", cfg.Listener.Channel)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Postgres{pool: pool, channel: cfg.Listener.Channel}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sites (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			key             TEXT NOT NULL UNIQUE,
			brand           TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS seo_rules (
			id              TEXT NOT NULL,
			site_id         TEXT NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
			organization_id TEXT NOT NULL,
			name            TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			priority        INT NOT NULL DEFAULT 0,
			targeting       JSONB NOT NULL,
			modifications   JSONB NOT NULL,
			ab_testing      JSONB,
			schedule        JSONB,
			impressions     BIGINT NOT NULL DEFAULT 0,
			successes       BIGINT NOT NULL DEFAULT 0,
			last_applied    TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (site_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS seo_rules_active ON seo_rules (status) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS rule_performance (
			id           BIGSERIAL PRIMARY KEY,
			site_id      TEXT NOT NULL,
			rule_id      TEXT NOT NULL,
			url          TEXT NOT NULL,
			variant      TEXT NOT NULL DEFAULT '',
			load_time_ms DOUBLE PRECISION NOT NULL,
			success      BOOLEAN NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION seo_rules_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', TG_TABLE_NAME);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, s.channel),
		`DROP TRIGGER IF EXISTS seo_rules_changed ON seo_rules`,
		// counters are excluded so impressions do not trigger a rebuild
		`CREATE TRIGGER seo_rules_changed
			AFTER INSERT OR DELETE OR UPDATE OF name, status, priority, targeting, modifications, ab_testing, schedule
			ON seo_rules FOR EACH STATEMENT EXECUTE FUNCTION seo_rules_notify()`,
		`DROP TRIGGER IF EXISTS sites_changed ON sites`,
		`CREATE TRIGGER sites_changed AFTER INSERT OR UPDATE OR DELETE ON sites
			FOR EACH STATEMENT EXECUTE FUNCTION seo_rules_notify()`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const ruleColumns = `r.id, r.site_id, r.organization_id, r.name, r.description, r.status, r.priority,
	r.targeting, r.modifications, r.ab_testing, r.schedule, r.impressions, r.successes, r.last_applied, r.created_at`

type ruleRow struct {
	rules.Rule
	targeting, modifications, abTesting, schedule []byte
	successes                                     int64
}

func (row *ruleRow) dest() []any {
	return []any{
		&row.ID, &row.SiteID, &row.OrganizationID, &row.Name, &row.Description, &row.Status, &row.Priority,
		&row.targeting, &row.modifications, &row.abTesting, &row.schedule,
		&row.Stats.Impressions, &row.successes, &row.Stats.LastApplied, &row.CreatedAt,
	}
}

func (row *ruleRow) decode() (rules.Rule, error) {
	r := row.Rule
	if err := json.Unmarshal(row.targeting, &r.Targeting); err != nil {
		return r, fmt.Errorf("rule %s targeting: %w", r.ID, err)
	}
	if err := json.Unmarshal(row.modifications, &r.Modifications); err != nil {
		return r, fmt.Errorf("rule %s modifications: %w", r.ID, err)
	}
	if len(row.abTesting) > 0 {
		if err := json.Unmarshal(row.abTesting, &r.ABTesting); err != nil {
			return r, fmt.Errorf("rule %s abTesting: %w", r.ID, err)
		}
	}
	if len(row.schedule) > 0 {
		if err := json.Unmarshal(row.schedule, &r.Schedule); err != nil {
			return r, fmt.Errorf("rule %s schedule: %w", r.ID, err)
		}
	}
	r.Stats.SuccessRate = successRate(r.Stats.Impressions, row.successes)
	return r, nil
}

// LoadActiveRules loads every site with its active rules. Sites without
// active rules are included so their keys resolve.
func (s *Postgres) LoadActiveRules(ctx context.Context) ([]SiteRules, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	sites, err := s.sites(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM seo_rules r
		JOIN sites s ON s.id = r.site_id AND s.organization_id = r.organization_id
		WHERE r.status = 'active'
		ORDER BY r.site_id, r.created_at, r.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	bySite := map[string]*SiteRules{}
	out := make([]SiteRules, 0, len(sites))
	for _, site := range sites {
		out = append(out, SiteRules{Site: site})
	}
	for i := range out {
		bySite[out[i].Site.ID] = &out[i]
	}
	for rows.Next() {
		var row ruleRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r, err := row.decode()
		if err != nil {
			return nil, err
		}
		if sr, ok := bySite[r.SiteID]; ok {
			sr.Rules = append(sr.Rules, r)
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Postgres) sites(ctx context.Context) ([]Site, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, organization_id, key, brand FROM sites ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query sites: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Site, error) {
		var st Site
		err := row.Scan(&st.ID, &st.OrganizationID, &st.Key, &st.Brand)
		return st, err
	})
}

func (s *Postgres) site(ctx context.Context, key string) (Site, error) {
	var st Site
	err := s.pool.QueryRow(ctx, `SELECT id, organization_id, key, brand FROM sites WHERE key = $1`, key).
		Scan(&st.ID, &st.OrganizationID, &st.Key, &st.Brand)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("site %q: %w", key, ErrNotFound)
	}
	return st, err
}

// RecordImpression bumps the rule counters and stores one performance sample.
func (s *Postgres) RecordImpression(ctx context.Context, siteKey string, imp Impression) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var siteID string
		err := tx.QueryRow(ctx, `
			UPDATE seo_rules r
			SET impressions = r.impressions + 1,
			    successes = r.successes + CASE WHEN $3 THEN 1 ELSE 0 END,
			    last_applied = now()
			FROM sites s
			WHERE s.id = r.site_id AND s.organization_id = r.organization_id
			  AND s.key = $1 AND r.id = $2
			RETURNING r.site_id
		`, siteKey, imp.RuleID, imp.Success).Scan(&siteID)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rule %s/%s: %w", siteKey, imp.RuleID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("update counters: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rule_performance (site_id, rule_id, url, variant, load_time_ms, success)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, siteID, imp.RuleID, imp.URL, imp.Variant, imp.LoadTimeMs, imp.Success)
		if err != nil {
			return fmt.Errorf("insert sample: %w", err)
		}
		return nil
	})
}

func (s *Postgres) UpsertSite(ctx context.Context, site Site) (Site, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if site.Key == "" || site.OrganizationID == "" {
		return site, errors.New("site needs a key and an organization")
	}
	if site.ID == "" {
		site.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sites (id, organization_id, key, brand) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET brand = EXCLUDED.brand
		RETURNING id, organization_id
	`, site.ID, site.OrganizationID, site.Key, site.Brand).Scan(&site.ID, &site.OrganizationID)
	if err != nil {
		return site, fmt.Errorf("upsert site: %w", err)
	}
	return site, nil
}

// UpsertRules writes rule definitions for site. Counters are never reset.
func (s *Postgres) UpsertRules(ctx context.Context, site Site, rs []rules.Rule) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	b := &pgx.Batch{}
	now := time.Now().UTC()
	for i := range rs {
		r := &rs[i]
		if err := r.Validate(); err != nil {
			return err
		}
		targeting, _ := json.Marshal(r.Targeting)
		mods, _ := json.Marshal(r.Modifications)
		ab, sched := nullableJSON(r.ABTesting), nullableJSON(r.Schedule)
		created := r.CreatedAt
		if created.IsZero() {
			created = createdAt(now, i)
		}
		b.Queue(`
			INSERT INTO seo_rules (id, site_id, organization_id, name, description, status, priority,
			                       targeting, modifications, ab_testing, schedule, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (site_id, id) DO UPDATE SET
				name = EXCLUDED.name, description = EXCLUDED.description, status = EXCLUDED.status,
				priority = EXCLUDED.priority, targeting = EXCLUDED.targeting,
				modifications = EXCLUDED.modifications, ab_testing = EXCLUDED.ab_testing,
				schedule = EXCLUDED.schedule
		`, r.ID, site.ID, site.OrganizationID, r.Name, r.Description, string(r.Status), r.Priority,
			targeting, mods, ab, sched, created)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("upsert rules: %w", err)
		}
		return nil
	})
}

func nullableJSON[T any](v *T) []byte {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

// Rules returns every rule of a site regardless of status, with stats.
func (s *Postgres) Rules(ctx context.Context, siteKey string) ([]rules.Rule, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	site, err := s.site(ctx, siteKey)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM seo_rules r
		WHERE r.site_id = $1 AND r.organization_id = $2
		ORDER BY r.priority DESC, r.created_at, r.id
	`, site.ID, site.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var row ruleRow
		if err := rows.Scan(row.dest()...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ListenChannel() string { return s.channel }

func (s *Postgres) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
