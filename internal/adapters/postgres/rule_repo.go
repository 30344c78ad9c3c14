package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/annotation/internal/core/domain"
)

const ruleColumns = `
	r.id, COALESCE(r.taxon_key, 0), COALESCE(r.dataset_key, ''), r.geometry, r.annotation,
	r.basis_of_record, r.basis_of_record_negated, COALESCE(r.year_range, ''),
	COALESCE(r.ruleset_id, ''), COALESCE(r.project_id, ''),
	r.supported_by, r.contested_by, r.created, r.created_by, r.deleted, COALESCE(r.deleted_by, '')`

const upsertRuleSQL = `
	INSERT INTO rules (id, taxon_key, dataset_key, geometry, geom, annotation, basis_of_record,
	                   basis_of_record_negated, year_range, ruleset_id, project_id, created, created_by)
	VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3, ''), $4, ST_GeomFromText($4, 4326), $5, $6,
	        $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	ON CONFLICT (id) DO UPDATE
	SET taxon_key = EXCLUDED.taxon_key, dataset_key = EXCLUDED.dataset_key,
	    geometry = EXCLUDED.geometry, geom = EXCLUDED.geom, annotation = EXCLUDED.annotation,
	    basis_of_record = EXCLUDED.basis_of_record,
	    basis_of_record_negated = EXCLUDED.basis_of_record_negated,
	    year_range = EXCLUDED.year_range, ruleset_id = EXCLUDED.ruleset_id,
	    project_id = EXCLUDED.project_id`

// RuleRepo implements ports.RuleRepository with pgx and PostGIS.
type RuleRepo struct {
	db *DB
}

// NewRuleRepo creates a new RuleRepo.
func NewRuleRepo(db *DB) *RuleRepo {
	return &RuleRepo{db: db}
}

func upsertArgs(r *domain.Rule) []any {
	bor := r.BasisOfRecord
	if bor == nil {
		bor = []string{}
	}
	return []any{
		r.ID, r.TaxonKey, r.DatasetKey, r.Geometry, string(r.Annotation), bor,
		r.BasisOfRecordNegated, r.YearRange, r.RulesetID, r.ProjectID, r.Created, r.CreatedBy,
	}
}

// Create inserts a new rule.
func (r *RuleRepo) Create(ctx context.Context, rule *domain.Rule) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rules (id, taxon_key, dataset_key, geometry, geom, annotation, basis_of_record,
		                   basis_of_record_negated, year_range, ruleset_id, project_id, created, created_by)
		VALUES ($1, NULLIF($2::bigint, 0), NULLIF($3, ''), $4, ST_GeomFromText($4, 4326), $5, $6,
		        $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)
	`, upsertArgs(rule)...)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Upsert inserts or replaces a rule's content, keeping its votes.
func (r *RuleRepo) Upsert(ctx context.Context, rule *domain.Rule) error {
	_, err := r.db.Pool.Exec(ctx, upsertRuleSQL, upsertArgs(rule)...)
	return err
}

// UpsertBatch upserts many rules using pgx.Batch.
func (r *RuleRepo) UpsertBatch(ctx context.Context, rules []domain.Rule) error {
	batch := &pgx.Batch{}
	for i := range rules {
		batch.Queue(upsertRuleSQL, upsertArgs(&rules[i])...)
	}
	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range rules {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec rule %s: %w", rules[i].ID, err)
		}
	}
	return nil
}

// GetByID returns a rule by id, deleted or not.
func (r *RuleRepo) GetByID(ctx context.Context, id string) (*domain.Rule, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules r WHERE r.id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// List returns one page of non-deleted rules, newest first, with the total count.
func (r *RuleRepo) List(ctx context.Context, f domain.RuleFilter) ([]domain.Rule, int, error) {
	var w where
	w.add("r.deleted IS NULL")
	if f.TaxonKey != nil {
		w.add("r.taxon_key = $?", *f.TaxonKey)
	}
	if f.DatasetKey != "" {
		w.add("r.dataset_key = $?", f.DatasetKey)
	}
	if f.RulesetID != "" {
		w.add("r.ruleset_id = $?", f.RulesetID)
	}
	if f.ProjectID != "" {
		w.add("r.project_id = $?", f.ProjectID)
	}
	if len(f.BasisOfRecord) > 0 {
		w.add("r.basis_of_record @> $?", f.BasisOfRecord)
	}
	if f.BasisOfRecordNegated != nil {
		w.add("r.basis_of_record_negated = $?", *f.BasisOfRecordNegated)
	}
	if f.YearRange != "" {
		w.add("r.year_range = $?", f.YearRange)
	}
	if f.Geometry != "" {
		w.add("ST_Intersects(r.geom, ST_GeomFromText($?, 4326))", f.Geometry)
	}
	if f.CreatedBy != "" {
		w.add("r.created_by = $?", f.CreatedBy)
	}
	if f.SupportedBy != "" {
		w.add("$? = ANY(r.supported_by)", f.SupportedBy)
	}
	if f.ContestedBy != "" {
		w.add("$? = ANY(r.contested_by)", f.ContestedBy)
	}
	if f.Comment != "" {
		w.add(`EXISTS (SELECT 1 FROM rule_comments c
			WHERE c.rule_id = r.id AND c.deleted IS NULL AND c.comment ILIKE '%' || $? || '%')`, f.Comment)
	}

	args := append(w.args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total
		FROM rules r
		WHERE %s
		ORDER BY r.created DESC, r.id
		LIMIT $%d OFFSET $%d
	`, ruleColumns, w.String(), len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	rules := []domain.Rule{}
	total := 0
	for rows.Next() {
		rule, err := scanRule(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(rules) == 0 && f.Offset > 0 {
		// count(*) OVER() is empty past the last page
		if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM rules r WHERE `+w.String(), w.args...).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return rules, total, nil
}

// Update replaces the editable fields of a live rule.
func (r *RuleRepo) Update(ctx context.Context, rule *domain.Rule) error {
	args := upsertArgs(rule)
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE rules
		SET taxon_key = NULLIF($2::bigint, 0), dataset_key = NULLIF($3, ''),
		    geometry = $4, geom = ST_GeomFromText($4, 4326), annotation = $5,
		    basis_of_record = $6, basis_of_record_negated = $7, year_range = NULLIF($8, ''),
		    ruleset_id = NULLIF($9, ''), project_id = NULLIF($10, '')
		WHERE id = $1 AND deleted IS NULL
	`, args[:10]...)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, domain.ErrNotFound)
	}
	return nil
}

// UpdateGeometry rewrites only the geometry, used by normalisation.
func (r *RuleRepo) UpdateGeometry(ctx context.Context, id, geometry string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE rules SET geometry = $2, geom = ST_GeomFromText($2, 4326) WHERE id = $1
	`, id, geometry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete marks a rule deleted.
func (r *RuleRepo) Delete(ctx context.Context, id, user string) error {
	return r.exec(ctx, id, `
		UPDATE rules SET deleted = now(), deleted_by = $2 WHERE id = $1 AND deleted IS NULL
	`, user)
}

// AddSupport adds user to supported_by and removes them from contested_by.
func (r *RuleRepo) AddSupport(ctx context.Context, id, user string) error {
	return r.exec(ctx, id, `
		UPDATE rules
		SET supported_by = array_append(array_remove(supported_by, $2), $2),
		    contested_by = array_remove(contested_by, $2)
		WHERE id = $1 AND deleted IS NULL
	`, user)
}

// RemoveSupport removes user from supported_by.
func (r *RuleRepo) RemoveSupport(ctx context.Context, id, user string) error {
	return r.exec(ctx, id, `
		UPDATE rules SET supported_by = array_remove(supported_by, $2) WHERE id = $1 AND deleted IS NULL
	`, user)
}

// AddContest adds user to contested_by and removes them from supported_by.
func (r *RuleRepo) AddContest(ctx context.Context, id, user string) error {
	return r.exec(ctx, id, `
		UPDATE rules
		SET contested_by = array_append(array_remove(contested_by, $2), $2),
		    supported_by = array_remove(supported_by, $2)
		WHERE id = $1 AND deleted IS NULL
	`, user)
}

// RemoveContest removes user from contested_by.
func (r *RuleRepo) RemoveContest(ctx context.Context, id, user string) error {
	return r.exec(ctx, id, `
		UPDATE rules SET contested_by = array_remove(contested_by, $2) WHERE id = $1 AND deleted IS NULL
	`, user)
}

// Metrics aggregates counts over non-deleted rules.
func (r *RuleRepo) Metrics(ctx context.Context, f domain.MetricsFilter) (*domain.RuleMetrics, error) {
	var w where
	w.add("r.deleted IS NULL")
	if f.Username != "" {
		w.add("r.created_by = $?", f.Username)
	}
	if f.TaxonKey != nil {
		w.add("r.taxon_key = $?", *f.TaxonKey)
	}
	if f.DatasetKey != "" {
		w.add("r.dataset_key = $?", f.DatasetKey)
	}
	if f.RulesetID != "" {
		w.add("r.ruleset_id = $?", f.RulesetID)
	}
	if f.ProjectID != "" {
		w.add("r.project_id = $?", f.ProjectID)
	}

	var m domain.RuleMetrics
	err := r.db.Pool.QueryRow(ctx, `
		SELECT count(*),
		       count(DISTINCT r.taxon_key),
		       count(DISTINCT r.dataset_key),
		       count(DISTINCT r.project_id),
		       COALESCE(sum(cardinality(r.supported_by)), 0)::bigint,
		       COALESCE(sum(cardinality(r.contested_by)), 0)::bigint,
		       COALESCE(sum((SELECT count(*) FROM rule_comments c
		                     WHERE c.rule_id = r.id AND c.deleted IS NULL)), 0)::bigint
		FROM rules r
		WHERE `+w.String(), w.args...).Scan(
		&m.RuleCount, &m.TaxonCount, &m.DatasetCount, &m.ProjectCount,
		&m.SupportCount, &m.ContestCount, &m.CommentCount,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *RuleRepo) exec(ctx context.Context, id, sql string, user string) error {
	tag, err := r.db.Pool.Exec(ctx, sql, id, user)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// scanRule reads ruleColumns, then any extra destinations.
func scanRule(row pgx.Row, extra ...any) (*domain.Rule, error) {
	var (
		rule       domain.Rule
		annotation string
	)
	dest := []any{
		&rule.ID, &rule.TaxonKey, &rule.DatasetKey, &rule.Geometry, &annotation,
		&rule.BasisOfRecord, &rule.BasisOfRecordNegated, &rule.YearRange,
		&rule.RulesetID, &rule.ProjectID,
		&rule.SupportedBy, &rule.ContestedBy, &rule.Created, &rule.CreatedBy, &rule.Deleted, &rule.DeletedBy,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rule.Annotation = domain.AnnotationType(annotation)
	return &rule, nil
}

// where accumulates AND-ed conditions; "$?" becomes the next placeholder.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "$?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	return strings.Join(w.conds, " AND ")
}
