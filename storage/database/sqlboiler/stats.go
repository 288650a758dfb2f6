package boiledrepos

import (
	"context"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/dashboard"
)

type statsRepository struct {
	exec core.DBExecutor
}

var _ dashboard.StatsRepository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(exec core.DBExecutor) *statsRepository {
	return &statsRepository{exec: exec}
}

type keyCount struct {
	Key   string `boil:"key"`
	Count int    `boil:"count"`
}

func (repo statsRepository) counts(ctx context.Context, q string, args ...interface{}) (map[string]int, error) {
	var rows []keyCount
	if err := queries.Raw(q, args...).Bind(ctx, repo.exec, &rows); err != nil {
		return nil, err
	}
	res := make(map[string]int, len(rows))
	for _, row := range rows {
		res[row.Key] = row.Count
	}
	return res, nil
}

func (repo statsRepository) UsersByRole(ctx context.Context) (map[string]int, error) {
	res, err := repo.counts(ctx, `SELECT r AS key, COUNT(*) AS count FROM "user", UNNEST(roles) r GROUP BY r`)
	return res, errors.Wrap(err, "counting users by role")
}

func (repo statsRepository) EnrollmentStats(ctx context.Context, schoolYear string) (dashboard.EnrollmentStats, error) {
	var (
		stats dashboard.EnrollmentStats
		err   error
	)

	stats.ByStatus, err = repo.counts(ctx,
		`SELECT status AS key, COUNT(*) AS count FROM enrollment WHERE school_year = $1 GROUP BY status`, schoolYear)
	if err != nil {
		return stats, errors.Wrap(err, "counting enrollments by status")
	}

	stats.ByPaymentStatus, err = repo.counts(ctx,
		`SELECT payment_status AS key, COUNT(*) AS count FROM enrollment
		WHERE school_year = $1 AND status IN ('approved', 'enrolled') GROUP BY payment_status`, schoolYear)
	if err != nil {
		return stats, errors.Wrap(err, "counting enrollments by payment status")
	}

	var grades []struct {
		GradeLevel int `boil:"grade_level"`
		Count      int `boil:"count"`
	}
	q := `SELECT grade_level, COUNT(*) AS count FROM enrollment WHERE school_year = $1 AND status = 'enrolled' GROUP BY grade_level`
	if err = queries.Raw(q, schoolYear).Bind(ctx, repo.exec, &grades); err != nil {
		return stats, errors.Wrap(err, "counting enrolled students by grade")
	}
	stats.EnrolledByGrade = make(map[int]int, len(grades))
	for _, g := range grades {
		stats.EnrolledByGrade[g.GradeLevel] = g.Count
	}

	var totals struct {
		Sections               int        `boil:"sections"`
		ApprovedWithoutSection int        `boil:"approved_without_section"`
		Outstanding            null.Int64 `boil:"outstanding"`
		Collected              null.Int64 `boil:"collected"`
	}
	q = `SELECT
		(SELECT COUNT(*) FROM section WHERE school_year = $1) AS sections,
		(SELECT COUNT(*) FROM enrollment WHERE school_year = $1 AND status = 'approved' AND section_id IS NULL) AS approved_without_section,
		(SELECT SUM(GREATEST(tuition_fee - amount_paid, 0)) FROM enrollment
			WHERE school_year = $1 AND status IN ('approved', 'enrolled')) AS outstanding,
		(SELECT SUM(p.amount) FROM payment p JOIN enrollment e ON e.id = p.enrollment_id
			WHERE e.school_year = $1 AND p.status = 'settled') AS collected`
	if err = queries.Raw(q, schoolYear).Bind(ctx, repo.exec, &totals); err != nil {
		return stats, errors.Wrap(err, "summing enrollment totals")
	}
	stats.Sections = totals.Sections
	stats.ApprovedWithoutSection = totals.ApprovedWithoutSection
	stats.Outstanding = totals.Outstanding.Int64
	stats.Collected = totals.Collected.Int64
	return stats, nil
}

func (repo statsRepository) GuidanceStats(ctx context.Context, assignedTo string) (dashboard.GuidanceStats, error) {
	var (
		stats dashboard.GuidanceStats
		err   error
	)
	assignee := null.NewString(assignedTo, assignedTo != "")

	stats.ByStatus, err = repo.counts(ctx,
		`SELECT status AS key, COUNT(*) AS count FROM guidance_record
		WHERE $1::text IS NULL OR assigned_to::text = $1 GROUP BY status`, assignee)
	if err != nil {
		return stats, errors.Wrap(err, "counting guidance records by status")
	}

	stats.OpenBySeverity, err = repo.counts(ctx,
		`SELECT severity AS key, COUNT(*) AS count FROM guidance_record
		WHERE ($1::text IS NULL OR assigned_to::text = $1) AND status IN ('open', 'in_progress') GROUP BY severity`, assignee)
	if err != nil {
		return stats, errors.Wrap(err, "counting open guidance records")
	}
	for _, cnt := range stats.OpenBySeverity {
		stats.Open += cnt
	}
	return stats, nil
}

func (repo statsRepository) SectionEnrolled(ctx context.Context, sectionIDs []string) (map[string]int, error) {
	cnt, err := repo.counts(ctx,
		`SELECT section_id::text AS key, COUNT(*) AS count FROM enrollment
		WHERE section_id::text = ANY($1) AND status = 'enrolled' GROUP BY section_id`, pq.Array(sectionIDs))
	if err != nil {
		return nil, errors.Wrap(err, "counting section enrollments")
	}
	res := make(map[string]int, len(sectionIDs))
	for _, id := range sectionIDs {
		res[id] = cnt[id]
	}
	return res, nil
}
