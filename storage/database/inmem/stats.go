package inmemdb

import (
	"context"

	"github.com/trezcool/campus/core/dashboard"
	"github.com/trezcool/campus/core/enrollment"
	"github.com/trezcool/campus/core/guidance"
)

type statsRepository struct {
	db *DB
}

var _ dashboard.StatsRepository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *DB) *statsRepository {
	return &statsRepository{db: db}
}

func (repo *statsRepository) UsersByRole(_ context.Context) (map[string]int, error) {
	repo.db.user.RLock()
	defer repo.db.user.RUnlock()

	res := make(map[string]int)
	for _, usr := range repo.db.user.table {
		for _, role := range usr.Roles {
			res[role]++
		}
	}
	return res, nil
}

func (repo *statsRepository) EnrollmentStats(_ context.Context, schoolYear string) (dashboard.EnrollmentStats, error) {
	repo.db.section.RLock()
	defer repo.db.section.RUnlock()
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()
	repo.db.payment.RLock()
	defer repo.db.payment.RUnlock()

	res := dashboard.EnrollmentStats{
		ByStatus:        make(map[string]int),
		ByPaymentStatus: make(map[string]int),
		EnrolledByGrade: make(map[int]int),
	}
	for _, sec := range repo.db.section.table {
		if sec.SchoolYear == schoolYear {
			res.Sections++
		}
	}

	yearEnrollments := make(map[string]struct{})
	for _, e := range repo.db.enrollment.table {
		if e.SchoolYear != schoolYear {
			continue
		}
		yearEnrollments[e.ID] = struct{}{}
		res.ByStatus[e.Status]++
		if e.AcceptsPayments() {
			res.ByPaymentStatus[e.PaymentStatus]++
			res.Outstanding += e.Balance()
		}
		switch e.Status {
		case enrollment.StatusEnrolled:
			res.EnrolledByGrade[e.GradeLevel]++
		case enrollment.StatusApproved:
			if e.SectionID == "" {
				res.ApprovedWithoutSection++
			}
		}
	}

	for _, p := range repo.db.payment.table {
		if _, ok := yearEnrollments[p.EnrollmentID]; ok && p.IsSettled() {
			res.Collected += p.Amount
		}
	}
	return res, nil
}

func (repo *statsRepository) GuidanceStats(_ context.Context, assignedTo string) (dashboard.GuidanceStats, error) {
	repo.db.guidance.RLock()
	defer repo.db.guidance.RUnlock()

	res := dashboard.GuidanceStats{
		ByStatus:       make(map[string]int),
		OpenBySeverity: make(map[string]int),
	}
	for _, rec := range repo.db.guidance.table {
		if assignedTo != "" && rec.AssignedTo != assignedTo {
			continue
		}
		res.ByStatus[rec.Status]++
		if rec.Status == guidance.StatusOpen || rec.Status == guidance.StatusInProgress {
			res.Open++
			res.OpenBySeverity[rec.Severity]++
		}
	}
	return res, nil
}

func (repo *statsRepository) SectionEnrolled(_ context.Context, sectionIDs []string) (map[string]int, error) {
	repo.db.enrollment.RLock()
	defer repo.db.enrollment.RUnlock()

	res := make(map[string]int, len(sectionIDs))
	for _, id := range sectionIDs {
		res[id] = 0
	}
	for _, e := range repo.db.enrollment.table {
		if _, ok := res[e.SectionID]; ok && e.Status == enrollment.StatusEnrolled {
			res[e.SectionID]++
		}
	}
	return res, nil
}
