package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicfix/civicfix-api/internal/models"
)

const reportColumns = `id, type, severity_score, status, danger_reason, recommended_action, latitude, longitude, address, image_path, user_id, user_name, user_email, created_at, updated_at`

// ReportRepository provides database access for citizen reports.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new instance of ReportRepository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report. Reports always start in OPEN.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	if report.Status == "" {
		report.Status = models.StatusOpen
	}

	const query = `INSERT INTO reports (id, type, severity_score, status, danger_reason, recommended_action, latitude, longitude, address, image_path, user_id, user_name, user_email, created_at, updated_at) VALUES (:id, :type, :severity_score, :status, :danger_reason, :recommended_action, :latitude, :longitude, :address, :image_path, :user_id, :user_name, :user_email, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID returns a report by identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	query := fmt.Sprintf(`SELECT %s FROM reports WHERE id = $1 LIMIT 1`, reportColumns)
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// List returns reports matching the filter. The text search matches the
// issue type and the resolved address, case-insensitively.
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	baseQuery := `FROM reports WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.MinSeverity != nil {
		conditions = append(conditions, fmt.Sprintf("severity_score >= $%d", len(args)+1))
		args = append(args, *filter.MinSeverity)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(type ILIKE $%d OR COALESCE(address, '') ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	orderBy := "created_at DESC"
	switch filter.Sort {
	case models.SortOldest:
		orderBy = "created_at ASC"
	case models.SortSeverityDesc:
		orderBy = "severity_score DESC, created_at DESC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s LIMIT %d", reportColumns, baseQuery, orderBy, limit)

	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, listQuery, args...); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// UpdateStatus moves a report to the given triage state. Any state may
// follow any other, so there is no transition check here.
func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	const query = `UPDATE reports SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a report permanently. The author's reports_count is left
// untouched; it counts submissions, not surviving rows.
func (r *ReportRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM reports WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Aggregate rolls up the entire reports table for the dashboard. The
// severity buckets mirror models.BucketForScore: high is 7 and above,
// low is 3 and below.
func (r *ReportRepository) Aggregate(ctx context.Context, todayStart time.Time) (*models.ReportAggregate, error) {
	const totalsQuery = `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE created_at >= $1) AS today,
		COALESCE(AVG(severity_score), 0) AS avg_severity,
		COUNT(*) FILTER (WHERE status = 'OPEN') AS open_count,
		COUNT(*) FILTER (WHERE status = 'IN_PROGRESS') AS in_progress_count,
		COUNT(*) FILTER (WHERE status = 'RESOLVED') AS resolved_count,
		COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected_count,
		COUNT(*) FILTER (WHERE severity_score >= 7) AS high_count,
		COUNT(*) FILTER (WHERE severity_score BETWEEN 4 AND 6) AS medium_count,
		COUNT(*) FILTER (WHERE severity_score <= 3) AS low_count
	FROM reports`

	var row struct {
		Total           int     `db:"total"`
		Today           int     `db:"today"`
		AvgSeverity     float64 `db:"avg_severity"`
		OpenCount       int     `db:"open_count"`
		InProgressCount int     `db:"in_progress_count"`
		ResolvedCount   int     `db:"resolved_count"`
		RejectedCount   int     `db:"rejected_count"`
		HighCount       int     `db:"high_count"`
		MediumCount     int     `db:"medium_count"`
		LowCount        int     `db:"low_count"`
	}
	if err := r.db.GetContext(ctx, &row, totalsQuery, todayStart); err != nil {
		return nil, fmt.Errorf("aggregate reports: %w", err)
	}

	agg := &models.ReportAggregate{
		Total:       row.Total,
		Today:       row.Today,
		AvgSeverity: row.AvgSeverity,
		ByStatus: map[models.ReportStatus]int{
			models.StatusOpen:       row.OpenCount,
			models.StatusInProgress: row.InProgressCount,
			models.StatusResolved:   row.ResolvedCount,
			models.StatusRejected:   row.RejectedCount,
		},
		BySeverity: map[models.SeverityBucket]int{
			models.SeverityHigh:   row.HighCount,
			models.SeverityMedium: row.MediumCount,
			models.SeverityLow:    row.LowCount,
		},
		ByType: make(map[string]int),
	}

	const typesQuery = `SELECT type, COUNT(*) AS count FROM reports GROUP BY type`
	rows, err := r.db.QueryxContext(ctx, typesQuery)
	if err != nil {
		return nil, fmt.Errorf("aggregate report types: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var issueType string
		var count int
		if err := rows.Scan(&issueType, &count); err != nil {
			return nil, fmt.Errorf("scan report type count: %w", err)
		}
		agg.ByType[issueType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report type counts: %w", err)
	}
	return agg, nil
}

// CountByUser returns the number of stored reports for a user, grouped by
// status. Deleted reports are naturally absent here, which is why the
// profile shows the lifetime counter instead of this number.
func (r *ReportRepository) CountByUser(ctx context.Context, userID string) (map[models.ReportStatus]int, error) {
	const query = `SELECT status, COUNT(*) AS count FROM reports WHERE user_id = $1 GROUP BY status`
	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("count reports by user: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ReportStatus]int)
	for rows.Next() {
		var status models.ReportStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan report count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report counts: %w", err)
	}
	return counts, nil
}
