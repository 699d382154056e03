package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/models"
	"github.com/civicfix/civicfix-api/pkg/export"
	"github.com/civicfix/civicfix-api/pkg/storage"
)

type exportReportRepository interface {
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders the triage view into downloadable files. The job
// carries a snapshot of the filter that was active when the export was
// requested, so the file matches exactly what the admin was looking at.
type ExportService struct {
	reports exportReportRepository
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(reports exportReportRepository, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports: reports,
		storage: storage,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered file.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	reports, err := s.reports.List(ctx, job.Params.Filter())
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	dataset := buildReportDataset(reports)

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, "Civic Issue Reports")
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := "all"
	if job.Params.Status != nil {
		scope = strings.ToLower(string(*job.Params.Status))
	}
	return fmt.Sprintf("reports_%s_%s.%s", scope, timestamp, job.Params.Format)
}

func buildReportDataset(reports []models.Report) export.Dataset {
	rows := make([]map[string]string, 0, len(reports))
	for i := range reports {
		r := &reports[i]
		row := map[string]string{
			"ID":        r.ID,
			"Type":      string(r.Type),
			"Severity":  strconv.Itoa(r.SeverityScore),
			"Bucket":    string(r.SeverityBucket()),
			"Status":    string(r.Status),
			"Action":    string(r.RecommendedAction),
			"Reporter":  r.UserName,
			"Email":     r.UserEmail,
			"CreatedAt": r.CreatedAt.UTC().Format(time.RFC3339),
		}
		if r.Address != nil {
			row["Address"] = *r.Address
		} else {
			row["Address"] = ""
		}
		rows = append(rows, row)
	}
	return export.Dataset{
		Headers: []string{"ID", "Type", "Severity", "Bucket", "Status", "Action", "Address", "Reporter", "Email", "CreatedAt"},
		Rows:    rows,
	}
}
