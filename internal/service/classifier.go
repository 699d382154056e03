package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/models"
	"github.com/civicfix/civicfix-api/pkg/config"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

// ClassifierClient calls the external image-analysis endpoint. The endpoint
// owns the verdict entirely; nothing here invents or patches results when
// the call fails.
type ClassifierClient struct {
	cfg    config.ClassifierConfig
	client *http.Client
	logger *zap.Logger
}

// NewClassifierClient constructs a classifier client.
func NewClassifierClient(cfg config.ClassifierConfig, logger *zap.Logger) *ClassifierClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassifierClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type classifyEnvelope struct {
	Data *models.Classification `json:"data"`
}

type classifyErrorBody struct {
	Detail string `json:"detail"`
}

// Analyze submits the image with optional coordinates and the submitter id,
// and returns the structured verdict. A 429 from the endpoint comes back as
// a quota error carrying the upstream detail message word for word; every
// other failure is a generic analysis failure the caller may retry.
func (c *ClassifierClient) Analyze(ctx context.Context, image io.Reader, filename string, lat, lng *float64, userID string) (*models.Classification, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("copy image payload: %w", err)
	}
	if lat != nil && lng != nil {
		if err := writer.WriteField("latitude", strconv.FormatFloat(*lat, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("write latitude field: %w", err)
		}
		if err := writer.WriteField("longitude", strconv.FormatFloat(*lng, 'f', -1, 64)); err != nil {
			return nil, fmt.Errorf("write longitude field: %w", err)
		}
	}
	if userID != "" {
		if err := writer.WriteField("user_id", userID); err != nil {
			return nil, fmt.Errorf("write user_id field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/analyze-image", &body)
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("classification request failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "image analysis failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAnalysisFailed.Code, appErrors.ErrAnalysisFailed.Status, "image analysis failed")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var errBody classifyErrorBody
		_ = json.Unmarshal(raw, &errBody)
		message := errBody.Detail
		if message == "" {
			message = appErrors.ErrQuotaExceeded.Message
		}
		return nil, appErrors.Clone(appErrors.ErrQuotaExceeded, message)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("classification endpoint returned error",
			zap.Int("status", resp.StatusCode),
		)
		return nil, appErrors.Clone(appErrors.ErrAnalysisFailed, "image analysis failed")
	}

	var envelope classifyEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Data == nil {
		return nil, appErrors.Clone(appErrors.ErrAnalysisFailed, "malformed analysis response")
	}
	if envelope.Data.IssueDetected && !models.ValidIssueType(envelope.Data.Type) {
		envelope.Data.Type = models.IssueOther
	}
	if envelope.Data.SeverityScore < 0 {
		envelope.Data.SeverityScore = 0
	}
	if envelope.Data.SeverityScore > 10 {
		envelope.Data.SeverityScore = 10
	}

	return envelope.Data, nil
}
