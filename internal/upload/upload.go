package upload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"github.com/kalambet/appraise/internal/blob"
	"github.com/kalambet/appraise/internal/metrics"
	"github.com/kalambet/appraise/internal/reconcile"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/storage"
)

// MessageRequired is the single validation message shown when any field is missing.
const MessageRequired = "All fields are required."

const contentTypePDF = "application/pdf"

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Request is one upload as submitted by the signed-in user.
type Request struct {
	FileName      string
	Data          []byte
	OwnerID       string
	OwnerEmail    string
	FullName      string
	ExpectedValue string
}

// Store is the record side of an upload.
type Store interface {
	CreateReport(r report.Report) (report.Report, error)
	reconcile.JobStore
}

type Options struct {
	MaxBytes  int64
	VerifyPDF bool
}

// Service writes the blob and the record for each upload. When the record
// write fails the blob is removed again, directly or through the job queue.
type Service struct {
	store   Store
	blobs   blob.Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	newID   func() string
}

func New(store Store, blobs blob.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		blobs:   blobs,
		opts:    opts,
		logger:  logger,
		metrics: metrics.Default(),
		newID:   func() string { return uuid.New().String() },
	}
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Validate checks req without writing anything.
func (s *Service) Validate(req Request) error {
	if len(req.Data) == 0 || strings.TrimSpace(req.FileName) == "" ||
		strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.FullName) == "" ||
		strings.TrimSpace(req.ExpectedValue) == "" {
		return invalid(MessageRequired)
	}
	if !strings.EqualFold(filepath.Ext(req.FileName), ".pdf") {
		return invalid("Invalid file type, only PDF is allowed.")
	}
	if s.opts.MaxBytes > 0 && int64(len(req.Data)) > s.opts.MaxBytes {
		return invalid("File size exceeds %dMB limit.", s.opts.MaxBytes/(1024*1024))
	}
	digits := Digits(req.ExpectedValue)
	if digits == "" {
		return invalid("Expected value must be a number.")
	}
	if _, err := strconv.ParseInt(digits, 10, 64); err != nil {
		return invalid("Expected value is too large.")
	}
	if s.opts.VerifyPDF && !readablePDF(req.Data) {
		return invalid("The file is not a readable PDF.")
	}
	return nil
}

func readablePDF(data []byte) (ok bool) {
	// The parser panics on some malformed inputs.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	return r.NumPage() > 0
}

// Upload validates req, stores the PDF under {ownerId}/{reportId}.pdf and
// creates the report record in status "processing".
func (s *Service) Upload(ctx context.Context, req Request) (report.Report, error) {
	if err := s.Validate(req); err != nil {
		s.metrics.RecordUpload("invalid")
		return report.Report{}, err
	}

	digits := Digits(req.ExpectedValue)
	expected, _ := strconv.ParseInt(digits, 10, 64)
	id := s.newID()
	key := blob.Key(req.OwnerID, id)
	logger := s.logger.With("report_id", id, "owner_id", req.OwnerID)

	meta := blob.Metadata{
		ContentType: contentTypePDF,
		Attrs: map[string]string{
			"expectedValue": digits,
			"fullName":      req.FullName,
			"email":         req.OwnerEmail,
		},
	}
	if err := s.blobs.Put(ctx, key, req.Data, meta); err != nil {
		s.metrics.RecordUpload("failed")
		return report.Report{}, fmt.Errorf("storing file: %w", err)
	}

	created, err := s.store.CreateReport(report.Report{
		ID:            id,
		UID:           req.OwnerID,
		Name:          req.FileName,
		Status:        report.StatusProcessing,
		ExpectedValue: expected,
		FullName:      req.FullName,
	})
	if err != nil {
		s.compensate(ctx, logger, key)
		return report.Report{}, fmt.Errorf("creating report: %w", err)
	}

	s.metrics.RecordUpload("ok")
	logger.Info("report uploaded", "name", req.FileName, "bytes", len(req.Data))
	return created, nil
}

func (s *Service) compensate(ctx context.Context, logger *slog.Logger, key string) {
	s.metrics.RecordUpload("compensated")
	ctx = context.WithoutCancel(ctx)
	err := s.blobs.Delete(ctx, key)
	if err == nil {
		logger.Warn("record write failed, uploaded file removed", "key", key)
		return
	}
	logger.Warn("record write failed, file removal deferred", "key", key, "error", err)
	jobID, err := reconcile.EnqueueBlobDelete(s.store, key)
	if err != nil {
		logger.Error("could not schedule removal of orphaned file", "key", key, "error", err)
		return
	}
	logger.Info("orphaned file removal scheduled", "key", key, "job_id", jobID)
}

var _ Store = (*storage.Store)(nil)
