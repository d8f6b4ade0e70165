package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/appraise/internal/projector"
	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
	"github.com/kalambet/appraise/internal/storage"
	"github.com/kalambet/appraise/internal/upload"
)

const (
	maxPatchBodySize  = 1 << 20 // 1MB
	multipartOverhead = 1 << 20
	multipartMemory   = 32 << 20
)

// MessageUploaded is returned once the file and its record are stored.
const MessageUploaded = "File uploaded successfully, analysis started."

// ReportStore is the record side of the API.
type ReportStore interface {
	GetReport(id string) (report.Report, error)
	ListReportsByOwner(uid string) ([]report.Report, error)
	MergeReportFields(id string, patch map[string]any) (report.Report, error)
}

// Uploader accepts a validated upload.
type Uploader interface {
	Upload(ctx context.Context, req upload.Request) (report.Report, error)
}

type AppDeps struct {
	Store          ReportStore
	Uploads        Uploader
	Watcher        realtime.Watcher
	Verifier       *session.Verifier
	PipelineToken  string
	Projector      projector.Options
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// StagesResponse is the body of GET /v1/reports/{id}/stages.
type StagesResponse struct {
	ReportID string                                    `json:"reportId"`
	Stages   [projector.StageCount]projector.StageView `json:"stages"`
	Progress float64                                   `json:"progress"`
	Percent  int                                       `json:"percent"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/reports", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(SessionAuth(deps.Verifier))
			r.Post("/", handleUpload(deps))
			r.Get("/", handleListReports(deps))
			r.Get("/watch", handleWatchOwner(deps))
			r.Get("/{id}", handleGetReport(deps))
			r.Get("/{id}/stages", handleGetStages(deps))
			r.Get("/{id}/watch", handleWatchReport(deps))
		})
		r.With(BearerAuth(deps.PipelineToken)).Patch("/{id}/fields", handleMergeFields(deps))
	})

	return r
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		if deps.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartOverhead)
		}
		defer r.Body.Close()

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httpError(w, http.StatusRequestEntityTooLarge, errInvalidRequest, "File size exceeds %dMB limit.", deps.MaxUploadBytes/(1024*1024))
				return
			}
			httpError(w, http.StatusBadRequest, errInvalidRequest, upload.MessageRequired)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req := upload.Request{
			OwnerID:       sess.UserID,
			OwnerEmail:    sess.Email,
			FullName:      r.FormValue("fullName"),
			ExpectedValue: r.FormValue("expectedValue"),
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			req.FileName = header.Filename
			if req.Data, err = io.ReadAll(file); err != nil {
				httpError(w, http.StatusBadRequest, errInvalidRequest, "reading file: %v", err)
				return
			}
		}

		created, err := deps.Uploads.Upload(r.Context(), req)
		if err != nil {
			var verr *upload.ValidationError
			if errors.As(err, &verr) {
				httpError(w, http.StatusBadRequest, errInvalidRequest, "%s", verr.Message)
				return
			}
			deps.Logger.Error("upload failed", "owner_id", sess.UserID, "error", err)
			httpError(w, http.StatusInternalServerError, errInternal, "An error occurred during upload.")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"message": MessageUploaded,
			"fileId":  created.ID,
		})
	}
}

func handleListReports(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())
		reports, err := deps.Store.ListReportsByOwner(sess.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, errInternal, "failed to list reports: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

// ownedReport loads the report named by the {id} route parameter and checks
// that it belongs to the session user. Reports of other users read as missing.
func ownedReport(deps AppDeps, w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	sess, _ := session.FromContext(r.Context())
	id := chi.URLParam(r, "id")
	rep, err := deps.Store.GetReport(id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rep.UID != sess.UserID) {
		httpError(w, http.StatusNotFound, errNotFound, "report not found")
		return report.Report{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, errInternal, "failed to get report: %v", err)
		return report.Report{}, false
	}
	return rep, true
}

func handleGetReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := ownedReport(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleGetStages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, ok := ownedReport(deps, w, r)
		if !ok {
			return
		}
		p := projector.Project(rep.Fields, deps.Projector)
		writeJSON(w, http.StatusOK, StagesResponse{
			ReportID: rep.ID,
			Stages:   p.Stages,
			Progress: p.Progress,
			Percent:  p.Percent(),
		})
	}
}

func handleMergeFields(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxPatchBodySize)
		defer r.Body.Close()

		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "invalid request body: %v", err)
			return
		}
		if len(patch) == 0 {
			httpError(w, http.StatusBadRequest, errInvalidRequest, "patch must contain at least one field")
			return
		}

		id := chi.URLParam(r, "id")
		updated, err := deps.Store.MergeReportFields(id, patch)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, errNotFound, "report not found")
			return
		case errors.Is(err, storage.ErrReservedField), errors.Is(err, storage.ErrInvalidStatus):
			httpError(w, http.StatusBadRequest, errInvalidRequest, "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, errInternal, "failed to merge fields: %v", err)
			return
		}

		deps.Logger.Debug("report fields merged", "report_id", id, "keys", len(patch))
		writeJSON(w, http.StatusOK, updated)
	}
}
