package controllers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/perch-social/perch/modules/social/domain/importjob"
	"github.com/perch-social/perch/modules/social/infrastructure/persistence"
	"github.com/perch-social/perch/modules/social/services"
	"github.com/perch-social/perch/pkg/composables"
	"github.com/perch-social/perch/pkg/httpapi"
	"github.com/perch-social/perch/pkg/middleware"
	"github.com/perch-social/perch/pkg/serrors"
)

type ImportsController struct {
	imports       *services.ImportService
	maxUploadSize int64
	basePath      string
}

func NewImportsController(imports *services.ImportService, maxUploadSize int64) *ImportsController {
	return &ImportsController{
		imports:       imports,
		maxUploadSize: maxUploadSize,
		basePath:      "/api/v1/imports",
	}
}

func (c *ImportsController) Key() string {
	return c.basePath
}

func (c *ImportsController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.Use(middleware.RequireAccount())

	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("", c.Create).Methods(http.MethodPost)
	router.HandleFunc("/{id}", c.Show).Methods(http.MethodGet)
	router.HandleFunc("/{id}", c.Destroy).Methods(http.MethodDelete)
	router.HandleFunc("/{id}/confirm", c.Confirm).Methods(http.MethodPost)
	router.HandleFunc("/{id}/failures", c.Failures).Methods(http.MethodGet)
}

type importResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Mode           string `json:"mode"`
	State          string `json:"state"`
	TotalItems     int    `json:"total_items"`
	ProcessedItems int    `json:"processed_items"`
	ImportedItems  int    `json:"imported_items"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toImportResponse(imp *importjob.Import) importResponse {
	return importResponse{
		ID:             imp.ID.String(),
		Type:           string(imp.Kind),
		Mode:           string(imp.Mode),
		State:          string(imp.State),
		TotalItems:     imp.TotalItems,
		ProcessedItems: imp.ProcessedItems,
		ImportedItems:  imp.ImportedItems,
		CreatedAt:      imp.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      imp.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (c *ImportsController) List(w http.ResponseWriter, r *http.Request) {
	imports, err := c.imports.ListRecent(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	out := make([]importResponse, 0, len(imports))
	for _, imp := range imports {
		out = append(out, toImportResponse(imp))
	}
	// Listings expose account activity; keep them out of shared caches.
	w.Header().Set("Cache-Control", "private, no-store")
	_ = httpapi.WriteJSON(w, http.StatusOK, out)
}

func (c *ImportsController) Show(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	imp, err := c.imports.GetByID(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	_ = httpapi.WriteJSON(w, http.StatusOK, toImportResponse(imp))
}

func (c *ImportsController) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadSize)
	if err := r.ParseMultipartForm(c.maxUploadSize); err != nil {
		_ = httpapi.WriteError(w, http.StatusRequestEntityTooLarge, "IMPORT_UPLOAD_TOO_LARGE", "uploaded file is too large", nil)
		return
	}

	kind, err := importjob.NewKind(r.FormValue("type"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	mode := importjob.ModeMerge
	if raw := r.FormValue("mode"); raw != "" {
		mode, err = importjob.NewMode(raw)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
	}

	file, _, err := r.FormFile("data")
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, "FIELD_REQUIRED", "data file is required", map[string]string{"field": "data"})
		return
	}
	defer func() {
		_ = file.Close()
	}()
	upload, err := io.ReadAll(file)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	imp, err := c.imports.Create(r.Context(), kind, mode, upload)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	_ = httpapi.WriteJSON(w, http.StatusCreated, toImportResponse(imp))
}

func (c *ImportsController) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	if err := c.imports.Confirm(r.Context(), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *ImportsController) Destroy(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	if err := c.imports.Destroy(r.Context(), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *ImportsController) Failures(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r)
	if !ok {
		return
	}
	format := services.ParseExportFormat(r.URL.Query().Get("format"))
	data, contentType, err := c.imports.ExportFailures(r.Context(), id, format)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("failed_imports.%s", format)))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (c *ImportsController) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "import not found", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (c *ImportsController) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *serrors.FieldError
	var baseErr *serrors.Base
	switch {
	case errors.Is(err, persistence.ErrImportNotFound):
		_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "import not found", nil)
	case errors.Is(err, composables.ErrNoAccountID):
		_ = httpapi.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
	case errors.As(err, &fieldErr):
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, fieldErr.Code, fieldErr.Message, map[string]string{"field": fieldErr.Field})
	case errors.As(err, &baseErr):
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, baseErr.Code, baseErr.Message, nil)
	default:
		composables.UseLogger(r.Context()).WithError(err).Error("import request failed")
		_ = httpapi.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
