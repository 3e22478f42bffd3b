package handler

import (
	"net/http"
	"strings"

	"github.com/Rrens/classroom-live/internal/api/response"
	"github.com/Rrens/classroom-live/internal/service"
	"github.com/google/uuid"
)

// AttachmentHandler handles attachment endpoints
type AttachmentHandler struct {
	attachmentService *service.AttachmentService
	maxUploadSize     int64
}

// NewAttachmentHandler creates a new attachment handler
func NewAttachmentHandler(attachmentService *service.AttachmentService, maxUploadSize int64) *AttachmentHandler {
	return &AttachmentHandler{attachmentService: attachmentService, maxUploadSize: maxUploadSize}
}

// Upload stores a multipart "file" field
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	// Leave room for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "upload too large or malformed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		response.BadRequest(w, "no file uploaded")
		return
	}
	defer file.Close()

	attachment, err := h.attachmentService.Upload(r.Context(), userID, slug, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.Created(w, attachment)
}

// List returns attachments of the classroom. ?ids=a,b restricts the result.
func (h *AttachmentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}

	var ids []uuid.UUID
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				response.BadRequest(w, "invalid attachment id "+part)
				return
			}
			ids = append(ids, id)
		}
	}

	attachments, err := h.attachmentService.List(r.Context(), userID, slug, ids)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, attachments)
}

// Get returns attachment metadata
func (h *AttachmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "attachmentID")
	if !ok {
		return
	}

	attachment, err := h.attachmentService.Get(r.Context(), userID, slug, id)
	if err != nil {
		response.FromError(w, err)
		return
	}

	response.OK(w, attachment)
}

// Content streams the stored file
func (h *AttachmentHandler) Content(w http.ResponseWriter, r *http.Request) {
	userID, slug, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := uuidParam(w, r, "attachmentID")
	if !ok {
		return
	}

	attachment, content, err := h.attachmentService.Open(r.Context(), userID, slug, id)
	if err != nil {
		response.FromError(w, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", attachment.MimeType)
	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(attachment.FileName, `"`, "")+`"`)
	w.Header().Set("ETag", `"`+attachment.ContentHash+`"`)
	http.ServeContent(w, r, attachment.FileName, attachment.CreatedAt, content)
}
