package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/response"
	"github.com/stemsi/student-directory/internal/service"
	"github.com/stemsi/student-directory/internal/storage"
)

// PhotoHandler manages a student's profile photo.
type PhotoHandler struct {
	studentService *service.StudentService
	log            zerolog.Logger
}

// NewPhotoHandler creates a new PhotoHandler.
func NewPhotoHandler(studentService *service.StudentService, log zerolog.Logger) *PhotoHandler {
	return &PhotoHandler{
		studentService: studentService,
		log:            log.With().Str("component", "photo_handler").Logger(),
	}
}

// Show godoc
// GET /students/:id/photo
// Streams the stored image.
func (h *PhotoHandler) Show(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	blob, rc, err := h.studentService.OpenPhoto(c.Request.Context(), id)
	if err != nil {
		c.Header("Cache-Control", "no-store")
		switch {
		case errors.Is(err, repository.ErrStudentNotFound):
			notFound(c, response.ErrNotFound)
		case errors.Is(err, service.ErrNoPhoto):
			notFound(c, response.ErrNoPhoto)
		default:
			internalError(c, h.log, err)
		}
		return
	}
	defer rc.Close()

	etag := `"` + blob.Checksum + `"`
	c.Header("ETag", etag)
	if match := c.GetHeader("If-None-Match"); match != "" && strings.Contains(match, etag) {
		c.Status(http.StatusNotModified)
		return
	}

	c.DataFromReader(http.StatusOK, blob.ByteSize, blob.ContentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", blob.Filename),
	})
}

// Upload godoc
// POST /students/:id/photo
// Attaches or replaces the photo from the multipart field profile_photo.
func (h *PhotoHandler) Upload(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("profile_photo")
	if err != nil {
		fh, err = c.FormFile("student[profile_photo]")
	}
	if err != nil {
		fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	f, err := fh.Open()
	if err != nil {
		internalError(c, h.log, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	student, err := h.studentService.AttachPhoto(c.Request.Context(), id, service.Upload{Filename: fh.Filename, Reader: f})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStudentNotFound):
			notFound(c, response.ErrNotFound)
		case errors.Is(err, storage.ErrUnsupportedFileType):
			fail(c, http.StatusUnprocessableEntity, response.ErrUnsupportedFile)
		case errors.Is(err, storage.ErrFileTooLarge):
			fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		case errors.Is(err, storage.ErrEmptyFile):
			fail(c, http.StatusUnprocessableEntity, response.ErrFileRequired)
		default:
			internalError(c, h.log, err)
		}
		return
	}

	if wantsJSON(c) {
		response.Success(c, http.StatusOK, student)
		return
	}
	redirectWithNotice(c, fmt.Sprintf("/students/%d", id), "Profile photo was successfully updated.")
}

// Delete godoc
// DELETE /students/:id/photo
// Detaches the photo; the bytes are purged in the background.
func (h *PhotoHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.studentService.DetachPhoto(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, repository.ErrStudentNotFound):
			notFound(c, response.ErrNotFound)
		case errors.Is(err, service.ErrNoPhoto):
			notFound(c, response.ErrNoPhoto)
		default:
			internalError(c, h.log, err)
		}
		return
	}

	if wantsJSON(c) {
		response.Success(c, http.StatusOK, gin.H{"id": id, "message": "Profile photo was removed."})
		return
	}
	redirectWithNotice(c, fmt.Sprintf("/students/%d", id), "Profile photo was removed.")
}
