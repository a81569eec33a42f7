package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/model"
	"github.com/stemsi/student-directory/internal/repository"
	"github.com/stemsi/student-directory/internal/response"
	"github.com/stemsi/student-directory/internal/search"
	"github.com/stemsi/student-directory/internal/service"
)

const searchPrompt = "Please enter search criteria to find students."

// StudentHandler serves the student pages and their JSON equivalents.
type StudentHandler struct {
	studentService *service.StudentService
	log            zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(studentService *service.StudentService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		studentService: studentService,
		log:            log.With().Str("component", "student_handler").Logger(),
	}
}

// Index godoc
// GET /students?search[major]=&search[graduation_date]=&search[date_type]=
// Shows the search form. Students are listed only once criteria are given.
func (h *StudentHandler) Index(c *gin.Context) {
	criteria := search.FromParams(c.QueryMap("search"))

	students, err := h.studentService.Search(c.Request.Context(), criteria)
	if err != nil {
		internalError(c, h.log, err)
		return
	}

	if wantsJSON(c) {
		body := gin.H{"searched": !criteria.Empty(), "students": students}
		if criteria.Empty() {
			body["message"] = searchPrompt
		}
		response.Success(c, http.StatusOK, body)
		return
	}

	renderHTML(c, http.StatusOK, "students/index", gin.H{
		"Title":    "Students",
		"Criteria": criteria,
		"Searched": !criteria.Empty(),
		"Students": students,
	})
}

// New godoc
// GET /students/new
func (h *StudentHandler) New(c *gin.Context) {
	renderHTML(c, http.StatusOK, "students/new", gin.H{
		"Title": "New Student",
		"Form":  model.StudentForm{},
	})
}

// Create godoc
// POST /students
// Accepts student[...] form fields (with optional student[profile_photo])
// or a JSON body. Browsers are redirected to the new record; JSON clients
// get 201.
func (h *StudentHandler) Create(c *gin.Context) {
	form, photo, cleanup, ok := h.readForm(c)
	if !ok {
		return
	}
	defer cleanup()

	student, err := h.studentService.Create(c.Request.Context(), form, photo)
	if err != nil {
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			h.rejectForm(c, form, ve.Fields)
			return
		}
		internalError(c, h.log, err)
		return
	}

	location := fmt.Sprintf("/students/%d", student.ID)
	if wantsJSON(c) {
		c.Header("Location", location)
		response.Success(c, http.StatusCreated, student)
		return
	}
	redirectWithNotice(c, location, "Student was successfully created.")
}

// Show godoc
// GET /students/:id
func (h *StudentHandler) Show(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	student, err := h.studentService.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			notFound(c, response.ErrNotFound)
			return
		}
		internalError(c, h.log, err)
		return
	}

	if wantsJSON(c) {
		response.Success(c, http.StatusOK, student)
		return
	}
	renderHTML(c, http.StatusOK, "students/show", gin.H{
		"Title":   student.FullName(),
		"Student": student,
	})
}

// Delete godoc
// DELETE /students/:id
// Removes the student; the profile photo is purged in the background.
func (h *StudentHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.studentService.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			notFound(c, response.ErrNotFound)
			return
		}
		internalError(c, h.log, err)
		return
	}

	if wantsJSON(c) {
		response.Success(c, http.StatusOK, gin.H{"id": id, "message": "Student was successfully deleted."})
		return
	}
	redirectWithNotice(c, "/students", "Student was successfully deleted.")
}

// MethodOverride godoc
// POST /students/:id with _method=delete
// Lets HTML forms, which only send GET and POST, reach Delete.
func (h *StudentHandler) MethodOverride(c *gin.Context) {
	if strings.EqualFold(c.PostForm("_method"), http.MethodDelete) {
		h.Delete(c)
		return
	}
	c.Header("Allow", "GET, DELETE")
	fail(c, http.StatusMethodNotAllowed, response.ErrMethodNotAllowed)
}

// readForm extracts the create payload. On failure it has already written
// the response. cleanup closes the uploaded file, if any.
func (h *StudentHandler) readForm(c *gin.Context) (model.StudentForm, *service.Upload, func(), bool) {
	noop := func() {}

	if c.ContentType() == gin.MIMEJSON {
		// Decoded without binding validation: the service normalizes and
		// validates forms from both sources the same way.
		var form model.StudentForm
		if err := json.NewDecoder(c.Request.Body).Decode(&form); err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return form, nil, noop, false
		}
		return form, nil, noop, true
	}

	form := model.StudentFormFromMap(c.PostFormMap("student"))

	fh, err := c.FormFile("student[profile_photo]")
	if err != nil {
		// No file part (or not multipart at all): create without a photo.
		return form, nil, noop, true
	}
	f, err := fh.Open()
	if err != nil {
		internalError(c, h.log, fmt.Errorf("open upload: %w", err))
		return form, nil, noop, false
	}
	return form, &service.Upload{Filename: fh.Filename, Reader: f}, func() { _ = f.Close() }, true
}

func (h *StudentHandler) rejectForm(c *gin.Context, form model.StudentForm, fields map[string]string) {
	if wantsJSON(c) {
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrValidation, fields)
		return
	}
	renderHTML(c, http.StatusUnprocessableEntity, "students/new", gin.H{
		"Title":  "New Student",
		"Form":   form,
		"Errors": fields,
	})
}
