package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/response"
)

const flashCookie = "flash"

// wantsJSON reports whether the client asked for JSON instead of HTML.
// Browsers get HTML; so does an empty Accept header, unless the request
// body itself is JSON.
func wantsJSON(c *gin.Context) bool {
	if c.ContentType() == gin.MIMEJSON && !strings.Contains(c.GetHeader("Accept"), gin.MIMEHTML) {
		return true
	}
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}

// renderHTML renders a page, adding the pending flash notice.
func renderHTML(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if notice := popFlash(c); notice != "" {
		data["Notice"] = notice
	}
	c.HTML(status, name, data)
}

// redirectWithNotice sends a 302 and leaves a one-shot notice for the next page.
func redirectWithNotice(c *gin.Context, location, notice string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(flashCookie, notice, 60, "/", "", false, true)
	c.Redirect(http.StatusFound, location)
}

// popFlash returns the pending notice and clears it. gin escapes cookie
// values on write and unescapes them on read.
func popFlash(c *gin.Context) string {
	notice, err := c.Cookie(flashCookie)
	if err != nil || notice == "" {
		return ""
	}
	c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	return notice
}

// parseID reads the :id path parameter. A malformed id cannot name a
// student, so it is reported as not found.
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		notFound(c, response.ErrNotFound)
		return 0, false
	}
	return id, true
}

func notFound(c *gin.Context, code response.ErrCode) {
	fail(c, http.StatusNotFound, code)
}

// fail writes an error as the JSON envelope or as the HTML error page.
func fail(c *gin.Context, status int, code response.ErrCode) {
	if wantsJSON(c) {
		response.Fail(c, status, code)
		return
	}
	heading := http.StatusText(status)
	renderHTML(c, status, "error", gin.H{
		"Title":   heading,
		"Heading": heading,
		"Message": response.GetMessage(code),
	})
}

func internalError(c *gin.Context, log zerolog.Logger, err error) {
	_ = c.Error(err)
	log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg("Request failed")
	if wantsJSON(c) {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	renderHTML(c, http.StatusInternalServerError, "error", gin.H{
		"Title":   "Error",
		"Heading": "Something went wrong",
		"Message": response.GetMessage(response.ErrInternal),
	})
}
