package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/config"
	"github.com/stemsi/student-directory/internal/handler"
	"github.com/stemsi/student-directory/internal/middleware"
	"github.com/stemsi/student-directory/internal/response"
	"github.com/stemsi/student-directory/internal/router"
	"github.com/stemsi/student-directory/internal/service"
	"github.com/stemsi/student-directory/internal/storage"
	"github.com/stemsi/student-directory/internal/testutil/memstore"
	"github.com/stemsi/student-directory/internal/worker"
)

type app struct {
	t      *testing.T
	engine *gin.Engine
	svc    *service.StudentService
	store  *memstore.Store
	queue  *memstore.Queue
	purger *worker.PurgeWorker
}

func newApp(t *testing.T) *app {
	t.Helper()
	log := zerolog.Nop()

	disk, err := storage.NewLocalDisk(t.TempDir(), log)
	if err != nil {
		t.Fatal(err)
	}
	store := memstore.New()
	q := memstore.NewQueue()
	blobs := storage.NewBlobService(store.Blobs(), disk, q, 1<<20, log)
	svc := service.NewStudentService(store.Students(), blobs, log)

	limiter := middleware.NewRateLimiter(0, time.Minute)
	t.Cleanup(limiter.Stop)

	cfg := &config.Config{GinMode: gin.TestMode, MaxUploadBytes: 1 << 20, MetricsEnabled: true}
	engine := router.SetupRouter(&router.Handlers{
		Student: handler.NewStudentHandler(svc, log),
		Photo:   handler.NewPhotoHandler(svc, log),
		Health:  handler.NewHealthHandler(q, log),
	}, limiter, cfg, log)

	return &app{
		t:      t,
		engine: engine,
		svc:    svc,
		store:  store,
		queue:  q,
		purger: worker.NewPurgeWorker(q, blobs, log),
	}
}

func (a *app) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *app) get(path string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (a *app) postForm(path string, v url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func (a *app) count() int {
	n, err := a.svc.Count(context.Background())
	if err != nil {
		a.t.Fatal(err)
	}
	return n
}

func studentForm(first, last, email, major, grad string) url.Values {
	return url.Values{
		"student[first_name]":      {first},
		"student[last_name]":       {last},
		"student[school_email]":    {email},
		"student[major]":           {major},
		"student[graduation_date]": {grad},
	}
}

// createStudent posts the form and returns the new record's path.
func (a *app) createStudent(first, last, email, major, grad string) string {
	a.t.Helper()
	w := a.postForm("/students", studentForm(first, last, email, major, grad))
	if w.Code != http.StatusFound {
		a.t.Fatalf("create %s: status %d body %s", email, w.Code, w.Body.String())
	}
	return w.Header().Get("Location")
}

func (a *app) seedPair() (string, string) {
	pathA := a.createStudent("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15")
	pathB := a.createStudent("Beatrice", "Kim", "beatrice@msudenver.edu", "Data Science and Machine Learning Major", "2026-05-15")
	return pathA, pathB
}

func searchPath(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set("search["+k+"]", val)
	}
	return "/students?" + v.Encode()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIndexWithoutCriteriaShowsPromptOnly(t *testing.T) {
	a := newApp(t)
	a.seedPair()

	w := a.get("/students")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Students", "Search", "Please enter search criteria to find students"} {
		if !strings.Contains(body, want) {
			t.Errorf("index missing %q", want)
		}
	}
	for _, name := range []string{"Aaron", "Beatrice"} {
		if strings.Contains(body, name) {
			t.Errorf("index must not list %s before a search", name)
		}
	}
}

func TestIndexBlankCriteriaCountAsNoSearch(t *testing.T) {
	a := newApp(t)
	a.seedPair()

	w := a.get(searchPath(map[string]string{"major": "", "graduation_date": "", "date_type": "before"}))
	if !strings.Contains(w.Body.String(), "Please enter search criteria") {
		t.Fatal("blank criteria should show the prompt")
	}
}

func TestSearch(t *testing.T) {
	a := newApp(t)
	a.seedPair()

	tests := []struct {
		name   string
		params map[string]string
		wantA  bool
		wantB  bool
	}{
		{"by major", map[string]string{"major": "Computer Science BS"}, true, false},
		{"by other major", map[string]string{"major": "Data Science and Machine Learning Major"}, false, true},
		{"before cutoff", map[string]string{"graduation_date": "2026-01-01", "date_type": "before"}, true, false},
		{"after matches before", map[string]string{"graduation_date": "2026-01-01", "date_type": "after"}, true, false},
		{"major and date", map[string]string{"major": "Data Science and Machine Learning Major", "graduation_date": "2026-01-01", "date_type": "before"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.get(searchPath(tt.params))
			if w.Code != http.StatusOK {
				t.Fatalf("status %d", w.Code)
			}
			body := w.Body.String()
			if strings.Contains(body, "Please enter search criteria") {
				t.Fatal("prompt shown for a real search")
			}
			if got := strings.Contains(body, "Aaron Sanders"); got != tt.wantA {
				t.Errorf("Aaron listed = %v, want %v", got, tt.wantA)
			}
			if got := strings.Contains(body, "Beatrice Kim"); got != tt.wantB {
				t.Errorf("Beatrice listed = %v, want %v", got, tt.wantB)
			}
		})
	}
}

func TestSearchJSON(t *testing.T) {
	a := newApp(t)
	a.seedPair()

	req := httptest.NewRequest(http.MethodGet, searchPath(map[string]string{"major": "Computer Science BS"}), nil)
	req.Header.Set("Accept", "application/json")
	w := a.do(req)

	var body struct {
		Data struct {
			Searched bool `json:"searched"`
			Students []struct {
				SchoolEmail string `json:"school_email"`
			} `json:"students"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, w.Body.String())
	}
	if !body.Data.Searched || len(body.Data.Students) != 1 || body.Data.Students[0].SchoolEmail != "aaron@msudenver.edu" {
		t.Fatalf("unexpected result %+v", body.Data)
	}
}

func TestCreateRedirectsToShow(t *testing.T) {
	a := newApp(t)

	before := a.count()
	path := a.createStudent("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15")
	if a.count() != before+1 {
		t.Fatal("count should grow by one")
	}
	if !strings.HasPrefix(path, "/students/") {
		t.Fatalf("unexpected Location %q", path)
	}

	w := a.get(path)
	if w.Code != http.StatusOK {
		t.Fatalf("show status %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "May 15, 2025"} {
		if !strings.Contains(body, want) {
			t.Errorf("show missing %q", want)
		}
	}
}

func TestCreateFlashNotice(t *testing.T) {
	a := newApp(t)

	w := a.postForm("/students", studentForm("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15"))
	req := httptest.NewRequest(http.MethodGet, w.Header().Get("Location"), nil)
	for _, ck := range w.Result().Cookies() {
		req.AddCookie(ck)
	}
	if !strings.Contains(a.do(req).Body.String(), "Student was successfully created.") {
		t.Fatal("notice should be shown after the redirect")
	}
}

func TestCreateValidationFailures(t *testing.T) {
	a := newApp(t)
	a.createStudent("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15")

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"invalid major", studentForm("Bea", "Kim", "bea@msudenver.edu", "Underwater Basket Weaving", "2025-05-15"), "Underwater Basket Weaving is not a valid major"},
		{"duplicate email", studentForm("Bea", "Kim", "AARON@msudenver.edu", "Computer Science BS", "2025-05-15"), "already been taken"},
		{"missing first name", studentForm("", "Kim", "bea@msudenver.edu", "Computer Science BS", "2025-05-15"), "first_name is a required field"},
		{"missing email", studentForm("Bea", "Kim", "", "Computer Science BS", "2025-05-15"), "school_email is a required field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := a.count()
			w := a.postForm("/students", tt.form)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status %d, want 422", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Fatalf("body missing %q", tt.want)
			}
			if a.count() != before {
				t.Fatal("no record may be created on validation failure")
			}
		})
	}
}

func TestCreateJSON(t *testing.T) {
	a := newApp(t)

	payload := `{"first_name":"Aaron","last_name":"Sanders","school_email":"aaron@msudenver.edu","major":"Cybersecurity Major","graduation_date":"2025-05-15"}`
	req := httptest.NewRequest(http.MethodPost, "/students", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := a.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "/students/") {
		t.Fatal("Location header missing")
	}

	req = httptest.NewRequest(http.MethodPost, "/students", strings.NewReader(`{"first_name":"X","last_name":"Y","school_email":"x@msudenver.edu","major":"Art"}`))
	req.Header.Set("Content-Type", "application/json")
	w = a.do(req)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "Art is not a valid major") {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/students", strings.NewReader(`{"first_name":`))
	req.Header.Set("Content-Type", "application/json")
	if w = a.do(req); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed JSON status %d", w.Code)
	}
}

func TestShowZeroPadsGraduationDay(t *testing.T) {
	a := newApp(t)
	path := a.createStudent("Eve", "Ng", "eve@msudenver.edu", "Cybersecurity Major", "2025-05-05")

	w := a.get(path)
	if w.Code != http.StatusOK {
		t.Fatalf("show status %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, "May 05, 2025") {
		t.Fatalf("show should render the long date with a two-digit day, got %s", body)
	}
}

func TestCreateAcceptsFreeTextEmail(t *testing.T) {
	a := newApp(t)

	before := a.count()
	w := a.postForm("/students", studentForm("Eve", "Ng", "eve.ng", "Computer Science BS", "2025-05-15"))
	if w.Code != http.StatusFound {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	if a.count() != before+1 {
		t.Fatal("count should grow by one")
	}
}

func TestCreateNormalizesJSONAndFormAlike(t *testing.T) {
	a := newApp(t)

	payload := `{"first_name":" Aaron ","last_name":"Sanders","school_email":" aaron@msudenver.edu ","major":" Computer Science BS ","graduation_date":"2025-05-15"}`
	req := httptest.NewRequest(http.MethodPost, "/students", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := a.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("json status %d body %s", w.Code, w.Body.String())
	}

	var body struct {
		Data struct {
			FirstName   string `json:"first_name"`
			SchoolEmail string `json:"school_email"`
			Major       string `json:"major"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.FirstName != "Aaron" || body.Data.SchoolEmail != "aaron@msudenver.edu" || body.Data.Major != "Computer Science BS" {
		t.Fatalf("fields should be trimmed, got %+v", body.Data)
	}

	w = a.postForm("/students", studentForm("Bea", "Kim", "bea@msudenver.edu", " Computer Science BS ", "2025-05-15"))
	if w.Code != http.StatusFound {
		t.Fatalf("form status %d", w.Code)
	}
}

func TestShowMissing(t *testing.T) {
	a := newApp(t)
	a.seedPair()

	for _, path := range []string{"/students/999", "/students/abc", "/students/0"} {
		if w := a.get(path); w.Code != http.StatusNotFound {
			t.Errorf("%s: status %d, want 404", path, w.Code)
		}
	}
}

func TestDelete(t *testing.T) {
	for _, viaOverride := range []bool{false, true} {
		a := newApp(t)
		path, _ := a.seedPair()
		before := a.count()

		var w *httptest.ResponseRecorder
		if viaOverride {
			w = a.postForm(path, url.Values{"_method": {"delete"}})
		} else {
			w = a.do(httptest.NewRequest(http.MethodDelete, path, nil))
		}
		if w.Code != http.StatusFound || w.Header().Get("Location") != "/students" {
			t.Fatalf("override=%v: status %d location %q", viaOverride, w.Code, w.Header().Get("Location"))
		}
		if a.count() != before-1 {
			t.Fatalf("override=%v: count should drop by one", viaOverride)
		}
		if follow := a.get("/students"); follow.Code != http.StatusOK {
			t.Fatalf("follow status %d", follow.Code)
		}
		if a.get(path).Code != http.StatusNotFound {
			t.Fatal("deleted student should 404")
		}
	}
}

func TestDeleteMissing(t *testing.T) {
	a := newApp(t)
	a.seedPair()
	before := a.count()

	w := a.do(httptest.NewRequest(http.MethodDelete, "/students/999", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d", w.Code)
	}
	if a.count() != before {
		t.Fatal("count must not change")
	}
}

func TestMethodOverrideRejectsOtherMethods(t *testing.T) {
	a := newApp(t)
	path, _ := a.seedPair()

	w := a.postForm(path, url.Values{"_method": {"patch"}})
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", w.Code)
	}
}

func multipartStudent(t *testing.T, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range studentForm("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15") {
		if err := mw.WriteField(k, v[0]); err != nil {
			t.Fatal(err)
		}
	}
	fw, err := mw.CreateFormFile("student[profile_photo]", "aaron.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(photo); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestPhotoLifecycle(t *testing.T) {
	a := newApp(t)
	ctx := context.Background()
	data := pngBytes(t)

	body, ct := multipartStudent(t, data)
	req := httptest.NewRequest(http.MethodPost, "/students", body)
	req.Header.Set("Content-Type", ct)
	w := a.do(req)
	if w.Code != http.StatusFound {
		t.Fatalf("create status %d body %s", w.Code, w.Body.String())
	}
	path := w.Header().Get("Location")

	if !strings.Contains(a.get(path).Body.String(), path+"/photo") {
		t.Fatal("show page should embed the photo")
	}

	w = a.get(path + "/photo")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("photo status %d type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.Equal(w.Body.Bytes(), data) {
		t.Fatal("photo bytes differ")
	}

	cond := httptest.NewRequest(http.MethodGet, path+"/photo", nil)
	cond.Header.Set("If-None-Match", w.Header().Get("ETag"))
	if got := a.do(cond).Code; got != http.StatusNotModified {
		t.Fatalf("conditional GET status %d", got)
	}

	if w = a.do(httptest.NewRequest(http.MethodDelete, path, nil)); w.Code != http.StatusFound {
		t.Fatalf("delete status %d", w.Code)
	}
	if a.store.BlobCount() != 1 {
		t.Fatal("photo should outlive the request until the purge worker runs")
	}
	if n := a.purger.Drain(ctx); n != 1 {
		t.Fatalf("expected one purge, drained %d", n)
	}
	if a.store.BlobCount() != 0 {
		t.Fatal("photo should be purged")
	}
}

func TestPhotoEndpoints(t *testing.T) {
	a := newApp(t)
	path := a.createStudent("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15")

	if w := a.get(path + "/photo"); w.Code != http.StatusNotFound {
		t.Fatalf("missing photo status %d", w.Code)
	}

	upload := func(name string, data []byte) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("profile_photo", name)
		_, _ = fw.Write(data)
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, path+"/photo", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return a.do(req)
	}

	if w := upload("notes.txt", []byte("hello there")); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("text upload status %d", w.Code)
	}
	if w := upload("a.png", pngBytes(t)); w.Code != http.StatusOK {
		t.Fatalf("upload status %d body %s", w.Code, w.Body.String())
	}
	if w := upload("b.png", pngBytes(t)); w.Code != http.StatusOK {
		t.Fatalf("replace status %d", w.Code)
	}
	if n, _ := a.queue.Len(context.Background()); n != 1 {
		t.Fatalf("replaced photo should be queued, queue=%d", n)
	}

	del := httptest.NewRequest(http.MethodDelete, path+"/photo", nil)
	del.Header.Set("Accept", "application/json")
	if w := a.do(del); w.Code != http.StatusOK {
		t.Fatalf("detach status %d", w.Code)
	}
	del = httptest.NewRequest(http.MethodDelete, path+"/photo", nil)
	if w := a.do(del); w.Code != http.StatusNotFound {
		t.Fatalf("second detach status %d", w.Code)
	}

	a.purger.Drain(context.Background())
	if a.store.BlobCount() != 0 {
		t.Fatalf("expected all photos purged, %d left", a.store.BlobCount())
	}
}

func TestPhotoUploadFailuresNegotiateFormat(t *testing.T) {
	a := newApp(t)
	path := a.createStudent("Aaron", "Sanders", "aaron@msudenver.edu", "Computer Science BS", "2025-05-15")

	post := func(field string, data []byte, accept string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if field != "" {
			fw, _ := mw.CreateFormFile(field, "notes.txt")
			_, _ = fw.Write(data)
		} else {
			_ = mw.WriteField("note", "no file")
		}
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, path+"/photo", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		return a.do(req)
	}

	w := post("profile_photo", []byte("hello there"), "text/html")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("html unsupported status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("html client got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "Unsupported file type") {
		t.Fatalf("error page should carry the message, got %s", w.Body.String())
	}

	w = post("", nil, "text/html")
	if w.Code != http.StatusBadRequest || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("html missing file status %d type %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = post("profile_photo", []byte("hello there"), "application/json")
	if w.Code != http.StatusUnprocessableEntity || !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("json unsupported status %d type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), string(response.ErrUnsupportedFile)) {
		t.Fatalf("json body should carry the code, got %s", w.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t)

	if w := a.get("/health"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending_purges":0`) {
		t.Fatalf("health status %d body %s", w.Code, w.Body.String())
	}
	a.get("/students")
	if w := a.get("/metrics"); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "directory_http_requests_total") {
		t.Fatalf("metrics status %d", w.Code)
	}
	if w := a.get("/"); w.Code != http.StatusFound || w.Header().Get("Location") != "/students" {
		t.Fatalf("root should redirect, got %d", w.Code)
	}
}
