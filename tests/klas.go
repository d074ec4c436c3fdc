// Package testutil provides in-process fakes of the Klas API and the storage transport
// for package tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/volatiletech/null/v8"

	"github.com/g4mless/mykelas-web/core/klasapi"
)

const userKey = "klas_user"

// Upload is an object PUT to the fake signed storage.
type Upload struct {
	ContentType string
	Data        []byte
}

// KlasServer is a fake Klas API served over httptest. Its state may be seeded and inspected
// directly under Lock/Unlock.
type KlasServer struct {
	*httptest.Server

	// OnRequest, when set, runs before every handler. It may block to delay a response.
	OnRequest func(r *http.Request)

	mu       sync.Mutex
	tokens   map[string]string // bearer token -> user id
	students []klasapi.Student
	today    map[int]*klasapi.Attendance // student id -> today's record
	avatars  map[string]string           // user id -> avatar path
	teachers map[string]klasapi.Teacher  // nuptk -> teacher
	classes  map[int][]int               // class id -> student ids
	qr       map[string]int              // qr token -> class id
	failures map[string]*echo.HTTPError  // "METHOD /path" -> forced error
	hits     map[string]int
	uploads  map[string]Upload
	lastID   int
	date     string
}

func NewKlasServer(t *testing.T) *KlasServer {
	t.Helper()

	s := &KlasServer{
		tokens:   make(map[string]string),
		today:    make(map[int]*klasapi.Attendance),
		avatars:  make(map[string]string),
		teachers: make(map[string]klasapi.Teacher),
		classes:  make(map[int][]int),
		qr:       make(map[string]int),
		failures: make(map[string]*echo.HTTPError),
		hits:     make(map[string]int),
		uploads:  make(map[string]Upload),
		date:     time.Now().Format("2006-01-02"),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(s.intercept)

	e.PUT("/storage/*", s.putObject)
	e.POST("/auth/login/teacher", s.loginTeacher)

	auth := s.authenticate
	e.GET("/students", s.listStudents, auth)
	e.POST("/auth/link-student", s.linkStudent, auth)
	e.POST("/absen", s.submitAttendance, auth)
	e.POST("/absen/attachment-upload-url", s.attachmentUploadURL, auth)
	e.POST("/absen/qr", s.redeemQR, auth)
	e.GET("/today-status", s.todayStatus, auth)
	e.GET("/students/profile-picture", s.profilePicture, auth)
	e.POST("/students/profile-picture", s.uploadProfilePicture, auth)
	e.GET("/teacher/classes", s.teacherClasses, auth)
	e.GET("/teacher/attendances/today", s.classAttendance, auth)
	e.POST("/teacher/qr/generate", s.generateQR, auth)
	e.POST("/teacher/attendances/mark-alfa", s.markAlfa, auth)

	s.Server = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a bearer token for userID.
func (s *KlasServer) AddUser(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
}

// AddStudent seeds a student record; an empty userID leaves it unlinked.
func (s *KlasServer) AddStudent(id int, name, userID string, classID int) klasapi.Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := klasapi.Student{
		ID:         id,
		NISN:       "00" + strconv.Itoa(id*1111),
		Name:       name,
		Sex:        "L",
		BirthDate:  "2008-05-17",
		BirthPlace: "Bandung",
		Address:    "Jl. Merdeka " + strconv.Itoa(id),
		ClassID:    float64(classID),
		Class:      &klasapi.ClassRef{ClassName: "XII IPA " + strconv.Itoa(classID)},
	}
	if userID != "" {
		st.UserID = null.StringFrom(userID)
	}
	s.students = append(s.students, st)
	s.classes[classID] = append(s.classes[classID], id)
	return st
}

// AddTeacher seeds a teacher able to log in with nuptk.
func (s *KlasServer) AddTeacher(id int, nuptk, name, userID string) klasapi.Teacher {
	s.mu.Lock()
	defer s.mu.Unlock()
	tch := klasapi.Teacher{ID: id, NUPTK: nuptk, Name: name, UserID: userID}
	s.teachers[nuptk] = tch
	return tch
}

// SetAvatar stores an avatar for userID.
func (s *KlasServer) SetAvatar(userID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAvatarLocked(userID, path)
}

// SetToday seeds today's record for a student.
func (s *KlasServer) SetToday(studentID int, status klasapi.AttendanceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(studentID, status, "")
}

// Fail makes every METHOD path request answer with code and msg until Recover is called.
func (s *KlasServer) Fail(method, path string, code int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = echo.NewHTTPError(code, msg)
}

func (s *KlasServer) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// Hits returns how many METHOD path requests reached the server.
func (s *KlasServer) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// Uploads returns a copy of every object PUT to the fake storage, keyed by path.
func (s *KlasServer) Uploads() map[string]Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Upload, len(s.uploads))
	for k, v := range s.uploads {
		out[k] = v
	}
	return out
}

// Today returns the student's record for today, if any.
func (s *KlasServer) Today(studentID int) (klasapi.Attendance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if att, ok := s.today[studentID]; ok {
		return *att, true
	}
	return klasapi.Attendance{}, false
}

// IssueQR registers a redeemable QR token for classID.
func (s *KlasServer) IssueQR(classID int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := uuid.NewString()
	s.qr[tok] = classID
	return tok
}

// middlewares

func (s *KlasServer) intercept(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.OnRequest != nil {
			s.OnRequest(c.Request())
		}
		key := c.Request().Method + " " + c.Request().URL.Path

		s.mu.Lock()
		s.hits[key]++
		fail := s.failures[key]
		s.mu.Unlock()

		if fail != nil {
			return fail
		}
		return next(c)
	}
}

func (s *KlasServer) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" || token == auth {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or malformed jwt")
		}

		s.mu.Lock()
		userID, ok := s.tokens[token]
		s.mu.Unlock()
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired jwt")
		}
		c.Set(userKey, userID)
		return next(c)
	}
}

// handlers

func (s *KlasServer) listStudents(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]klasapi.Student, len(s.students))
	copy(out, s.students)
	return c.JSON(http.StatusOK, out)
}

func (s *KlasServer) linkStudent(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	userID := c.Get(userKey).(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.students {
		st := &s.students[i]
		if !strings.EqualFold(st.Name, strings.TrimSpace(body.Name)) {
			continue
		}
		if st.UserID.Valid && st.UserID.String != userID {
			return echo.NewHTTPError(http.StatusConflict, "student already linked to another account")
		}
		st.UserID = null.StringFrom(userID)
		return c.JSON(http.StatusOK, klasapi.MessageResponse{Message: "Student linked successfully"})
	}
	return echo.NewHTTPError(http.StatusNotFound, "student not found")
}

func (s *KlasServer) submitAttendance(c echo.Context) error {
	var body struct {
		Status         string `json:"status"`
		AttachmentPath string `json:"attachment_path"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	status, ok := klasapi.ParseStatus(body.Status)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.studentForLocked(c.Get(userKey).(string))
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "student not linked")
	}
	att := s.recordLocked(st.ID, status, body.AttachmentPath)
	return c.JSON(http.StatusCreated, klasapi.AttendanceResponse{Message: "Attendance recorded", Attendance: att})
}

func (s *KlasServer) attachmentUploadURL(c echo.Context) error {
	var body struct {
		Filename string `json:"filename"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	if body.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "filename is required")
	}
	path := "attachments/" + c.Get(userKey).(string) + "/" + body.Filename
	return c.JSON(http.StatusOK, klasapi.UploadURL{Path: path, UploadURL: s.URL + "/storage/" + path})
}

func (s *KlasServer) putObject(c echo.Context) error {
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[c.Param("*")] = Upload{ContentType: c.Request().Header.Get(echo.HeaderContentType), Data: data}
	return c.NoContent(http.StatusOK)
}

func (s *KlasServer) redeemQR(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	classID, ok := s.qr[body.Token]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "QR token invalid or expired")
	}
	st := s.studentForLocked(c.Get(userKey).(string))
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "student not linked")
	}
	if !s.inClassLocked(classID, st.ID) {
		return echo.NewHTTPError(http.StatusForbidden, "QR token belongs to another class")
	}
	att := s.recordLocked(st.ID, klasapi.StatusHadir, "")
	return c.JSON(http.StatusCreated, klasapi.AttendanceResponse{Message: "Attendance recorded via QR", Attendance: att})
}

func (s *KlasServer) todayStatus(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.studentForLocked(c.Get(userKey).(string))
	if st == nil {
		return echo.NewHTTPError(http.StatusNotFound, "student not linked")
	}
	att, ok := s.today[st.ID]
	return c.JSON(http.StatusOK, klasapi.TodayStatus{HasAttendance: ok, Attendance: att})
}

func (s *KlasServer) profilePicture(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.avatars[c.Get(userKey).(string)]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "profile picture not found")
	}
	return c.JSON(http.StatusOK, klasapi.ProfilePicture{
		AvatarPath: null.StringFrom(path),
		AvatarURL:  null.StringFrom(s.URL + "/storage/" + path),
		ExpiresIn:  3600,
	})
}

func (s *KlasServer) uploadProfilePicture(c echo.Context) error {
	fh, err := c.FormFile("avatar")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "avatar file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	userID := c.Get(userKey).(string)
	path := "avatars/" + userID + "/" + fh.Filename

	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[path] = Upload{ContentType: fh.Header.Get(echo.HeaderContentType), Data: data}
	s.setAvatarLocked(userID, path)
	return c.JSON(http.StatusOK, klasapi.ProfilePictureUpload{
		Message:    "Profile picture updated",
		AvatarPath: null.StringFrom(path),
		AvatarURL:  null.StringFrom(s.URL + "/storage/" + path),
	})
}

func (s *KlasServer) loginTeacher(c echo.Context) error {
	var body struct {
		NUPTK string `json:"nuptk"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tch, ok := s.teachers[body.NUPTK]
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid NUPTK")
	}
	access := "teacher-" + uuid.NewString()
	s.tokens[access] = tch.UserID
	return c.JSON(http.StatusOK, klasapi.TeacherLogin{
		AccessToken:  access,
		RefreshToken: "refresh-" + tch.NUPTK,
		Teacher:      tch,
	})
}

func (s *KlasServer) teacherClasses(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isTeacherLocked(c.Get(userKey).(string)) {
		return echo.NewHTTPError(http.StatusForbidden, "teacher access only")
	}
	ids := make([]int, 0, len(s.classes))
	for id := range s.classes {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]klasapi.ClassInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, klasapi.ClassInfo{ID: id, ClassName: "XII IPA " + strconv.Itoa(id), TotalStudents: len(s.classes[id])})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *KlasServer) classAttendance(c echo.Context) error {
	classID, err := strconv.Atoi(c.QueryParam("class_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "class_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isTeacherLocked(c.Get(userKey).(string)) {
		return echo.NewHTTPError(http.StatusForbidden, "teacher access only")
	}

	type studentJSON struct {
		ID         int         `json:"id"`
		NISN       string      `json:"nisn"`
		Name       string      `json:"nama"`
		AvatarPath null.String `json:"avatar_path"`
		AvatarURL  null.String `json:"avatar_url"`
	}
	type entryJSON struct {
		Student       studentJSON `json:"student"`
		Status        string      `json:"status"`
		IsPresent     bool        `json:"is_present"`
		AttachmentURL null.String `json:"attachment_url"`
		Time          null.String `json:"time"`
	}

	entries := make([]entryJSON, 0)
	for _, id := range s.classes[classID] {
		st := s.studentByIDLocked(id)
		entry := entryJSON{
			Student: studentJSON{ID: st.ID, NISN: st.NISN, Name: st.Name},
			Status:  "ALPHA",
		}
		if att, ok := s.today[id]; ok {
			entry.Status = string(att.Status)
			entry.IsPresent = att.Status == klasapi.StatusHadir
			entry.Time = null.StringFrom("07:15:00")
			if att.Attachment.Valid {
				entry.AttachmentURL = null.StringFrom(s.URL + "/storage/" + att.Attachment.String)
			}
		}
		entries = append(entries, entry)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":     s.date,
		"class_id": strconv.Itoa(classID),
		"students": entries,
	})
}

func (s *KlasServer) generateQR(c echo.Context) error {
	var body struct {
		ClassID string `json:"class_id"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	classID, err := strconv.Atoi(body.ClassID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid class_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[classID]; !ok {
		return echo.NewHTTPError(http.StatusNotFound, "class not found")
	}
	tok := uuid.NewString()
	s.qr[tok] = classID
	return c.JSON(http.StatusOK, klasapi.QRToken{Token: tok, ExpiresIn: 60})
}

func (s *KlasServer) markAlfa(c echo.Context) error {
	var body klasapi.MarkAlfaRequest
	if err := c.Bind(&body); err != nil {
		return err
	}
	classID, err := strconv.Atoi(body.ClassID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid class_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := klasapi.MarkAlfaResult{
		Message:            "Students marked as alfa",
		UpdatedStudentIDs:  []int{},
		InsertedStudentIDs: []int{},
		SkippedStudentIDs:  []int{},
		Date:               s.date,
	}
	if body.Date != "" {
		res.Date = body.Date
	}
	for _, id := range body.StudentIDs {
		att, ok := s.today[id]
		switch {
		case !s.inClassLocked(classID, id):
			res.SkippedStudentIDs = append(res.SkippedStudentIDs, id)
		case !ok:
			s.recordLocked(id, klasapi.StatusAlfa, "")
			res.InsertedStudentIDs = append(res.InsertedStudentIDs, id)
		case att.Status == klasapi.StatusAlfa:
			res.UpdatedStudentIDs = append(res.UpdatedStudentIDs, id)
		default:
			res.SkippedStudentIDs = append(res.SkippedStudentIDs, id)
		}
	}
	res.UpdatedCount = len(res.UpdatedStudentIDs)
	res.InsertedCount = len(res.InsertedStudentIDs)
	return c.JSON(http.StatusOK, res)
}

// helpers (callers hold s.mu)

func (s *KlasServer) studentForLocked(userID string) *klasapi.Student {
	for i := range s.students {
		if s.students[i].UserID.Valid && s.students[i].UserID.String == userID {
			return &s.students[i]
		}
	}
	return nil
}

func (s *KlasServer) studentByIDLocked(id int) *klasapi.Student {
	for i := range s.students {
		if s.students[i].ID == id {
			return &s.students[i]
		}
	}
	return nil
}

func (s *KlasServer) inClassLocked(classID, studentID int) bool {
	for _, id := range s.classes[classID] {
		if id == studentID {
			return true
		}
	}
	return false
}

func (s *KlasServer) isTeacherLocked(userID string) bool {
	for _, tch := range s.teachers {
		if tch.UserID == userID {
			return true
		}
	}
	return false
}

func (s *KlasServer) setAvatarLocked(userID, path string) {
	s.avatars[userID] = path
	if st := s.studentForLocked(userID); st != nil {
		st.AvatarURL = null.StringFrom(s.URL + "/storage/" + path)
	}
}

func (s *KlasServer) recordLocked(studentID int, status klasapi.AttendanceStatus, attachment string) *klasapi.Attendance {
	s.lastID++
	att := &klasapi.Attendance{ID: s.lastID, Status: status, Date: s.date, StudentID: studentID}
	if attachment != "" {
		att.Attachment = null.StringFrom(attachment)
	}
	s.today[studentID] = att

	if st := s.studentByIDLocked(studentID); st != nil {
		st.LastStatus = &att.Status
		st.LastDate = null.StringFrom(s.date)
	}
	return att
}
