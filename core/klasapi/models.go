package klasapi

import (
	"strconv"
	"strings"

	"github.com/volatiletech/null/v8"
)

// AttendanceStatus is a daily attendance state.
type AttendanceStatus string

// Attendance statuses. A student with no record for the day has no status at all.
const (
	StatusHadir AttendanceStatus = "HADIR" // present
	StatusIzin  AttendanceStatus = "IZIN"  // excused
	StatusSakit AttendanceStatus = "SAKIT" // sick
	StatusAlfa  AttendanceStatus = "ALFA"  // unexcused absence
)

// Statuses lists every status a student may submit, in display order.
var Statuses = []AttendanceStatus{StatusHadir, StatusIzin, StatusSakit, StatusAlfa}

// ParseStatus normalizes s (case-insensitive, "ALPHA" accepted) into an AttendanceStatus.
func ParseStatus(s string) (AttendanceStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HADIR":
		return StatusHadir, true
	case "IZIN":
		return StatusIzin, true
	case "SAKIT":
		return StatusSakit, true
	case "ALFA", "ALPHA":
		return StatusAlfa, true
	}
	return "", false
}

func (s AttendanceStatus) Label() string {
	switch s {
	case StatusHadir:
		return "Hadir"
	case StatusIzin:
		return "Izin"
	case StatusSakit:
		return "Sakit"
	case StatusAlfa:
		return "Alfa"
	default:
		return "Belum Presensi"
	}
}

type (
	ClassRef struct {
		ClassName string `json:"class_name"`
	}

	Student struct {
		ID         int               `json:"id"`
		NISN       string            `json:"nisn"`
		Name       string            `json:"nama"`
		Sex        string            `json:"jenis_kelamin"`
		BirthDate  string            `json:"tanggal_lahir"`
		BirthPlace string            `json:"tempat_lahir"`
		Address    string            `json:"alamat"`
		ClassID    interface{}       `json:"kelas"` // number or class label
		UserID     null.String       `json:"user_id"`
		LastStatus *AttendanceStatus `json:"last_status,omitempty"`
		LastDate   null.String       `json:"last_date"`
		AvatarURL  null.String       `json:"avatar_url"`
		Class      *ClassRef         `json:"class,omitempty"`
	}

	Attendance struct {
		ID         int              `json:"id"`
		Status     AttendanceStatus `json:"status"`
		Date       string           `json:"date"`
		StudentID  int              `json:"student_id"`
		Attachment null.String      `json:"attachment_path"`
	}

	AttendanceResponse struct {
		Message    string      `json:"message"`
		Attendance *Attendance `json:"attendance,omitempty"`
	}

	TodayStatus struct {
		HasAttendance bool        `json:"has_attendance"`
		Attendance    *Attendance `json:"attendance,omitempty"`
	}

	UploadURL struct {
		Path      string `json:"path"`
		UploadURL string `json:"upload_url"`
	}

	ProfilePicture struct {
		AvatarPath null.String `json:"avatar_path"`
		AvatarURL  null.String `json:"avatar_url"`
		ExpiresIn  int         `json:"expires_in"`
	}

	ProfilePictureUpload struct {
		Message    string      `json:"message"`
		AvatarPath null.String `json:"avatar_path"`
		AvatarURL  null.String `json:"avatar_url"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)

// ClassName returns the human readable class of s.
func (s Student) ClassName() string {
	if s.Class != nil && s.Class.ClassName != "" {
		return s.Class.ClassName
	}
	switch v := s.ClassID.(type) {
	case nil:
		return "-"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return "-"
	}
}

// Teacher side
type (
	Teacher struct {
		ID     int    `json:"id"`
		NUPTK  string `json:"nuptk"`
		Name   string `json:"nama"`
		UserID string `json:"user_id,omitempty"`
	}

	TeacherLogin struct {
		AccessToken  string  `json:"access_token"`
		RefreshToken string  `json:"refresh_token"`
		Teacher      Teacher `json:"teacher"`
	}

	ClassInfo struct {
		ID            int    `json:"id"`
		ClassName     string `json:"class_name"`
		TotalStudents int    `json:"total_students"`
	}

	// RosterEntry is one student of a class roster. Status is empty when the student has no record today.
	RosterEntry struct {
		StudentID     int              `json:"student_id"`
		StudentName   string           `json:"student_name"`
		Status        AttendanceStatus `json:"status,omitempty"`
		AvatarURL     null.String      `json:"avatar_url"`
		AttachmentURL null.String      `json:"attachment_url"`
		CaptureTime   null.String      `json:"time"`
	}

	QRToken struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"` // seconds
	}

	MarkAlfaRequest struct {
		ClassID    string `json:"class_id"`
		StudentIDs []int  `json:"student_ids"`
		Date       string `json:"date,omitempty"`
	}

	MarkAlfaResult struct {
		Message            string `json:"message"`
		UpdatedCount       int    `json:"updated_count"`
		InsertedCount      int    `json:"inserted_count"`
		UpdatedStudentIDs  []int  `json:"updated_student_ids"`
		InsertedStudentIDs []int  `json:"inserted_student_ids"`
		SkippedStudentIDs  []int  `json:"skipped_student_ids"`
		Date               string `json:"date"`
	}

	// attendanceTodayResponse is the wire shape of GET /teacher/attendances/today.
	attendanceTodayResponse struct {
		Date     string `json:"date"`
		ClassID  string `json:"class_id"`
		Students []struct {
			Student struct {
				ID         int         `json:"id"`
				NISN       string      `json:"nisn"`
				Name       string      `json:"nama"`
				AvatarPath null.String `json:"avatar_path"`
				AvatarURL  null.String `json:"avatar_url"`
			} `json:"student"`
			Status        string      `json:"status"`
			IsPresent     bool        `json:"is_present"`
			AttachmentURL null.String `json:"attachment_url"`
			Time          null.String `json:"time"`
		} `json:"students"`
	}
)

// HasRecord reports whether the entry has any attendance record today.
func (e RosterEntry) HasRecord() bool { return e.Status != "" }

// Unaccounted returns the requested ids that none of the result's id sets mention.
func (r MarkAlfaResult) Unaccounted(requested []int) []int {
	seen := make(map[int]struct{}, len(r.UpdatedStudentIDs)+len(r.InsertedStudentIDs)+len(r.SkippedStudentIDs))
	for _, set := range [][]int{r.UpdatedStudentIDs, r.InsertedStudentIDs, r.SkippedStudentIDs} {
		for _, id := range set {
			seen[id] = struct{}{}
		}
	}
	var missing []int
	for _, id := range requested {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
