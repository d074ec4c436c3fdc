package teacher

import (
	"context"
	"strconv"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/session"
)

// ErrNoTeacher is returned by teacher operations while no teacher is signed in.
var ErrNoTeacher = errors.New("teacher login required")

// API is the part of the Klas API teachers use.
type API interface {
	LoginTeacher(ctx context.Context, nuptk string) (*klasapi.TeacherLogin, error)
	FetchTeacherClasses(ctx context.Context, token string) ([]klasapi.ClassInfo, error)
	FetchClassAttendance(ctx context.Context, token, classID string) ([]klasapi.RosterEntry, error)
	GenerateQRToken(ctx context.Context, token, classID string) (*klasapi.QRToken, error)
	MarkAsAlfa(ctx context.Context, token string, req klasapi.MarkAlfaRequest) (*klasapi.MarkAlfaResult, error)
}

// Sessions is the shared session the teacher's token lives in.
type Sessions interface {
	Current() session.Snapshot
	AdoptSession(ctx context.Context, accessToken, refreshToken string) error
	SignOut(ctx context.Context) error
}

type Service struct {
	api      API
	sessions Sessions
	store    *Store
	logger   core.Logger
}

func NewService(api API, sessions Sessions, store *Store, logger core.Logger) *Service {
	return &Service{api: api, sessions: sessions, store: store, logger: logger}
}

// Login exchanges the NUPTK for a session, adopts it and remembers the teacher.
func (s *Service) Login(ctx context.Context, nuptk string) (*klasapi.Teacher, error) {
	nuptk = core.CleanString(nuptk)
	if err := core.ValidateVar("nuptk", nuptk, "required,nuptk"); err != nil {
		return nil, err
	}

	resp, err := s.api.LoginTeacher(ctx, nuptk)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.AdoptSession(ctx, resp.AccessToken, resp.RefreshToken); err != nil {
		return nil, errors.Wrap(err, "adopting teacher session")
	}
	if err := s.store.SetTeacher(ctx, &resp.Teacher); err != nil {
		return nil, err
	}
	s.logger.Info("teacher signed in", map[string]interface{}{"teacher_id": resp.Teacher.ID})
	return &resp.Teacher, nil
}

// Logout forgets the teacher and ends the shared session.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.SetTeacher(ctx, nil); err != nil {
		return err
	}
	return s.sessions.SignOut(ctx)
}

func (s *Service) Classes(ctx context.Context) ([]klasapi.ClassInfo, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	classes, err := s.api.FetchTeacherClasses(ctx, token)
	return classes, s.check(ctx, err)
}

// Roster fetches today's attendance for the class.
func (s *Service) Roster(ctx context.Context, classID string) (*Roster, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	if err := ValidateClassID(classID); err != nil {
		return nil, err
	}
	entries, err := s.api.FetchClassAttendance(ctx, token, classID)
	if err := s.check(ctx, err); err != nil {
		return nil, err
	}
	return &Roster{ClassID: classID, Entries: entries}, nil
}

// GenerateQR issues a short-lived attendance token for the class.
func (s *Service) GenerateQR(ctx context.Context, classID string) (*klasapi.QRToken, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	if err := ValidateClassID(classID); err != nil {
		return nil, err
	}
	qr, err := s.api.GenerateQRToken(ctx, token, classID)
	if err := s.check(ctx, err); err != nil {
		return nil, err
	}
	return qr, nil
}

// MarkAlfa records an unexcused absence for studentIDs on date (today when empty). Without
// ids, every student of the class with no record today is marked.
func (s *Service) MarkAlfa(ctx context.Context, classID string, studentIDs []int, date string) (*klasapi.MarkAlfaResult, error) {
	token, err := s.token()
	if err != nil {
		return nil, err
	}
	if err := ValidateClassID(classID); err != nil {
		return nil, err
	}
	if err := core.ValidateVar("date", date, "omitempty,datetime=2006-01-02"); err != nil {
		return nil, err
	}

	if len(studentIDs) == 0 {
		roster, err := s.Roster(ctx, classID)
		if err != nil {
			return nil, err
		}
		studentIDs = roster.AbsentIDs()
	}
	if len(studentIDs) == 0 {
		return nil, core.NewValidationError(
			errors.New("nothing to mark"),
			core.FieldError{Field: "student_ids", Error: "every student already has a record today"},
		)
	}

	res, err := s.api.MarkAsAlfa(ctx, token, klasapi.MarkAlfaRequest{ClassID: classID, StudentIDs: studentIDs, Date: date})
	if err := s.check(ctx, err); err != nil {
		return nil, err
	}
	if missing := res.Unaccounted(studentIDs); len(missing) > 0 {
		s.logger.Warn("mark-alfa result does not mention every student", map[string]interface{}{"missing": missing})
	}
	return res, nil
}

func (s *Service) token() (string, error) {
	if s.store.Teacher() == nil {
		return "", ErrNoTeacher
	}
	token := s.sessions.Current().AccessToken()
	if token == "" {
		return "", core.ErrNoSession
	}
	return token, nil
}

// check drops the stored teacher when the server no longer accepts the session.
func (s *Service) check(ctx context.Context, err error) error {
	if err == nil || !klasapi.IsAuthError(err) {
		return err
	}
	if cErr := s.store.SetTeacher(ctx, nil); cErr != nil {
		s.logger.Error("clearing teacher profile", cErr)
	}
	return errors.Wrap(err, "teacher session rejected")
}

// ValidateClassID checks that classID is a numeric class id.
func ValidateClassID(classID string) error {
	if _, err := strconv.Atoi(classID); err != nil || classID == "" {
		return core.NewValidationError(
			errors.New("invalid class"),
			core.FieldError{Field: "class_id", Error: "class id must be a number"},
		)
	}
	return nil
}
