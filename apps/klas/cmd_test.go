package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/session"
	"github.com/g4mless/mykelas-web/storage/inmem"
	"github.com/g4mless/mykelas-web/tests"
)

const (
	studentEmail = "budi@sekolah.sch.id"
	studentUser  = "user:" + studentEmail
	studentToken = "token:" + studentEmail
	nuptk        = "1987654321"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

type fixture struct {
	srv      *testutil.KlasServer
	provider *testutil.FakeProvider
	storage  *inmem.Store
	cli      *commandLine
	out      *bytes.Buffer
}

// setup builds the client around a fake API and identity provider. sess, when set, is the
// session restored at startup.
func setup(t *testing.T, sess *session.Session) *fixture {
	t.Helper()
	ctx := context.Background()

	srv := testutil.NewKlasServer(t)
	provider := testutil.NewFakeProvider()
	if sess != nil {
		provider.Restore(sess)
	}
	storage := inmem.NewStore()
	require.NoError(t, storage.Set(ctx, core.KeyTheme, "dark"))

	conf := &core.Config{API: core.APIConfig{BaseURL: srv.URL}, AvatarSize: 64}
	a, err := newApp(ctx, appDeps{Conf: conf, Logger: testutil.NopLogger{}, Storage: storage, Provider: provider})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	out := new(bytes.Buffer)
	return &fixture{
		srv:      srv,
		provider: provider,
		storage:  storage,
		cli:      newCommandLine(a, strings.NewReader(""), out, new(bytes.Buffer)),
		out:      out,
	}
}

type cliTest struct {
	name           string
	args           []string // without program name
	stdin          string
	wantErr        error
	wantErrStr     string
	wantValidation bool
	wantOut        []string
}

func (f *fixture) runTests(t *testing.T, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.out.Reset()
			f.cli.in = strings.NewReader(tt.stdin)

			err := f.cli.run(context.Background(), append([]string{"klas"}, tt.args...))
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantErrStr)
				}
			case tt.wantValidation:
				assert.True(t, core.IsValidation(err), "got %v, want a validation error", err)
			default:
				assert.NoError(t, err)
			}
			for _, want := range tt.wantOut {
				assert.Contains(t, f.out.String(), want)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	f := setup(t, nil)
	f.runTests(t, []cliTest{
		{name: "no command", args: nil, wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "teacher without subcommand", args: []string{"teacher"}, wantErr: errHelp},
		{name: "flag help", args: []string{"login", "--help"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"login", "--nope"}, wantErrStr: "unknown flag: --nope"},
		{name: "extra argument", args: []string{"whoami", "please"}, wantErrStr: "unexpected argument: please"},
	})
}

func Test_commandLine_signIn(t *testing.T) {
	f := setup(t, nil)
	f.srv.AddUser(studentToken, studentUser)
	f.srv.AddStudent(1, "Budi Santoso", studentUser, 1)

	orig := readSecretFunc
	readSecretFunc = func(int) ([]byte, error) { return []byte("123456\n"), nil }
	t.Cleanup(func() { readSecretFunc = orig })

	f.runTests(t, []cliTest{
		{name: "whoami before login", args: []string{"whoami"}, wantErr: errNotLoggedIn},
		{name: "login: missing email", args: []string{"login"}, wantValidation: true},
		{name: "login: invalid email", args: []string{"login", "--email", "budi"}, wantValidation: true},
		{name: "login", args: []string{"login", "--email", " " + studentEmail + " "}, wantOut: []string{"sent to " + studentEmail}},
		{name: "verify: wrong code", args: []string{"verify", "--code", "000000"}, wantErr: testutil.ErrInvalidOTP},
		{name: "verify: malformed code", args: []string{"verify", "--code", "12ab"}, wantValidation: true},
		{
			name:    "verify: prompted code",
			args:    []string{"verify"},
			wantOut: []string{"Signed in as " + studentEmail, "Student: Budi Santoso (XII IPA 1)"},
		},
		{name: "whoami", args: []string{"whoami"}, wantOut: []string{studentUser, studentEmail, "Budi Santoso"}},
		{name: "logout", args: []string{"logout"}, wantOut: []string{"Signed out."}},
		{name: "whoami after logout", args: []string{"whoami"}, wantErr: errNotLoggedIn},
	})
	assert.Equal(t, []string{studentEmail}, f.provider.Sent())
}

func Test_commandLine_preconditions(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		f := setup(t, nil)
		f.runTests(t, []cliTest{
			{name: "profile", args: []string{"profile"}, wantErr: errNotLoggedIn},
			{name: "today", args: []string{"today"}, wantErr: errNotLoggedIn},
			{name: "absen", args: []string{"absen", "--status", "SAKIT"}, wantErr: errNotLoggedIn},
			{name: "scan", args: []string{"scan", "--token", "x"}, wantErr: errNotLoggedIn},
			{name: "link", args: []string{"link", "--name", "Budi"}, wantErr: errNotLoggedIn},
			{name: "teacher classes", args: []string{"teacher", "classes"}, wantErr: errNotLoggedIn},
		})
	})

	t.Run("not linked", func(t *testing.T) {
		f := setup(t, testutil.NewSession(studentUser, studentEmail, studentToken))
		f.srv.AddUser(studentToken, studentUser)
		f.runTests(t, []cliTest{
			{name: "whoami", args: []string{"whoami"}, wantOut: []string{"link your account"}},
			{name: "profile", args: []string{"profile"}, wantErr: errNotLinked},
			{name: "today", args: []string{"today"}, wantErr: errNotLinked},
			{name: "teacher roster", args: []string{"teacher", "roster", "--class", "1"}, wantErr: errNoTeacher},
		})
	})

	t.Run("student load fails", func(t *testing.T) {
		f := setup(t, testutil.NewSession(studentUser, studentEmail, studentToken))
		f.srv.AddUser(studentToken, studentUser)
		f.srv.Fail("GET", "/students", 500, "database unavailable")
		f.runTests(t, []cliTest{
			{name: "today", args: []string{"today"}, wantErrStr: "loading student: database unavailable"},
		})
	})
}

func Test_commandLine_link(t *testing.T) {
	f := setup(t, testutil.NewSession(studentUser, studentEmail, studentToken))
	f.srv.AddUser(studentToken, studentUser)
	f.srv.AddStudent(2, "Siti Aminah", "", 1)
	f.srv.AddStudent(3, "Siti Rahma", "", 1)

	f.runTests(t, []cliTest{
		{name: "blank name", args: []string{"link", "--name", "  "}, wantValidation: true},
		{
			name:       "unknown name suggests",
			args:       []string{"link", "--name", "siti"},
			wantErrStr: "student not found",
			wantOut:    []string{"Did you mean:", "Siti Aminah (XII IPA 1)", "Siti Rahma (XII IPA 1)"},
		},
		{
			name:    "link",
			args:    []string{"link", "--name", "  siti aminah "},
			wantOut: []string{"Student linked successfully", "Student: Siti Aminah"},
		},
		{name: "today after linking", args: []string{"today"}, wantOut: []string{"Belum Presensi"}},
	})
}

func Test_commandLine_student(t *testing.T) {
	f := setup(t, testutil.NewSession(studentUser, studentEmail, studentToken))
	f.srv.AddUser(studentToken, studentUser)
	f.srv.AddStudent(1, "Budi Santoso", studentUser, 1)
	f.srv.AddStudent(5, "Dewi Lestari", "", 2)
	otherClassQR := f.srv.IssueQR(2)
	classQR := f.srv.IssueQR(1)

	evidence := filepath.Join(t.TempDir(), "surat dokter.pdf")
	require.NoError(t, os.WriteFile(evidence, []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n%%EOF\n"), 0o600))

	f.runTests(t, []cliTest{
		{
			name:    "profile",
			args:    []string{"profile"},
			wantOut: []string{"Budi Santoso", "001111", "XII IPA 1", "Bandung, 2008-05-17", "Jl. Merdeka 1", "Belum Presensi"},
		},
		{name: "today without record", args: []string{"today"}, wantOut: []string{"Belum Presensi"}},
		{name: "absen: invalid status", args: []string{"absen", "--status", "BOLOS"}, wantValidation: true},
		{name: "absen: missing attachment", args: []string{"absen", "--status", "IZIN", "--attachment", "nope.pdf"}, wantErrStr: "opening attachment"},
		{
			name:    "absen: sakit with attachment",
			args:    []string{"absen", "--status", "sakit", "--attachment", evidence},
			wantOut: []string{"Attendance recorded", "Sakit"},
		},
		{name: "today after absen", args: []string{"today"}, wantOut: []string{"Sakit", "Attachment"}},
		{name: "scan: bad token", args: []string{"scan", "--token", "expired"}, wantErrStr: "QR token invalid or expired"},
		{
			name:    "absen: hadir scans",
			args:    []string{"absen", "--status", "HADIR"},
			stdin:   "\n" + otherClassQR + "\n" + classQR + "\nretry\n" + classQR + "\n",
			wantOut: []string{"Scan failed: QR token belongs to another class", "Scanner locked", "Ready to scan again", "Attendance recorded via QR", "Hadir"},
		},
		{name: "scan: nothing on stdin", args: []string{"scan"}, wantErrStr: "no QR code was scanned"},
		{name: "absen: izin skips the scanner", args: []string{"absen", "--status", "IZIN"}, wantOut: []string{"Izin"}},
		{name: "absen: hadir without scanning", args: []string{"absen", "--status", "HADIR", "--skip-qr"}, wantOut: []string{"Hadir"}},
	})

	att, ok := f.srv.Today(1)
	require.True(t, ok)
	assert.Equal(t, klasapi.StatusHadir, att.Status)

	var pdf *testutil.Upload
	for path, up := range f.srv.Uploads() {
		if strings.HasPrefix(path, "attachments/"+studentUser+"/") && strings.HasSuffix(path, "-surat_dokter.pdf") {
			up := up
			pdf = &up
		}
	}
	require.NotNil(t, pdf, "attachment uploaded")
	assert.Equal(t, "application/pdf", pdf.ContentType)
}

func Test_commandLine_teacher(t *testing.T) {
	f := setup(t, nil)
	f.srv.AddTeacher(7, nuptk, "Ratna Sari", "teacher-user")
	f.srv.AddStudent(1, "Budi Santoso", "", 1)
	f.srv.AddStudent(2, "Siti Aminah", "", 1)
	f.srv.AddStudent(3, "Dewi Lestari", "", 1)
	f.srv.AddStudent(4, "Andi Wijaya", "", 2)
	f.srv.SetToday(1, klasapi.StatusHadir)
	f.srv.SetToday(2, klasapi.StatusIzin)

	pngPath := filepath.Join(t.TempDir(), "qr.png")

	f.runTests(t, []cliTest{
		{name: "classes before login", args: []string{"teacher", "classes"}, wantErr: errNotLoggedIn},
		{name: "login: bad nuptk", args: []string{"teacher", "login", "--nuptk", "12"}, wantValidation: true},
		{name: "login: unknown nuptk", args: []string{"teacher", "login", "--nuptk", "11112222"}, wantErrStr: "invalid NUPTK"},
		{name: "login", args: []string{"teacher", "login", "--nuptk", nuptk}, wantOut: []string{"Signed in as Ratna Sari"}},
		{name: "whoami", args: []string{"whoami"}, wantOut: []string{"Ratna Sari (NUPTK " + nuptk + ")"}},
		{name: "classes", args: []string{"teacher", "classes"}, wantOut: []string{"XII IPA 1", "3 students", "XII IPA 2"}},
		{name: "roster: missing class", args: []string{"teacher", "roster"}, wantValidation: true},
		{
			name:    "roster",
			args:    []string{"teacher", "roster", "--class", "1"},
			wantOut: []string{"Budi Santoso", "Hadir", "07:15:00", "Dewi Lestari", "Belum Presensi", "Hadir 1 · Izin 1 · Sakit 0 · Belum/Alfa 1"},
		},
		{name: "qr: unknown class", args: []string{"teacher", "qr", "--class", "9", "--once"}, wantErrStr: "class not found"},
		{name: "qr: bad class", args: []string{"teacher", "qr", "--class", "abc"}, wantValidation: true},
		{name: "qr once", args: []string{"teacher", "qr", "--class", "1", "--once", "--png", pngPath}, wantOut: []string{"Valid for 60s", "█"}},
		{name: "mark-alfa: bad date", args: []string{"teacher", "mark-alfa", "--class", "1", "--date", "17-08-2026"}, wantValidation: true},
		{
			name:    "mark-alfa: default targets",
			args:    []string{"teacher", "mark-alfa", "--class", "1"},
			wantOut: []string{"Students marked as alfa", "Inserted: 1 (3)"},
		},
		{
			name:    "mark-alfa: alfa students stay targeted",
			args:    []string{"teacher", "mark-alfa", "--class", "1"},
			wantOut: []string{"Updated:  1 (3)", "Inserted: 0"},
		},
		{
			name:    "mark-alfa: explicit ids",
			args:    []string{"teacher", "mark-alfa", "--class", "1", "--ids", "3,4", "--date", "2026-08-17"},
			wantOut: []string{"Date:     2026-08-17", "Updated:  1 (3)", "Skipped:  1 (4)"},
		},
		{name: "logout", args: []string{"teacher", "logout"}, wantOut: []string{"Signed out."}},
		{name: "classes after logout", args: []string{"teacher", "classes"}, wantErr: errNotLoggedIn},
	})

	_, err := os.Stat(pngPath)
	assert.NoError(t, err)
}

func Test_commandLine_teacherSessionRejected(t *testing.T) {
	f := setup(t, nil)
	f.srv.AddTeacher(7, nuptk, "Ratna Sari", "teacher-user")
	f.srv.AddStudent(1, "Budi Santoso", "", 1)

	f.runTests(t, []cliTest{
		{name: "login", args: []string{"teacher", "login", "--nuptk", nuptk}},
	})
	f.srv.Fail("GET", "/teacher/classes", 401, "invalid or expired jwt")
	f.runTests(t, []cliTest{
		{name: "rejected", args: []string{"teacher", "classes"}, wantErrStr: "teacher session rejected"},
		{name: "teacher forgotten", args: []string{"teacher", "classes"}, wantErr: errNoTeacher},
	})

	_, err := f.storage.Get(context.Background(), core.KeyTeacher)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func Test_commandLine_theme(t *testing.T) {
	f := setup(t, nil)
	f.runTests(t, []cliTest{
		{name: "show", args: []string{"theme"}, wantOut: []string{"Theme: dark (resolved: dark)"}},
		{name: "toggle", args: []string{"theme", "toggle"}, wantOut: []string{"Theme: light (resolved: light)"}},
		{name: "set", args: []string{"theme", "DARK"}, wantOut: []string{"Theme: dark"}},
		{name: "invalid", args: []string{"theme", "purple"}, wantValidation: true},
		{name: "invalid message", args: []string{"theme", "Purple"}, wantErrStr: "theme: theme must be light, dark or system"},
		{name: "too many", args: []string{"theme", "dark", "light"}, wantErrStr: "unexpected argument: light"},
	})

	val, err := f.storage.Get(context.Background(), core.KeyTheme)
	require.NoError(t, err)
	assert.Equal(t, "dark", val)
}
