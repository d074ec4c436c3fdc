package main

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/qr"
	"github.com/g4mless/mykelas-web/core/theme"
)

func (cli *commandLine) login(ctx context.Context, args []string) error {
	fs := cli.flagSet("login")
	email := fs.String("email", "", "The address the one-time code is sent to.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if err := cli.app.sessions.SendOTP(ctx, *email); err != nil {
		return err
	}
	cli.printf("A sign-in code was sent to %s.\nRun: klas verify --code CODE\n", strings.TrimSpace(*email))
	return nil
}

func (cli *commandLine) verify(ctx context.Context, args []string) error {
	fs := cli.flagSet("verify")
	email := fs.String("email", "", "The address the code was sent to (defaults to the last login).")
	code := fs.String("code", "", "The emailed code. Prompted when omitted.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}

	if *code == "" {
		val, err := cli.prompt("Code")
		if err != nil {
			return err
		}
		*code = val
	}

	// the cache loads the student as soon as the session arrives
	cli.app.watchStudent(ctx)
	if err := cli.app.sessions.VerifyOTP(ctx, *email, *code); err != nil {
		return err
	}

	snap := cli.app.sessions.Current()
	if snap.Session == nil {
		return errNotLoggedIn
	}
	cli.println(cli.styles.success.Render("Signed in as " + snap.Session.User.Email))
	cli.printLinkHint()
	return nil
}

func (cli *commandLine) printLinkHint() {
	st := cli.app.students.State()
	switch {
	case st.Err != "":
		cli.println(cli.styles.failure.Render("Could not load your student record: " + st.Err))
	case st.Linked():
		cli.printf("Student: %s (%s)\n", st.Student.Name, st.Student.ClassName())
	default:
		cli.println(cli.styles.muted.Render(errNotLinked.Error()))
	}
}

func (cli *commandLine) logout(ctx context.Context, args []string) error {
	if err := cli.parse(cli.flagSet("logout"), args, 0); err != nil {
		return err
	}
	var err error
	if cli.app.teacherStore.Teacher() != nil {
		err = cli.app.teachers.Logout(ctx)
	} else {
		err = cli.app.sessions.SignOut(ctx)
	}
	if err != nil {
		return err
	}
	cli.println("Signed out.")
	return nil
}

func (cli *commandLine) whoami(ctx context.Context, args []string) error {
	if err := cli.parse(cli.flagSet("whoami"), args, 0); err != nil {
		return err
	}
	if err := cli.requireSession(); err != nil {
		return err
	}

	usr := cli.app.sessions.Current().Session.User
	cli.println(cli.styles.field("User", usr.ID))
	cli.println(cli.styles.field("Email", usr.Email))

	if tch := cli.app.teacherStore.Teacher(); tch != nil {
		cli.println(cli.styles.field("Teacher", tch.Name+" (NUPTK "+tch.NUPTK+")"))
		return nil
	}
	cli.app.watchStudent(ctx)
	cli.printLinkHint()
	return nil
}

func (cli *commandLine) link(ctx context.Context, args []string) error {
	fs := cli.flagSet("link")
	name := fs.String("name", "", "Your full name as registered by the school.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if err := cli.requireSession(); err != nil {
		return err
	}
	cli.app.watchStudent(ctx)

	resp, err := cli.app.students.LinkStudent(ctx, *name)
	if err != nil {
		if klasapi.IsStatus(err, http.StatusNotFound) {
			cli.printSuggestions(ctx, *name)
		}
		return err
	}
	cli.println(cli.styles.success.Render(resp.Message))
	cli.printLinkHint()
	return nil
}

func (cli *commandLine) printSuggestions(ctx context.Context, name string) {
	suggestions, err := cli.app.students.Suggestions(ctx, name)
	if err != nil || len(suggestions) == 0 {
		return
	}
	cli.println("Did you mean:")
	for _, st := range suggestions {
		cli.printf("  %s (%s)\n", st.Name, st.ClassName())
	}
}

func (cli *commandLine) profile(ctx context.Context, args []string) error {
	fs := cli.flagSet("profile")
	avatar := fs.String("avatar", "", "An image to crop and upload as the profile picture.")
	refresh := fs.Bool("refresh-avatar", false, "Fetch a fresh signed URL for the profile picture.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if _, err := cli.requireStudent(ctx); err != nil {
		return err
	}

	if *avatar != "" {
		f, err := os.Open(*avatar)
		if err != nil {
			return errors.Wrap(err, "opening avatar")
		}
		defer f.Close()
		if _, err := cli.app.students.UploadAvatar(ctx, filepath.Base(*avatar), f); err != nil {
			return err
		}
		cli.println(cli.styles.success.Render("Profile picture updated."))
	}
	if *refresh {
		if err := cli.app.students.RefreshAvatar(ctx); err != nil {
			return err
		}
	}

	st := cli.app.students.State()
	s := st.Student
	if s == nil {
		return errNotLinked
	}
	birth := strings.Trim(s.BirthPlace+", "+s.BirthDate, ", ")
	cli.println(cli.styles.title.Render(s.Name))
	cli.println(cli.styles.field("NISN", s.NISN))
	cli.println(cli.styles.field("Class", s.ClassName()))
	cli.println(cli.styles.field("TTL", birth))
	cli.println(cli.styles.field("Sex", s.Sex))
	cli.println(cli.styles.field("Address", s.Address))
	cli.println(cli.styles.field("Avatar", st.AvatarURL))
	if st.AvatarErr != "" {
		cli.println(cli.styles.failure.Render("avatar: " + st.AvatarErr))
	}
	var last klasapi.AttendanceStatus
	if s.LastStatus != nil {
		last = *s.LastStatus
	}
	cli.println(cli.styles.field("Last status", cli.styles.statusLabel(last)+" "+cli.styles.muted.Render(s.LastDate.String)))
	return nil
}

func (cli *commandLine) today(ctx context.Context, args []string) error {
	if err := cli.parse(cli.flagSet("today"), args, 0); err != nil {
		return err
	}
	if _, err := cli.requireStudent(ctx); err != nil {
		return err
	}

	cli.app.students.LoadToday(ctx)
	st := cli.app.students.State()
	if st.TodayErr != "" {
		return errors.Errorf("loading today's status: %s", st.TodayErr)
	}
	if st.Today == nil || !st.Today.HasAttendance || st.Today.Attendance == nil {
		cli.println(cli.styles.statusLabel(""))
		return nil
	}
	att := st.Today.Attendance
	cli.println(cli.styles.statusLabel(att.Status) + " " + cli.styles.muted.Render(att.Date))
	if att.Attachment.Valid {
		cli.println(cli.styles.field("Attachment", att.Attachment.String))
	}
	return nil
}

func (cli *commandLine) absen(ctx context.Context, args []string) error {
	fs := cli.flagSet("absen")
	rawStatus := fs.String("status", "", "HADIR, IZIN, SAKIT or ALFA.")
	attachment := fs.String("attachment", "", "Evidence to upload with the submission (image or PDF).")
	skipQR := fs.Bool("skip-qr", false, "Submit HADIR without scanning the class QR code.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if _, err := cli.requireStudent(ctx); err != nil {
		return err
	}

	status, ok := klasapi.ParseStatus(*rawStatus)
	if !ok {
		status = klasapi.AttendanceStatus(strings.ToUpper(strings.TrimSpace(*rawStatus)))
	}
	if status == klasapi.StatusHadir && *attachment == "" && !*skipQR {
		cli.println(cli.styles.muted.Render("HADIR is recorded by scanning the class QR code."))
		return cli.scanLines(ctx)
	}

	var (
		resp *klasapi.AttendanceResponse
		err  error
	)
	if *attachment != "" {
		f, oErr := os.Open(*attachment)
		if oErr != nil {
			return errors.Wrap(oErr, "opening attachment")
		}
		defer f.Close()
		resp, err = cli.app.students.SubmitWithAttachment(ctx, status, filepath.Base(*attachment), f)
	} else {
		resp, err = cli.app.students.SubmitAttendance(ctx, status)
	}
	if err != nil {
		return err
	}
	cli.printAttendance(resp)
	return nil
}

func (cli *commandLine) printAttendance(resp *klasapi.AttendanceResponse) {
	if resp == nil {
		return
	}
	cli.println(cli.styles.success.Render(resp.Message))
	if resp.Attendance != nil {
		cli.println(cli.styles.statusLabel(resp.Attendance.Status) + " " + cli.styles.muted.Render(resp.Attendance.Date))
	}
}

func (cli *commandLine) scan(ctx context.Context, args []string) error {
	fs := cli.flagSet("scan")
	token := fs.String("token", "", "The decoded QR payload. Payloads are read from stdin when omitted.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if _, err := cli.requireStudent(ctx); err != nil {
		return err
	}

	if *token != "" {
		resp, err := qr.NewScanner(cli.app.students).Submit(ctx, *token)
		if err != nil {
			return err
		}
		cli.printAttendance(resp)
		return nil
	}
	return cli.scanLines(ctx)
}

// scanLines feeds stdin lines to a scanner until one redeems. After a failure the scanner
// stays locked until the user types "retry".
func (cli *commandLine) scanLines(ctx context.Context) error {
	scanner := qr.NewScanner(cli.app.students)
	cli.println(cli.styles.muted.Render("Waiting for a QR payload on stdin..."))

	lines := bufio.NewScanner(cli.in)
	var lastErr error
	for lines.Scan() {
		line := strings.TrimSpace(lines.Text())
		if strings.EqualFold(line, "retry") {
			if scanner.Retry() {
				cli.println(cli.styles.muted.Render("Ready to scan again."))
			}
			continue
		}

		resp, err := scanner.Submit(ctx, line)
		switch {
		case errors.Is(err, qr.ErrLocked):
			cli.println(cli.styles.muted.Render("Scanner locked after a failed scan; type \"retry\" to scan again."))
		case err != nil:
			lastErr = err
			cli.println(cli.styles.failure.Render("Scan failed: " + err.Error()))
		case resp != nil:
			cli.printAttendance(resp)
			return nil
		}
	}
	if err := lines.Err(); err != nil {
		return errors.Wrap(err, "reading QR payloads")
	}
	if lastErr != nil {
		return lastErr
	}
	return errors.New("no QR code was scanned")
}

func (cli *commandLine) theme(ctx context.Context, args []string) error {
	fs := cli.flagSet("theme")
	if err := cli.parse(fs, args, 1); err != nil {
		return err
	}

	themes := cli.app.themes
	switch arg := fs.Arg(0); arg {
	case "":
	case "toggle":
		if _, err := themes.Toggle(ctx); err != nil {
			return err
		}
	default:
		t, ok := theme.Parse(arg)
		if !ok {
			return core.NewValidationError(
				errors.Errorf("invalid theme %q", arg),
				core.FieldError{Field: "theme", Error: "theme must be light, dark or system"},
			)
		}
		if err := themes.Set(ctx, t); err != nil {
			return err
		}
	}

	cli.styles = newStyles(themes.Resolved())
	cli.printf("Theme: %s (resolved: %s)\n", themes.Preference(), themes.Resolved())
	return nil
}
