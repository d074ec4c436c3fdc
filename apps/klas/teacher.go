package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/apps/klas/tui"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/teacher"
)

const qrPNGSize = 512

func (cli *commandLine) teacher(ctx context.Context, args []string) error {
	if len(args) == 0 {
		cli.printUsage()
		return errHelp
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return cli.teacherLogin(ctx, rest)
	case "logout":
		return cli.teacherLogout(ctx, rest)
	case "classes":
		return cli.teacherClasses(ctx, rest)
	case "roster":
		return cli.teacherRoster(ctx, rest)
	case "qr":
		return cli.teacherQR(ctx, rest)
	case "mark-alfa":
		return cli.teacherMarkAlfa(ctx, rest)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) teacherLogin(ctx context.Context, args []string) error {
	fs := cli.flagSet("teacher login")
	nuptk := fs.String("nuptk", "", "Your NUPTK. Prompted when omitted.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if *nuptk == "" {
		val, err := cli.prompt("NUPTK")
		if err != nil {
			return err
		}
		*nuptk = val
	}

	tch, err := cli.app.teachers.Login(ctx, *nuptk)
	if err != nil {
		return err
	}
	cli.println(cli.styles.success.Render("Signed in as " + tch.Name))
	return nil
}

func (cli *commandLine) teacherLogout(ctx context.Context, args []string) error {
	if err := cli.parse(cli.flagSet("teacher logout"), args, 0); err != nil {
		return err
	}
	if err := cli.app.teachers.Logout(ctx); err != nil {
		return err
	}
	cli.println("Signed out.")
	return nil
}

func (cli *commandLine) teacherClasses(ctx context.Context, args []string) error {
	if err := cli.parse(cli.flagSet("teacher classes"), args, 0); err != nil {
		return err
	}
	if err := cli.requireTeacher(); err != nil {
		return err
	}

	classes, err := cli.app.teachers.Classes(ctx)
	if err != nil {
		return err
	}
	if len(classes) == 0 {
		cli.println(cli.styles.muted.Render("No classes assigned."))
		return nil
	}
	for _, c := range classes {
		cli.printf("%4d  %-20s %s\n", c.ID, c.ClassName, cli.styles.muted.Render(fmt.Sprintf("%d students", c.TotalStudents)))
	}
	return nil
}

func (cli *commandLine) teacherRoster(ctx context.Context, args []string) error {
	fs := cli.flagSet("teacher roster")
	classID := fs.String("class", "", "The class id (see: klas teacher classes).")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if err := cli.requireTeacher(); err != nil {
		return err
	}

	roster, err := cli.app.teachers.Roster(ctx, *classID)
	if err != nil {
		return err
	}
	for _, e := range roster.Entries {
		line := fmt.Sprintf("%4d  %-28s %s", e.StudentID, e.StudentName, cli.styles.statusLabel(e.Status))
		if e.CaptureTime.Valid {
			line += " " + cli.styles.muted.Render(e.CaptureTime.String)
		}
		if e.AttachmentURL.Valid {
			line += " " + cli.styles.muted.Render("[attachment]")
		}
		cli.println(line)
	}
	sum := roster.Summary()
	cli.printf("\nHadir %d · Izin %d · Sakit %d · Belum/Alfa %d\n", sum.Present, sum.Izin, sum.Sakit, sum.Absent)
	return nil
}

func (cli *commandLine) teacherQR(ctx context.Context, args []string) error {
	fs := cli.flagSet("teacher qr")
	classID := fs.String("class", "", "The class id (see: klas teacher classes).")
	pngPath := fs.String("png", "", "Also write every token as a PNG image to this file.")
	once := fs.Bool("once", false, "Print a single token and exit.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if err := cli.requireTeacher(); err != nil {
		return err
	}

	writePNG := func(t *klasapi.QRToken) error {
		if *pngPath == "" {
			return nil
		}
		return tui.WritePNG(t.Token, *pngPath, qrPNGSize)
	}

	if *once {
		token, err := cli.app.teachers.GenerateQR(ctx, *classID)
		if err != nil {
			return err
		}
		code, err := tui.RenderQR(token.Token)
		if err != nil {
			return err
		}
		cli.println(code)
		cli.printf("%s\nValid for %ds\n", token.Token, token.ExpiresIn)
		return writePNG(token)
	}

	// fail fast on a bad class before taking over the terminal
	if err := teacher.ValidateClassID(*classID); err != nil {
		return err
	}
	model := tui.NewQRModel(ctx, cli.classTitle(ctx, *classID),
		func(ctx context.Context) (*klasapi.QRToken, error) {
			return cli.app.teachers.GenerateQR(ctx, *classID)
		},
		tui.WithRefreshInterval(cli.app.conf.QRRefreshInterval),
		tui.OnToken(writePNG),
	)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithInput(cli.in), tea.WithOutput(cli.out))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "running QR view")
	}
	return nil
}

func (cli *commandLine) classTitle(ctx context.Context, classID string) string {
	title := "Class " + classID
	classes, err := cli.app.teachers.Classes(ctx)
	if err != nil {
		return title
	}
	for _, c := range classes {
		if strconv.Itoa(c.ID) == classID {
			return c.ClassName
		}
	}
	return title
}

func (cli *commandLine) teacherMarkAlfa(ctx context.Context, args []string) error {
	fs := cli.flagSet("teacher mark-alfa")
	classID := fs.String("class", "", "The class id (see: klas teacher classes).")
	ids := fs.IntSlice("ids", nil, "Student ids to mark. Defaults to every student with no record today.")
	date := fs.String("date", "", "The day to mark, as YYYY-MM-DD. Defaults to today.")
	if err := cli.parse(fs, args, 0); err != nil {
		return err
	}
	if err := cli.requireTeacher(); err != nil {
		return err
	}

	res, err := cli.app.teachers.MarkAlfa(ctx, *classID, *ids, *date)
	if err != nil {
		return err
	}
	cli.println(cli.styles.success.Render(res.Message))
	cli.printf("Date:     %s\n", res.Date)
	cli.printf("Updated:  %d %s\n", res.UpdatedCount, joinIDs(res.UpdatedStudentIDs))
	cli.printf("Inserted: %d %s\n", res.InsertedCount, joinIDs(res.InsertedStudentIDs))
	cli.printf("Skipped:  %d %s\n", len(res.SkippedStudentIDs), joinIDs(res.SkippedStudentIDs))
	return nil
}

func joinIDs(ids []int) string {
	if len(ids) == 0 {
		return ""
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.Itoa(id)
	}
	return "(" + strings.Join(strs, ", ") + ")"
}
