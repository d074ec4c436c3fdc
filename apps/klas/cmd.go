package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/g4mless/mykelas-web/core/student"
)

var (
	readSecretFunc = term.ReadPassword // mockable
	stdinFd        = func() int { return int(os.Stdin.Fd()) }

	errHelp        = errors.New("help provided")
	errNotLoggedIn = errors.New("please log in: klas login --email ADDRESS")
	errNotLinked   = errors.New("link your account first: klas link --name \"FULL NAME\"")
	errNoTeacher   = errors.New("please log in as a teacher: klas teacher login")
)

type commandLine struct {
	app    *app
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	styles styles
}

func newCommandLine(a *app, in io.Reader, out, errOut io.Writer) *commandLine {
	return &commandLine{app: a, in: in, out: out, errOut: errOut, styles: newStyles(a.themes.Resolved())}
}

func (cli *commandLine) printUsage() {
	fmt.Fprint(cli.errOut, `Usage:
  login --email EMAIL                          - email a one-time code
  verify [--email EMAIL] [--code CODE]         - sign in with the emailed code
  logout                                       - sign out
  whoami                                       - show the signed in account
  link --name NAME                             - link the account to a student record
  profile [--avatar FILE] [--refresh-avatar]   - show (and update) the student profile
  today                                        - show today's attendance
  absen --status STATUS [--attachment FILE] [--skip-qr]
                                               - submit today's attendance (HADIR scans a QR code)
  scan [--token TOKEN]                         - redeem a class QR code (reads payloads from stdin)
  theme [light|dark|system|toggle]             - show or change the colour theme
  teacher login [--nuptk NUPTK]                - sign in as a teacher
  teacher classes                              - list your classes
  teacher roster --class ID                    - show today's roster of a class
  teacher qr --class ID [--png FILE] [--once]  - show a rotating attendance QR code
  teacher mark-alfa --class ID [--ids 1,2] [--date YYYY-MM-DD]
                                               - mark students absent (default: those with no record)
  teacher logout                               - sign out the teacher
`)
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	cmd, rest := args[1], args[2:]
	switch cmd {
	case "login":
		return cli.login(ctx, rest)
	case "verify":
		return cli.verify(ctx, rest)
	case "logout":
		return cli.logout(ctx, rest)
	case "whoami":
		return cli.whoami(ctx, rest)
	case "link":
		return cli.link(ctx, rest)
	case "profile":
		return cli.profile(ctx, rest)
	case "today":
		return cli.today(ctx, rest)
	case "absen":
		return cli.absen(ctx, rest)
	case "scan":
		return cli.scan(ctx, rest)
	case "theme":
		return cli.theme(ctx, rest)
	case "teacher":
		return cli.teacher(ctx, rest)
	case "help", "-h", "--help":
		cli.printUsage()
		return errHelp
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(cli.errOut)
	return fs
}

// parse parses args and rejects positional arguments beyond maxArgs.
func (cli *commandLine) parse(fs *pflag.FlagSet, args []string, maxArgs int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errHelp
		}
		return err
	}
	if fs.NArg() > maxArgs {
		return errors.Errorf("unexpected argument: %s", fs.Arg(maxArgs))
	}
	return nil
}

// prompt asks for a value without echoing it.
func (cli *commandLine) prompt(label string) (string, error) {
	fmt.Fprintf(cli.errOut, "%s: ", label)
	val, err := readSecretFunc(stdinFd())
	fmt.Fprintln(cli.errOut)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", strings.ToLower(label))
	}
	return strings.TrimSpace(string(val)), nil
}

func (cli *commandLine) requireSession() error {
	if cli.app.sessions.Current().Session == nil {
		return errNotLoggedIn
	}
	return nil
}

// requireStudent loads the student linked to the session.
func (cli *commandLine) requireStudent(ctx context.Context) (student.State, error) {
	if err := cli.requireSession(); err != nil {
		return student.State{}, err
	}
	cli.app.watchStudent(ctx)

	st := cli.app.students.State()
	if st.Err != "" {
		return st, errors.Errorf("loading student: %s", st.Err)
	}
	if !st.Linked() {
		return st, errNotLinked
	}
	return st, nil
}

func (cli *commandLine) requireTeacher() error {
	if err := cli.requireSession(); err != nil {
		return err
	}
	if cli.app.teacherStore.Teacher() == nil {
		return errNoTeacher
	}
	return nil
}

func (cli *commandLine) println(a ...interface{}) {
	fmt.Fprintln(cli.out, a...)
}

func (cli *commandLine) printf(format string, a ...interface{}) {
	fmt.Fprintf(cli.out, format, a...)
}
