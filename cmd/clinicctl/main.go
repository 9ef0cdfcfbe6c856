// Command clinicctl is a terminal client for the ClinicDocs API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/orgctx"
	"github.com/aliuyar1234/clinicdocs/internal/poller"
	"github.com/aliuyar1234/clinicdocs/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// errSignedOut marks a command that failed because the session expired. The
// auth error handler has already printed the hint.
var errSignedOut = errors.New("signed out")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clinicctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Config file (default ~/.config/clinicctl/config.yaml)")
	fs.String("api-url", "", "API base URL")
	fs.String("session-file", "", "Where the session token is stored")
	fs.Duration("poll-interval", 0, "Job status poll interval")
	fs.Int("poll-max-attempts", 0, "Maximum job status fetches before giving up")
	verbose := fs.Bool("verbose", false, "Log requests and retries")
	fs.Usage = func() { printUsage(stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 2
	}

	cmd, cmdArgs, ok := lookup(rest)
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", strings.Join(rest, " "))
		printUsage(stderr)
		return 2
	}

	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 2
	}

	c, err := newCLI(cfg, stdout, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	c.command = cmd.name

	if err := c.execute(ctx, cmd, cmdArgs); err != nil {
		switch {
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "Usage: clinicctl %s\n", cmd.usage)
			return 2
		case errors.Is(err, errSignedOut):
			return 1
		default:
			fmt.Fprintln(stderr, "Error:", err)
			return 1
		}
	}
	return 0
}

// cli holds the client-side stores for one invocation.
type cli struct {
	cfg    Config
	out    io.Writer
	errOut io.Writer

	identity *apiclient.Identity
	client   *apiclient.Client
	session  *session.Store
	orgs     *orgctx.Store
	poller   *poller.Poller

	// command is the invocation being run. It is recorded as the redirect
	// target when the session expires.
	command string
}

func newCLI(cfg Config, stdout, stderr io.Writer) (*cli, error) {
	identity, err := apiclient.NewIdentity(apiclient.FilePersister{Path: cfg.SessionFile})
	if err != nil {
		return nil, err
	}

	c := &cli{cfg: cfg, out: stdout, errOut: stderr, identity: identity}

	nav := apiclient.NavigatorFunc(func(string) {
		fmt.Fprintln(c.errOut, "Your session has expired. Run 'clinicctl login' to sign in again.")
	})
	authErrors := apiclient.NewAuthErrorHandler(identity, nav, func() string { return c.command })

	c.client = apiclient.New(cfg.APIURL, identity, apiclient.WithAuthErrorHandler(authErrors))
	c.session = session.New(c.client, identity, authErrors)
	c.orgs = orgctx.New(c.client, identity)
	c.session.Subscribe(func(authenticated bool) {
		if err := c.orgs.HandleSessionChange(context.Background(), authenticated); err != nil {
			log.Debug().Err(err).Msg("Failed to load organizations")
		}
	})

	c.poller = poller.New(c.client, identity)
	c.poller.Interval = cfg.PollInterval
	c.poller.MaxAttempts = cfg.PollMaxAttempts

	return c, nil
}

// subject restores the stored session and reports who is calling. The
// active organization role comes from the organization store.
func (c *cli) subject(ctx context.Context) (guard.Subject, error) {
	if err := c.session.Restore(ctx); err != nil && !apiclient.IsAuthError(err) {
		return guard.Subject{}, err
	}

	st := c.session.Snapshot()
	s := guard.Subject{Authenticated: st.Authenticated}
	if st.User != nil {
		s.GlobalRole = st.User.GlobalRole
	}
	if st.Authenticated {
		s.OrgRole = c.orgs.Snapshot().ActiveRole()
	}
	return s, nil
}

// execute gates cmd on its policy and runs it.
func (c *cli) execute(ctx context.Context, cmd command, args []string) error {
	subject := guard.Subject{}
	if cmd.policy != (guard.Policy{}) {
		var err error
		if subject, err = c.subject(ctx); err != nil {
			return err
		}
	}

	denied := func(*cli, context.Context, []string) error {
		if !subject.Authenticated {
			return errors.New("not signed in: run 'clinicctl login'")
		}
		return fmt.Errorf("your role (%s) in the active organization does not allow '%s'", subject.Role(), cmd.name)
	}

	runFn := guard.Render(cmd.policy, subject, cmd.run, denied)
	err := runFn(c, ctx, args)
	if err != nil && cmd.policy.RequireAuth && apiclient.IsAuthError(err) {
		return errSignedOut
	}
	return err
}
