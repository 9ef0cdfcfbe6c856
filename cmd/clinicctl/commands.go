package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aliuyar1234/clinicdocs/internal/apiclient"
	"github.com/aliuyar1234/clinicdocs/internal/guard"
	"github.com/aliuyar1234/clinicdocs/internal/orgctx"
	"github.com/aliuyar1234/clinicdocs/internal/roles"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var errUsage = errors.New("usage")

type command struct {
	name   string
	usage  string
	policy guard.Policy
	run    func(c *cli, ctx context.Context, args []string) error
}

var commands = []command{
	{"login", "login --email <email> [--password <pw>] [--magic-link]", guard.Always(), runLogin},
	{"signup", "signup --email <email> --password <pw> [--name <full name>]", guard.Always(), runSignup},
	{"logout", "logout", guard.Always(), runLogout},
	{"whoami", "whoami", guard.Authenticated(), runWhoami},
	{"verify-email", "verify-email [--send] [--token <token>]", guard.Authenticated(), runVerifyEmail},
	{"password-reset", "password-reset --email <email> | --token <token> --password <pw>", guard.Always(), runPasswordReset},
	{"nav", "nav", guard.Always(), runNav},

	{"orgs list", "orgs list", guard.Authenticated(), runOrgsList},
	{"orgs switch", "orgs switch <org-id|slug>", guard.Authenticated(), runOrgsSwitch},
	{"orgs create", "orgs create --name <name> [--slug <slug>] [--type <type>] [--description <text>]", guard.Authenticated(), runOrgsCreate},
	{"orgs invite", "orgs invite --email <email> [--role admin|member]", guard.Permission(roles.InviteMembers), runOrgsInvite},
	{"orgs members", "orgs members", guard.Permission(roles.ViewMembers), runOrgsMembers},

	{"docs list", "docs list [--status <status>] [--type <type>] [--page N] [--limit N]", guard.Permission(roles.ViewDocuments), runDocsList},
	{"docs upload", "docs upload [--type <document type>] [--process] [--wait] <file>", guard.Permission(roles.UploadDocuments), runDocsUpload},
	{"docs process", "docs process [--wait] <document-id>", guard.Permission(roles.UploadDocuments), runDocsProcess},
	{"docs watch", "docs watch <document-id> | --job <job-id>", guard.Permission(roles.ViewDocuments), runDocsWatch},
	{"docs data", "docs data [--versions] <document-id>", guard.Permission(roles.ViewDocuments), runDocsData},

	{"analytics", "analytics [--period day|week|month]", guard.Permission(roles.ViewAnalytics), runAnalytics},
}

// lookup matches the longest command name at the start of args.
func lookup(args []string) (command, []string, bool) {
	if len(args) >= 2 {
		name := args[0] + " " + args[1]
		for _, cmd := range commands {
			if cmd.name == name {
				return cmd, args[2:], true
			}
		}
	}
	for _, cmd := range commands {
		if cmd.name == args[0] {
			return cmd, args[1:], true
		}
	}
	return command{}, nil, false
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: clinicctl [--config file] [--api-url url] [--verbose] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s\n", cmd.usage)
	}
}

func newFlags(name string, c *cli) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

// Auth

func runLogin(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("login", c)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Password (CLINICCTL_PASSWORD also works)")
	magic := fs.Bool("magic-link", false, "Email a sign-in link instead")
	token := fs.String("token", "", "Magic link token to redeem")
	if err := parse(fs, args); err != nil {
		return err
	}

	switch {
	case *token != "":
		if err := c.session.VerifyMagicLink(ctx, *token); err != nil {
			return err
		}
	case *magic:
		if err := c.session.RequestMagicLink(ctx, *email); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Check your inbox, then run: clinicctl login --token <token>")
		return nil
	default:
		if *email == "" {
			return errUsage
		}
		pw := *password
		if pw == "" {
			pw = os.Getenv("CLINICCTL_PASSWORD")
		}
		if err := c.session.SignIn(ctx, *email, pw); err != nil {
			return err
		}
	}

	c.printSignedIn()
	return nil
}

func (c *cli) printSignedIn() {
	st := c.session.Snapshot()
	if st.User != nil {
		fmt.Fprintf(c.out, "Signed in as %s\n", st.User.Email)
	}
	if org := c.orgs.Snapshot().Active; org != nil {
		fmt.Fprintf(c.out, "Active organization: %s (%s)\n", org.Name, org.Role)
	}
	if next, err := c.identity.TakeRedirect(); err == nil && next != "" {
		fmt.Fprintf(c.out, "Continue with: clinicctl %s\n", next)
	}
}

func runSignup(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("signup", c)
	email := fs.String("email", "", "Account email")
	password := fs.String("password", "", "Password, at least 8 characters")
	name := fs.String("name", "", "Full name")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := c.session.SignUp(ctx, *email, *password, *name); err != nil {
		return err
	}
	c.printSignedIn()
	fmt.Fprintln(c.out, "A verification email is on its way.")
	return nil
}

func runLogout(c *cli, ctx context.Context, args []string) error {
	if err := c.session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Signed out")
	return nil
}

func runWhoami(c *cli, ctx context.Context, args []string) error {
	st := c.session.Snapshot()
	u := st.User
	if u == nil {
		return errors.New("no user in session")
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Email:\t%s\n", u.Email)
	if u.FullName != "" {
		fmt.Fprintf(w, "Name:\t%s\n", u.FullName)
	}
	verified := "no"
	if u.EmailVerifiedAt != nil {
		verified = u.EmailVerifiedAt.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "Verified:\t%s\n", verified)
	if org := c.orgs.Snapshot().Active; org != nil {
		fmt.Fprintf(w, "Organization:\t%s (%s)\n", org.Name, org.Slug)
		fmt.Fprintf(w, "Role:\t%s\n", org.Role)
	} else {
		fmt.Fprintf(w, "Organization:\tnone\n")
	}
	return w.Flush()
}

func runVerifyEmail(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("verify-email", c)
	send := fs.Bool("send", false, "Send a new verification email")
	token := fs.String("token", "", "Verification token from the email")
	if err := parse(fs, args); err != nil {
		return err
	}

	var status *apiclient.VerificationStatus
	var err error
	switch {
	case *token != "":
		status, err = c.session.VerifyEmail(ctx, *token)
	case *send:
		if err := c.session.SendVerification(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Verification email sent")
		return nil
	default:
		status, err = c.session.VerificationStatus(ctx)
	}
	if err != nil {
		return err
	}

	if status.Verified {
		fmt.Fprintf(c.out, "%s is verified\n", status.Email)
	} else {
		fmt.Fprintf(c.out, "%s is not verified\n", status.Email)
	}
	return nil
}

func runPasswordReset(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("password-reset", c)
	email := fs.String("email", "", "Account email")
	token := fs.String("token", "", "Reset token from the email")
	password := fs.String("password", "", "New password")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *token != "" {
		if err := c.session.CompletePasswordReset(ctx, *token, *password); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Password updated. Sign in with: clinicctl login --email <email>")
		return nil
	}
	if *email == "" {
		return errUsage
	}
	if err := c.session.RequestPasswordReset(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "If the account exists, a reset email has been sent.")
	return nil
}

func runNav(c *cli, ctx context.Context, args []string) error {
	subject, err := c.subject(ctx)
	if err != nil {
		return err
	}
	printNav(c.out, roles.VisibleItems(roles.NavigationItems(subject.Role())), 0)
	return nil
}

func printNav(w io.Writer, items []roles.NavItem, depth int) {
	for _, item := range items {
		fmt.Fprintf(w, "%s%-14s %s\n", strings.Repeat("  ", depth), item.Label, item.Href)
		printNav(w, item.Children, depth+1)
	}
}

// Organizations

func runOrgsList(c *cli, ctx context.Context, args []string) error {
	st := c.orgs.Snapshot()
	if st.Status == orgctx.StatusError {
		return st.Err
	}
	if len(st.Organizations) == 0 {
		fmt.Fprintln(c.out, "You are not a member of any organization. Create one with: clinicctl orgs create --name <name>")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tNAME\tSLUG\tROLE\tID")
	for _, org := range st.Organizations {
		marker := ""
		if st.Active != nil && st.Active.ID == org.ID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, org.Name, org.Slug, org.Role, org.ID)
	}
	return w.Flush()
}

func runOrgsSwitch(c *cli, ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}

	id, err := c.resolveOrg(args[0])
	if err != nil {
		return err
	}
	if err := c.orgs.SwitchOrganization(ctx, id); err != nil {
		return err
	}

	st := c.orgs.Snapshot()
	fmt.Fprintf(c.out, "Switched to %s\n", st.Active.Name)
	if st.Err != nil {
		fmt.Fprintf(c.errOut, "Warning: %v\n", st.Err)
	}
	return nil
}

// resolveOrg accepts an organization id or slug.
func (c *cli) resolveOrg(ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	for _, org := range c.orgs.Snapshot().Organizations {
		if org.Slug == ref {
			return org.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: %s", orgctx.ErrOrganizationNotFound, ref)
}

func runOrgsCreate(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("orgs create", c)
	var in orgctx.CreateInput
	fs.StringVar(&in.Name, "name", "", "Organization name")
	fs.StringVar(&in.Slug, "slug", "", "URL slug (derived from the name when empty)")
	fs.StringVar(&in.Type, "type", "", "Organization type")
	fs.StringVar(&in.Description, "description", "", "Description")
	if err := parse(fs, args); err != nil {
		return err
	}

	org, err := c.orgs.CreateOrganization(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created %s (%s)\n", org.Name, org.Slug)
	return nil
}

func runOrgsInvite(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("orgs invite", c)
	email := fs.String("email", "", "Email to invite")
	role := fs.String("role", string(roles.Member), "Role to grant")
	if err := parse(fs, args); err != nil {
		return err
	}

	active, err := c.activeOrg()
	if err != nil {
		return err
	}
	inv, err := c.orgs.InviteMember(ctx, active.ID, *email, roles.Role(*role))
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Invited %s as %s to %s (expires %s)\n", inv.Email, inv.Role, active.Name, inv.ExpiresAt.Format(time.RFC3339))
	if inv.AcceptURL != "" {
		fmt.Fprintf(c.out, "Accept link: %s\n", inv.AcceptURL)
	}
	return nil
}

func runOrgsMembers(c *cli, ctx context.Context, args []string) error {
	active, err := c.activeOrg()
	if err != nil {
		return err
	}
	members, err := c.orgs.GetOrganizationMembers(ctx, active.ID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tROLE\tJOINED")
	for _, m := range members {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Email, m.FullName, m.Role, m.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func (c *cli) activeOrg() (*apiclient.Organization, error) {
	active := c.orgs.Snapshot().Active
	if active == nil {
		return nil, errors.New("no active organization: run 'clinicctl orgs switch <org>'")
	}
	return active, nil
}

// Documents

func runDocsList(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("docs list", c)
	var q apiclient.DocumentQuery
	fs.StringVar(&q.Status, "status", "", "Filter by status")
	fs.StringVar(&q.DocumentType, "type", "", "Filter by document type")
	fs.IntVar(&q.Page, "page", 1, "Page number")
	fs.IntVar(&q.Limit, "limit", 20, "Page size")
	if err := parse(fs, args); err != nil {
		return err
	}

	docs, meta, err := c.client.ListDocuments(ctx, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tUPLOADED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.DocumentType, d.Status, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Page %d, %d of %d documents\n", meta.Page, len(docs), meta.Total)
	return nil
}

func runDocsUpload(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("docs upload", c)
	docType := fs.String("type", "", "Document type")
	process := fs.Bool("process", false, "Start processing after upload")
	wait := fs.Bool("wait", false, "With --process, wait for the job to finish")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	path := fs.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := c.client.UploadDocument(ctx, filepath.Base(path), *docType, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Uploaded %s (%s)\n", doc.Name, doc.ID)

	if !*process {
		return nil
	}
	return c.process(ctx, doc.ID, *wait)
}

func runDocsProcess(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("docs process", c)
	wait := fs.Bool("wait", false, "Wait for the job to finish")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}
	return c.process(ctx, id, *wait)
}

func (c *cli) process(ctx context.Context, id uuid.UUID, wait bool) error {
	res, err := c.client.ProcessDocument(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Processing started: job %s\n", res.JobID)

	if !wait {
		return nil
	}
	return c.watchJob(ctx, res.JobID)
}

func (c *cli) watchJob(ctx context.Context, jobID string) error {
	c.poller.OnUpdate = func(s apiclient.JobStatus) {
		fmt.Fprintf(c.errOut, "  %s %d%%\n", s.Status, s.Progress)
	}
	_, err := c.poller.Watch(ctx, jobID, func(s apiclient.JobStatus) {
		fmt.Fprintf(c.out, "Job %s completed\n", s.ID)
	})
	return err
}

func runDocsWatch(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("docs watch", c)
	jobID := fs.String("job", "", "Watch a single job")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *jobID != "" {
		return c.watchJob(ctx, *jobID)
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	jobs, err := c.poller.WatchDocument(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATUS\tPROGRESS\tREASON")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\n", j.ID, j.Status, j.Progress, j.FailedReason)
	}
	return w.Flush()
}

func runDocsData(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("docs data", c)
	versions := fs.Bool("versions", false, "List every version")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}
	id, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	if *versions {
		list, err := c.client.DataVersions(ctx, id)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tSOURCE\tCREATED")
		for _, v := range list {
			fmt.Fprintf(w, "%d\t%s\t%s\n", v.Version, v.Source, v.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	}

	v, err := c.client.ExtractedData(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "# version %d (%s)\n", v.Version, v.Source)
	return writeYAML(c.out, v.ExtractedData)
}

// writeYAML renders a JSON document as YAML.
func writeYAML(w io.Writer, raw json.RawMessage) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("decode extracted data: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

// Analytics

func runAnalytics(c *cli, ctx context.Context, args []string) error {
	fs := newFlags("analytics", c)
	period := fs.String("period", "month", "Grouping for document stats")
	if err := parse(fs, args); err != nil {
		return err
	}

	d, err := c.client.Dashboard(ctx)
	if err != nil {
		return err
	}
	stats, err := c.client.DocumentStats(ctx, *period)
	if err != nil {
		return err
	}
	types, err := c.client.DocumentTypes(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Documents:\t%d\t(%+.1f%% vs previous 30 days)\n", d.TotalDocuments, d.DocumentsChange)
	fmt.Fprintf(w, "Last 30 days:\t%d\n", d.DocumentsLast30Days)
	fmt.Fprintf(w, "Success rate:\t%.1f%%\t(%+.1f)\n", d.SuccessRate, d.SuccessRateChange)
	fmt.Fprintf(w, "Avg processing:\t%.1fs\t(%+.1f%%)\n", d.AvgProcessingSeconds, d.ProcessingTimeChange)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "PERIOD\tTOTAL\tOK\tFAILED")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", s.Period, s.DocumentCount, s.SuccessfulCount, s.FailedCount)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "TYPE\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\n", t.DocumentType, t.Count)
	}
	return w.Flush()
}
