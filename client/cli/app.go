// Package cli is the terminal client for the community site API.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ortelius/community-site/client/session"
	"github.com/ortelius/community-site/model"
	"golang.org/x/term"
)

// readPassword is swapped out in tests
var readPassword = term.ReadPassword

// Routes are the screens the site navigates between
var Routes = []session.Route{
	{Path: "/", Public: true},
	{Path: "/login", Public: true},
	{Path: "/signup", Public: true},
	{Path: "/forgot-password", Public: true},
	{Path: "/reset-password", Public: true},
	{Path: "/profile"},
	{Path: "/events/new", Roles: []model.Role{model.RoleEditor, model.RoleAdmin}},
	{Path: "/admin/users", Roles: []model.Role{model.RoleAdmin}},
}

// App holds the client, guard and terminal streams for one invocation
type App struct {
	Client *session.Client
	Guard  *session.Guard
	In     *bufio.Reader
	Out    io.Writer
	// PasswordFD is the terminal read for hidden input
	PasswordFD int
}

// NewApp builds an App from the API base URL and the session file
func NewApp(apiURL, sessionPath string) *App {
	store := session.NewFileStore(sessionPath)
	return &App{
		Client:     session.NewClient(apiURL, store),
		Guard:      session.NewGuard(store),
		In:         bufio.NewReader(os.Stdin),
		Out:        os.Stdout,
		PasswordFD: int(os.Stdin.Fd()),
	}
}

// Usage lists the subcommands
func Usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: community [-api URL] [-session FILE] <command> [flags]

Commands:
  signup  -email E [-first F] [-last L]   create an account
  login   -email E                        sign in
  logout                                  forget the stored session
  me                                      show your profile
  profile [-first F] [-last L] [-bio B]   update your profile
  forgot  -email E                        request a password reset link
  reset   -token T                        set a new password with a reset token
  users                                   list members (admin)
  role    -id ID -role ROLE               change a member's role (admin)
  open    PATH                            check whether you may open a page`)
}

// Run executes one subcommand
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		Usage(a.Out)
		return errors.New("missing command")
	}

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(a.Out)

	switch cmd {
	case "signup":
		email := fs.String("email", "", "account email")
		first := fs.String("first", "", "first name")
		last := fs.String("last", "", "last name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" {
			return errors.New("-email is required")
		}
		pw, err := a.password("Choose a password: ")
		if err != nil {
			return err
		}
		s, err := a.Client.Signup(ctx, session.SignupInput{Email: *email, Password: pw, FirstName: *first, LastName: *last})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Welcome, %s. You are signed in as %s.\n", s.Profile.DisplayName(), s.Profile.Role)

	case "login":
		email := fs.String("email", "", "account email")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *email == "" {
			return errors.New("-email is required")
		}
		pw, err := a.password("Password: ")
		if err != nil {
			return err
		}
		s, err := a.Client.Login(ctx, *email, pw)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Signed in as %s (%s) until %s.\n", s.Profile.Email, s.Profile.Role, s.ExpiresAt.Local().Format("2006-01-02 15:04"))

	case "logout":
		next, err := a.Client.Logout()
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Signed out. Continue at %s\n", next)

	case "me":
		p, err := a.Client.Me(ctx)
		if err != nil {
			return a.explain(err)
		}
		a.printProfile(p)

	case "profile":
		var upd model.ProfileUpdate
		fs.Func("first", "first name", func(v string) error { upd.FirstName = &v; return nil })
		fs.Func("last", "last name", func(v string) error { upd.LastName = &v; return nil })
		fs.Func("bio", "short bio", func(v string) error { upd.Bio = &v; return nil })
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if upd.Empty() {
			return errors.New("nothing to update")
		}
		p, err := a.Client.UpdateProfile(ctx, upd)
		if err != nil {
			return a.explain(err)
		}
		a.printProfile(p)

	case "forgot":
		email := fs.String("email", "", "account email")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		msg, err := a.Client.ForgotPassword(ctx, *email)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, msg)

	case "reset":
		token := fs.String("token", "", "token from the reset email")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		valid, err := a.Client.VerifyResetToken(ctx, *token)
		if err != nil {
			return err
		}
		if !valid {
			return errors.New("reset link is invalid or has expired")
		}
		pw, err := a.password("New password: ")
		if err != nil {
			return err
		}
		s, err := a.Client.ResetPassword(ctx, *token, pw)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Password updated. Signed in as %s.\n", s.Profile.Email)

	case "users":
		users, err := a.Client.ListUsers(ctx)
		if err != nil {
			return a.explain(err)
		}
		for _, u := range users {
			fmt.Fprintf(a.Out, "%-36s  %-7s  %s\n", u.ID, u.Role, u.Email)
		}

	case "role":
		id := fs.String("id", "", "user id")
		role := fs.String("role", "", "viewer, editor or admin")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		p, err := a.Client.ChangeRole(ctx, *id, model.Role(*role))
		if err != nil {
			return a.explain(err)
		}
		fmt.Fprintf(a.Out, "%s is now %s. The change applies at their next login.\n", p.Email, p.Role)

	case "open":
		if len(rest) != 1 {
			return errors.New("usage: open PATH")
		}
		route, ok := findRoute(rest[0])
		if !ok {
			return fmt.Errorf("unknown page %q", rest[0])
		}
		d, err := a.Guard.Check(route)
		if err != nil {
			return err
		}
		switch d.Outcome {
		case session.Allow:
			fmt.Fprintf(a.Out, "%s: allowed\n", route.Path)
		case session.RedirectLogin:
			fmt.Fprintf(a.Out, "%s: sign in first, redirecting to %s\n", route.Path, d.RedirectTo)
		case session.AccessDenied:
			fmt.Fprintf(a.Out, "%s: access denied, returning to %s in %s\n", route.Path, d.RedirectTo, d.RedirectAfter)
		}

	default:
		Usage(a.Out)
		return fmt.Errorf("unknown command %q", cmd)
	}

	return nil
}

func (a *App) password(prompt string) (string, error) {
	fmt.Fprint(a.Out, prompt)
	pw, err := readPassword(a.PasswordFD)
	fmt.Fprintln(a.Out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func (a *App) explain(err error) error {
	switch {
	case errors.Is(err, session.ErrNotLoggedIn):
		return errors.New("you are not signed in, run: community login -email you@example.org")
	case errors.Is(err, session.ErrSessionExpired):
		return errors.New("your session has expired, please sign in again")
	case errors.Is(err, session.ErrForbidden):
		return errors.New("access denied: your role does not allow this")
	}
	return err
}

func (a *App) printProfile(p *model.Profile) {
	fmt.Fprintf(a.Out, "Name:  %s\nEmail: %s\nRole:  %s\n", p.DisplayName(), p.Email, p.Role)
	if p.Bio != "" {
		fmt.Fprintf(a.Out, "Bio:   %s\n", p.Bio)
	}
	keys := make([]string, 0, len(p.SocialLinks))
	for k := range p.SocialLinks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.Out, "  %s: %s\n", k, p.SocialLinks[k])
	}
}

func findRoute(path string) (session.Route, bool) {
	path = "/" + strings.Trim(path, "/")
	for _, r := range Routes {
		if r.Path == path {
			return r, true
		}
	}
	return session.Route{}, false
}
