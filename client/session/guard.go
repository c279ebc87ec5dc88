package session

import (
	"time"

	"github.com/ortelius/community-site/model"
)

// DefaultDeniedDelay is how long the access-denied state shows before going home
const DefaultDeniedDelay = 3 * time.Second

// Outcome of a navigation check
type Outcome int

// Guard outcomes
const (
	Allow Outcome = iota
	RedirectLogin
	AccessDenied
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect-login"
	case AccessDenied:
		return "access-denied"
	}
	return "unknown"
}

// Route is a navigable screen. Roles empty means any signed-in user; Public
// routes need no session at all.
type Route struct {
	Path   string
	Public bool
	Roles  []model.Role
}

// Decision tells the caller what to render for a route
type Decision struct {
	Outcome       Outcome
	RedirectTo    string
	RedirectAfter time.Duration
}

// Guard mirrors the server's access rules for navigation. It never verifies
// tokens; the API remains the authority.
type Guard struct {
	Store       Store
	LoginPath   string
	HomePath    string
	DeniedDelay time.Duration
}

// NewGuard returns a guard with the default login and home routes
func NewGuard(store Store) *Guard {
	return &Guard{
		Store:       store,
		LoginPath:   "/login",
		HomePath:    "/",
		DeniedDelay: DefaultDeniedDelay,
	}
}

// Check decides whether the cached session may open route
func (g *Guard) Check(route Route) (Decision, error) {
	if route.Public {
		return Decision{Outcome: Allow}, nil
	}

	s, err := g.Store.Load()
	if err != nil {
		return Decision{}, err
	}
	if !s.LoggedIn() {
		return Decision{Outcome: RedirectLogin, RedirectTo: g.LoginPath}, nil
	}

	if len(route.Roles) > 0 && !s.Profile.Role.In(route.Roles...) {
		return Decision{
			Outcome:       AccessDenied,
			RedirectTo:    g.HomePath,
			RedirectAfter: g.DeniedDelay,
		}, nil
	}

	return Decision{Outcome: Allow}, nil
}
