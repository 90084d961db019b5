// Package session owns the signed-in user: mock credential login, persisted
// profiles and the bearer token presented to the relay.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Context is the explicit session object injected into the view. The chat
// pipeline is only built while CurrentUser reports a user, and is torn down
// when Done closes.
type Context struct {
	auth     *Authenticator
	tokens   *Tokens
	profiles ProfileStore
	logger   zerolog.Logger

	mu    sync.RWMutex
	user  *User
	token string
	done  chan struct{}
}

// New creates a signed-out session.
func New(auth *Authenticator, tokens *Tokens, profiles ProfileStore, logger zerolog.Logger) *Context {
	return &Context{
		auth:     auth,
		tokens:   tokens,
		profiles: profiles,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Initialize restores a remembered login, if any. It reports whether a user
// is now signed in.
func (c *Context) Initialize(ctx context.Context) (bool, error) {
	email, ok, err := c.profiles.RememberedLogin(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	u, found, err := c.profiles.LoadProfile(ctx, email)
	if err != nil {
		return false, err
	}
	if !found {
		c.logger.Warn().Str("email", email).Msg("Remembered login has no profile, forgetting it")
		return false, c.profiles.ForgetLogin(ctx)
	}

	if err := c.signIn(u); err != nil {
		return false, err
	}
	c.logger.Info().Str("email", u.Email).Msg("Session restored")
	return true, nil
}

// Login checks credentials, loads or seeds the profile and issues a token.
func (c *Context) Login(ctx context.Context, email, password string) (User, error) {
	if err := c.auth.Verify(email, password); err != nil {
		c.logger.Info().Str("email", email).Msg("Login rejected")
		return User{}, err
	}
	email = c.auth.email

	u, found, err := c.profiles.LoadProfile(ctx, email)
	if err != nil {
		return User{}, err
	}
	if !found {
		u = defaultUser(email)
		if err := c.profiles.SaveProfile(ctx, u); err != nil {
			return User{}, err
		}
	}
	if err := c.profiles.RememberLogin(ctx, email); err != nil {
		return User{}, err
	}

	if err := c.signIn(u); err != nil {
		return User{}, err
	}
	c.logger.Info().Str("email", email).Msg("Logged in")
	return u, nil
}

func (c *Context) signIn(u User) error {
	token, err := c.tokens.Issue(u)
	if err != nil {
		return fmt.Errorf("issue session token: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		close(c.done)
	}
	c.user = &u
	c.token = token
	c.done = make(chan struct{})
	return nil
}

// CurrentUser returns the signed-in user.
func (c *Context) CurrentUser() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return User{}, false
	}
	return *c.user, true
}

// Token returns the bearer token for the current user, or "".
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Done is closed when the current login ends through Logout or Teardown.
func (c *Context) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// UpdateProfile applies update to the current user and persists it.
func (c *Context) UpdateProfile(ctx context.Context, update ProfileUpdate) (User, error) {
	c.mu.RLock()
	if c.user == nil {
		c.mu.RUnlock()
		return User{}, ErrNoSession
	}
	updated := c.user.apply(update)
	c.mu.RUnlock()

	if updated.Name == "" {
		return User{}, fmt.Errorf("profile name must not be empty")
	}
	if err := c.profiles.SaveProfile(ctx, updated); err != nil {
		return User{}, err
	}

	c.mu.Lock()
	if c.user != nil && c.user.Email == updated.Email {
		c.user = &updated
	}
	c.mu.Unlock()

	c.logger.Debug().Str("email", updated.Email).Msg("Profile updated")
	return updated, nil
}

// Logout signs out and forgets the remembered login.
func (c *Context) Logout(ctx context.Context) error {
	if !c.end() {
		return ErrNoSession
	}
	c.logger.Info().Msg("Logged out")
	return c.profiles.ForgetLogin(ctx)
}

// Teardown ends the session without forgetting the login and closes the store.
func (c *Context) Teardown() error {
	c.end()
	return c.profiles.Close()
}

func (c *Context) end() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return false
	}
	c.user = nil
	c.token = ""
	close(c.done)
	return true
}
