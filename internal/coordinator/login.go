package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agritrace/fieldmap/internal/core"
	"github.com/agritrace/fieldmap/internal/model"
	"github.com/agritrace/fieldmap/internal/remote"
)

// LoginResult is the outcome of Login. A failed login is a result, not an
// error; errors are reserved for storage failures and bad input.
type LoginResult struct {
	Success   bool        `json:"success"`
	Token     string      `json:"token,omitempty"`
	User      *model.User `json:"user,omitempty"`
	Message   string      `json:"message,omitempty"`
	IsOffline bool        `json:"isOffline"`
}

// Login authenticates creds. When the device is online the remote service
// is asked first; if that is impossible or fails, the offline credential
// policy is consulted. The two paths never run concurrently.
func (c *Coordinator) Login(ctx context.Context, creds remote.Credentials) (*LoginResult, error) {
	if creds.Username == "" || creds.UserType == "" {
		return nil, errors.New("username and user type are required")
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	onlineErr := "Device is offline"
	switch {
	case c.remote == nil:
		onlineErr = "Remote service not configured"
	case c.conn.Online(ctx):
		res, err := c.loginOnline(ctx, creds)
		if err == nil {
			return res, nil
		}
		var se *remote.StatusError
		switch {
		case errors.Is(err, core.ErrStorage):
			return nil, err
		case errors.As(err, &se):
			onlineErr = se.Message
			if onlineErr == "" {
				onlineErr = se.Error()
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			onlineErr = "Network error"
		}
		c.logger.Printf("[auth] online login for %s failed, trying offline: %v", creds.Username, err)
	}

	return c.loginOffline(ctx, creds, onlineErr)
}

func (c *Coordinator) loginOnline(ctx context.Context, creds remote.Credentials) (*LoginResult, error) {
	sess, err := c.remote.Login(ctx, creds)
	if err != nil {
		return nil, err
	}

	u := sess.User
	if u.Username == "" {
		u.Username = creds.Username
	}
	if u.UserType == "" {
		u.UserType = creds.UserType
	}
	u.IsOffline = false

	if _, err := c.store.SaveToken(ctx, u.Username, sess.Token, u.UserType, u.Role, c.ttl); err != nil {
		return nil, fmt.Errorf("failed to cache session: %w", err)
	}
	if err := c.setUser(ctx, &u); err != nil {
		return nil, err
	}

	c.logger.Printf("[auth] %s logged in online", u.Username)
	return &LoginResult{Success: true, Token: sess.Token, User: &u, IsOffline: false}, nil
}

func (c *Coordinator) loginOffline(ctx context.Context, creds remote.Credentials, onlineErr string) (*LoginResult, error) {
	u, ok := c.policy.Verify(creds.UserType, creds.Username, creds.Password)
	if !ok {
		return &LoginResult{
			Success: false,
			Message: fmt.Sprintf("Authentication failed. %s. No offline credentials available for this user.", onlineErr),
		}, nil
	}

	cached, err := c.store.GetToken(ctx, creds.Username)
	if err != nil {
		return nil, err
	}

	token := ""
	if cached != nil && cached.UserType == creds.UserType {
		token = cached.Token
		if cached.Role != "" {
			u.Role = cached.Role
		}
	} else {
		token, err = c.issuer.Issue(*u, c.ttl)
		if err != nil {
			return nil, err
		}
		if _, err := c.store.SaveToken(ctx, u.Username, token, u.UserType, u.Role, c.ttl); err != nil {
			return nil, fmt.Errorf("failed to cache offline session: %w", err)
		}
	}

	if err := c.setUser(ctx, u); err != nil {
		return nil, err
	}

	c.logger.Printf("[auth] %s logged in offline", u.Username)
	return &LoginResult{Success: true, Token: token, User: u, Message: "Authenticated offline", IsOffline: true}, nil
}

// setUser persists u as the current user and notifies auth listeners.
func (c *Coordinator) setUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := c.store.SetSetting(ctx, core.SettingCurrentUser, string(data)); err != nil {
		return err
	}

	cp := *u
	c.mu.Lock()
	c.user = &cp
	c.mu.Unlock()

	c.notifyAuth(u)
	return nil
}

// Logout drops the current user's cached token and notifies auth
// listeners with nil. It is a no-op when nobody is logged in.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.mu.Lock()
	u := c.user
	c.mu.Unlock()
	if u == nil {
		return nil
	}

	if err := c.store.DeleteToken(ctx, u.Username); err != nil {
		return err
	}
	if err := c.store.DeleteSetting(ctx, core.SettingCurrentUser); err != nil {
		return err
	}

	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()

	c.logger.Printf("[auth] %s logged out", u.Username)
	c.notifyAuth(nil)
	return nil
}

// Restore reloads the session left by a previous run. The stored current
// user wins when its token is still valid; otherwise the first valid cached
// token is used. It returns nil when no session survives.
func (c *Coordinator) Restore(ctx context.Context) (*model.User, error) {
	var u *model.User

	raw, ok, err := c.store.Setting(ctx, core.SettingCurrentUser)
	if err != nil {
		return nil, err
	}
	if ok {
		var stored model.User
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			c.logger.Printf("[auth] discarding unreadable stored user: %v", err)
		} else {
			tok, err := c.store.GetToken(ctx, stored.Username)
			if err != nil {
				return nil, err
			}
			if tok != nil {
				u = &stored
			}
		}
	}

	if u == nil {
		tokens, err := c.store.ValidTokens(ctx)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, nil
		}
		t := tokens[0]
		u = &model.User{
			ID:        model.OfflineUserID,
			Username:  t.Username,
			UserType:  t.UserType,
			Role:      t.Role,
			IsOffline: true,
		}
	}

	if err := c.setUser(ctx, u); err != nil {
		return nil, err
	}
	cp := *u
	return &cp, nil
}

// CurrentUser returns a copy of the logged in user, or nil.
func (c *Coordinator) CurrentUser() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	cp := *c.user
	return &cp
}

// Token returns the current user's cached token, or "" when there is none.
// It has the shape of remote.TokenSource.
func (c *Coordinator) Token(ctx context.Context) string {
	u := c.CurrentUser()
	if u == nil {
		return ""
	}
	t, err := c.store.GetToken(ctx, u.Username)
	if err != nil || t == nil {
		return ""
	}
	return t.Token
}
