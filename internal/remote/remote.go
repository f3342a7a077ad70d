// Package remote talks to the AgriTrace web service: login, record pushes
// and connectivity checks.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/agritrace/fieldmap/internal/model"
)

// User types accepted by the login endpoint.
const (
	UserTypeRegulatory = "regulatory"
	UserTypeFarmer     = "farmer"
	UserTypeFieldAgent = "field_agent"
	UserTypeExporter   = "exporter"
)

var (
	ErrUnauthorized = errors.New("invalid credentials")
	ErrRejected     = errors.New("rejected by remote service")
)

// Credentials identify a user at login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

// Session is a successful online login.
type Session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// StatusError is a non-success answer from the service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote status %d", e.Status)
	}
	return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
}

// Is maps 401/403 onto ErrUnauthorized and every other status onto ErrRejected.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == 401 || e.Status == 403
	case ErrRejected:
		return true
	}
	return false
}

// Client is the remote service as seen by the coordinator and reconciler.
type Client interface {
	Login(ctx context.Context, creds Credentials) (*Session, error)
	PushFarmer(ctx context.Context, f *model.FarmerRegistration) error
	PushPlot(ctx context.Context, p *model.MapPlot) error
	PushInspection(ctx context.Context, i *model.Inspection) error
}

// Static is a fixed connectivity answer, used when no probe URL is configured.
type Static bool

// Online reports the fixed answer.
func (s Static) Online(context.Context) bool { return bool(s) }
