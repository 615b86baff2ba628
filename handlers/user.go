package handlers

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmcleod/clinicdesk/internal/util"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/storage"
)

func (s *Service) userModule() routes.Module {
	return routes.Module{
		Path:           "user",
		Middlewares:    []ipc.Middleware{ipc.WithError},
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listUsers),
			routes.Func("get", s.getUser),
			routes.Func("create", s.createUser),
		},
	}
}

func (s *Service) listUsers(c *ipc.Call, _ ipc.NoArgs) ([]records.UserInfo, error) {
	users, err := s.clinic.Users.List(c.Context())
	if err != nil {
		return nil, err
	}
	out := make([]records.UserInfo, len(users))
	for i := range users {
		out[i] = users[i].Public()
	}
	return out, nil
}

// getUser returns nil when no user has the id.
func (s *Service) getUser(c *ipc.Call, args IDArgs) (*records.UserInfo, error) {
	u, err := s.clinic.Users.Get(c.Context(), string(args.ID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	info := u.Public()
	return &info, nil
}

func (s *Service) createUser(c *ipc.Call, args Credentials) (records.UserInfo, error) {
	username := util.NormalizeUsername(args.Username)
	if err := records.ValidatePassword(args.Password); err != nil {
		return records.UserInfo{}, err
	}
	_, taken, err := s.findUser(c, username)
	if err != nil {
		return records.UserInfo{}, err
	}
	if taken {
		return records.UserInfo{}, fmt.Errorf("username %q: %w", username, records.ErrDuplicate)
	}

	u := records.User{Username: username}
	if err := u.SetPassword(args.Password); err != nil {
		return records.UserInfo{}, err
	}
	created, err := s.clinic.Users.Create(c.Context(), u)
	if err != nil {
		return records.UserInfo{}, err
	}
	s.audit.log(c.Context(), AuditUserCreated, c.WindowID,
		slog.String("user_id", userID(c)),
		slog.String("created_id", created.ID),
	)
	return created.Public(), nil
}
