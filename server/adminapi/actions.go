package adminapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/grufocom/postsible/consts"
	"github.com/grufocom/postsible/helpers"
)

const maxRequestBytes = 1 << 20

// Request is the union of every action's parameters.
type Request struct {
	Action      string `json:"action"`
	Domain      string `json:"domain"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Quota       *int64 `json:"quota"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Signature   string `json:"signature"`
	Subject     string `json:"subject"`
	Message     string `json:"message"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// Response is the JSON object returned for every action. "success" is set
// by the dispatcher.
type Response map[string]any

type actionFunc func(ctx context.Context, req *Request) (Response, error)

func (s *Server) actionTable() map[string]actionFunc {
	return map[string]actionFunc{
		"getDomains":   s.getDomains,
		"addDomain":    s.addDomain,
		"removeDomain": s.removeDomain,

		"getUsers":       s.getUsers,
		"addUser":        s.addUser,
		"removeUser":     s.removeUser,
		"enableUser":     s.setUserEnabled(true),
		"disableUser":    s.setUserEnabled(false),
		"changePassword": s.changePassword,
		"setQuota":       s.setQuota,

		"getAliases":  s.getAliases,
		"addAlias":    s.addAlias,
		"removeAlias": s.removeAlias,

		"getSignature":    s.getSignature,
		"setSignature":    s.setSignature,
		"deleteSignature": s.deleteSignature,
		"getVacation":     s.getVacation,
		"setVacation":     s.setVacation,
		"disableVacation": s.disableVacation,
	}
}

// Actions lists the action names the dispatcher accepts.
func (s *Server) Actions() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	return names
}

func message(format string, args ...any) Response {
	return Response{"message": fmt.Sprintf(format, args...)}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &consts.ValidationError{Reason: fmt.Sprintf("%s is required", field)}
	}
	return nil
}

func (s *Server) getDomains(ctx context.Context, _ *Request) (Response, error) {
	domains, err := s.accounts.ListDomains(ctx)
	if err != nil {
		return nil, err
	}
	return Response{"domains": domains}, nil
}

func (s *Server) addDomain(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.AddDomain(ctx, req.Domain); err != nil {
		return nil, err
	}
	return message("Domain %s created", helpers.CanonicalDomain(req.Domain)), nil
}

func (s *Server) removeDomain(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.RemoveDomain(ctx, req.Domain); err != nil {
		return nil, err
	}
	return message("Domain %s deleted", req.Domain), nil
}

func (s *Server) getUsers(ctx context.Context, req *Request) (Response, error) {
	users, err := s.accounts.ListMailboxes(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	return Response{"users": users}, nil
}

func (s *Server) addUser(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.AddMailbox(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}
	return message("User %s created", req.Email), nil
}

func (s *Server) removeUser(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.RemoveMailbox(ctx, req.Email); err != nil {
		return nil, err
	}
	return message("User %s deleted", req.Email), nil
}

func (s *Server) setUserEnabled(enabled bool) actionFunc {
	return func(ctx context.Context, req *Request) (Response, error) {
		if err := required("Email", req.Email); err != nil {
			return nil, err
		}
		if err := s.accounts.SetMailboxEnabled(ctx, req.Email, enabled); err != nil {
			return nil, err
		}
		if enabled {
			return message("User %s enabled", req.Email), nil
		}
		return message("User %s disabled", req.Email), nil
	}
}

func (s *Server) changePassword(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.ChangePassword(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}
	return message("Password changed"), nil
}

func (s *Server) setQuota(ctx context.Context, req *Request) (Response, error) {
	if req.Quota == nil {
		return nil, &consts.ValidationError{Field: "quota", Reason: "quota is required"}
	}
	if err := s.accounts.SetMailboxQuota(ctx, req.Email, *req.Quota); err != nil {
		return nil, err
	}
	return message("Quota of %s set to %d", req.Email, *req.Quota), nil
}

func (s *Server) getAliases(ctx context.Context, req *Request) (Response, error) {
	aliases, err := s.accounts.ListAliases(ctx, req.Domain)
	if err != nil {
		return nil, err
	}
	return Response{"aliases": aliases}, nil
}

func (s *Server) addAlias(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.AddAlias(ctx, req.Source, req.Destination); err != nil {
		return nil, err
	}
	return message("Alias %s -> %s created", req.Source, req.Destination), nil
}

func (s *Server) removeAlias(ctx context.Context, req *Request) (Response, error) {
	if err := s.accounts.RemoveAlias(ctx, req.Source); err != nil {
		return nil, err
	}
	return message("Alias %s deleted", req.Source), nil
}

// mailbox confirms the address belongs to an existing mailbox before any
// filter state is touched.
func (s *Server) mailbox(ctx context.Context, req *Request) error {
	if err := required("Email", req.Email); err != nil {
		return err
	}
	_, err := s.accounts.GetMailbox(ctx, req.Email)
	return err
}

func (s *Server) getSignature(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	sig, err := s.filters.GetSignature(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if sig == nil {
		return Response{"signature": nil}, nil
	}
	return Response{"signature": *sig}, nil
}

func (s *Server) setSignature(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	if err := s.filters.SetSignature(ctx, req.Email, req.Signature); err != nil {
		return nil, err
	}
	return message("Signature saved"), nil
}

func (s *Server) deleteSignature(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	if err := s.filters.DeleteSignature(ctx, req.Email); err != nil {
		return nil, err
	}
	return message("Signature deleted"), nil
}

func (s *Server) getVacation(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	v, err := s.filters.GetVacation(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return Response{"vacation": nil}, nil
	}
	return Response{"vacation": v}, nil
}

func (s *Server) setVacation(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	if err := s.filters.SetVacation(ctx, req.Email, req.Subject, req.Message, req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	return message("Vacation message activated"), nil
}

func (s *Server) disableVacation(ctx context.Context, req *Request) (Response, error) {
	if err := s.mailbox(ctx, req); err != nil {
		return nil, err
	}
	if err := s.filters.DisableVacation(ctx, req.Email); err != nil {
		return nil, err
	}
	return message("Vacation message disabled"), nil
}
