package sievemanager

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// DefaultServiceUser owns the mailbox tree on a stock installation.
const DefaultServiceUser = "vmail"

// Owner hands files over to the account the delivery agent runs as.
type Owner interface {
	// Chown changes the owner of each path without following symlinks.
	Chown(paths ...string) error
}

// ServiceOwner resolves a system account by name on every call.
type ServiceOwner struct {
	User string
}

func (o ServiceOwner) Chown(paths ...string) error {
	name := o.User
	if name == "" {
		name = DefaultServiceUser
	}
	u, err := user.Lookup(name)
	if err != nil {
		return fmt.Errorf("failed to look up user %s: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("user %s has non-numeric uid %q", name, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("user %s has non-numeric gid %q", name, u.Gid)
	}

	var errs []error
	for _, p := range paths {
		if err := os.Lchown(p, uid, gid); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopOwner leaves ownership alone. Used when running unprivileged.
type NoopOwner struct{}

func (NoopOwner) Chown(...string) error { return nil }
