package providers

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Identity is a uid/gid pair.
type Identity struct {
	UID int `json:"uid"`
	GID int `json:"gid"`
}

// IsRoot reports whether the identity is the superuser.
func (id Identity) IsRoot() bool { return id.UID == 0 }

// Root is the superuser identity.
var Root = Identity{UID: 0, GID: 0}

// Privilege is the identity one assertion acts as. It is passed explicitly
// to asserters and executors; the process identity itself is never changed.
type Privilege struct {
	// Become is set when the assertion asked for root.
	Become bool
	// As is the identity side effects should be attributed to.
	As Identity
}

// EffectiveIdentity returns the effective uid/gid of this process.
func EffectiveIdentity() Identity {
	return Identity{UID: unix.Geteuid(), GID: unix.Getegid()}
}

// SudoIdentity returns the identity of the user who invoked sudo, falling
// back to the effective identity when the process was not started by sudo.
func SudoIdentity() (Identity, error) {
	uidStr, gidStr := os.Getenv("SUDO_UID"), os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return EffectiveIdentity(), nil
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return Identity{}, fmt.Errorf("parse SUDO_UID %q: %w", uidStr, err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return Identity{}, fmt.Errorf("parse SUDO_GID %q: %w", gidStr, err)
	}
	return Identity{UID: uid, GID: gid}, nil
}

// Baseline computes the privilege for assertions without become: the sudo
// identity when running under sudo, otherwise the process identity.
func Baseline() (Privilege, error) {
	id, err := SudoIdentity()
	if err != nil {
		return Privilege{}, err
	}
	return Privilege{As: id}, nil
}

// Elevated is the privilege for assertions with a truthy become.
func Elevated() Privilege {
	return Privilege{Become: true, As: Root}
}

// NeedsDrop reports whether work done by a process running as current must
// switch to p.As.
func (p Privilege) NeedsDrop(current Identity) bool {
	return current.IsRoot() && p.As != current
}

// Do runs fn with filesystem access checked as p.As. When the process runs
// as root on behalf of another user, fn runs on a dedicated OS thread whose
// filesystem uid, gid and supplementary groups are those of p.As, so files
// it creates belong to p.As and paths p.As cannot reach fail with EACCES.
// The calling thread keeps its identity.
func (p Privilege) Do(fn func() error) error {
	if !p.NeedsDrop(EffectiveIdentity()) {
		return fn()
	}
	return doAs(p.As, fn)
}
