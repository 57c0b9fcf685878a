package providers

import (
	"fmt"
	"os/user"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// doAs runs fn on a locked thread switched to id. The thread is never
// unlocked, so the runtime discards it when the goroutine exits.
func doAs(id Identity, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		if err := dropThread(id); err != nil {
			done <- err
			return
		}
		done <- fn()
	}()
	return <-done
}

// dropThread switches the calling thread's supplementary groups and
// filesystem ids. x/sys issues these as raw syscalls, which the kernel
// applies to the calling thread only.
func dropThread(id Identity) error {
	if err := unix.Setgroups(groupsOf(id)); err != nil {
		return fmt.Errorf("setgroups for uid %d: %w", id.UID, err)
	}
	if err := unix.Setfsgid(id.GID); err != nil {
		return fmt.Errorf("setfsgid %d: %w", id.GID, err)
	}
	if err := unix.Setfsuid(id.UID); err != nil {
		return fmt.Errorf("setfsuid %d: %w", id.UID, err)
	}
	// setfsuid reports the previous value; querying with -1 confirms the switch.
	if got, _ := unix.SetfsuidRetUid(-1); got != id.UID {
		return fmt.Errorf("setfsuid %d: thread still at %d", id.UID, got)
	}
	if got, _ := unix.SetfsgidRetGid(-1); got != id.GID {
		return fmt.Errorf("setfsgid %d: thread still at %d", id.GID, got)
	}
	return nil
}

// groupsOf returns the group list of id's user, or just its primary group
// when the user is unknown to the system.
func groupsOf(id Identity) []int {
	groups := []int{id.GID}
	u, err := user.LookupId(strconv.Itoa(id.UID))
	if err != nil {
		return groups
	}
	ids, err := u.GroupIds()
	if err != nil {
		return groups
	}
	for _, s := range ids {
		gid, err := strconv.Atoi(s)
		if err != nil || gid == id.GID {
			continue
		}
		groups = append(groups, gid)
	}
	return groups
}
