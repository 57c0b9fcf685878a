//go:build !linux

package providers

import "fmt"

func doAs(id Identity, fn func() error) error {
	return fmt.Errorf("acting as uid %d from root is only supported on linux; set become or run without sudo", id.UID)
}
