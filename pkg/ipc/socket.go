/*
Copyright © 2024 The kexecboot Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipc

import (
	"fmt"
	"net"
	"os"
)

// DefaultSocketPath is the well-known UNIX-domain socket the daemon binds
// and the client connects to, matching the grounding source's
// TINYBOOT_SOCKET constant.
const DefaultSocketPath = "/run/kexecboot/kexecboot.sock"

// Listen binds the daemon's UNIX-domain stream socket at path and chowns it
// to uid/gid, so the unprivileged UI client (running as that uid) can
// connect to a socket bound by the root daemon.
func Listen(path string, uid, gid int) (net.Listener, error) {
	_ = os.Remove(path) // stale socket from a prior run
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", path, err)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		l.Close()
		return nil, fmt.Errorf("chowning %s to %d:%d: %w", path, uid, gid, err)
	}
	return l, nil
}

// Dial connects to the daemon's socket at path.
func Dial(path string) (net.Conn, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	return conn, nil
}
