//go:build windows

package replace

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// RestartManagerReleaser closes handles through the Windows Restart
// Manager, which can shut down file references held by other processes.
type RestartManagerReleaser struct{}

// NewPlatformReleaser returns the handle releaser for this platform.
func NewPlatformReleaser() HandleReleaser {
	return RestartManagerReleaser{}
}

var (
	rstrtmgr                = windows.NewLazySystemDLL("rstrtmgr.dll")
	procRmStartSession      = rstrtmgr.NewProc("RmStartSession")
	procRmRegisterResources = rstrtmgr.NewProc("RmRegisterResources")
	procRmShutdown          = rstrtmgr.NewProc("RmShutdown")
	procRmEndSession        = rstrtmgr.NewProc("RmEndSession")
)

const (
	rmForceShutdown = 0x1
	cchRmSessionKey = 32
)

// CloseOwnHandles is a no-op on Windows; the process closes its own
// handles before the replacement protocol starts.
func (RestartManagerReleaser) CloseOwnHandles(string) error { return nil }

// ForceCloseAll registers the path with a Restart Manager session and
// forces a shutdown of every process holding it open.
func (RestartManagerReleaser) ForceCloseAll(path string) error {
	var session uint32
	var key [cchRmSessionKey + 1]uint16

	r, _, _ := procRmStartSession.Call(
		uintptr(unsafe.Pointer(&session)),
		0,
		uintptr(unsafe.Pointer(&key[0])),
	)
	if r != 0 {
		return fmt.Errorf("RmStartSession: %d", r)
	}
	defer procRmEndSession.Call(uintptr(session))

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("encode path: %w", err)
	}
	resources := []*uint16{pathPtr}

	r, _, _ = procRmRegisterResources.Call(
		uintptr(session),
		uintptr(len(resources)),
		uintptr(unsafe.Pointer(&resources[0])),
		0, 0, 0, 0,
	)
	if r != 0 {
		return fmt.Errorf("RmRegisterResources: %d", r)
	}

	r, _, _ = procRmShutdown.Call(uintptr(session), rmForceShutdown, 0)
	if r != 0 {
		return fmt.Errorf("RmShutdown: %d", r)
	}

	return nil
}
