// Package portguard inspects the OS connection table for a bound port and
// can force-stop the occupying process.
package portguard

import (
	"fmt"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	gnet "github.com/shirou/gopsutil/v4/net"

	"github.com/kumasuke/s3harness/internal/proc"
)

// stopTimeout bounds how long a force-stopped occupant gets to exit after
// SIGINT before the unconditional kill.
const stopTimeout = 5 * time.Second

// Occupant describes the connection found bound to a checked port.
type Occupant struct {
	PID    int32
	Addr   string
	Port   uint32
	Status string
}

func (o *Occupant) String() string {
	return fmt.Sprintf("pid=%d addr=%s:%d status=%s", o.PID, o.Addr, o.Port, o.Status)
}

// Check scans the connection table for an entry bound to port. If one is
// found and forceStop is set, the owning process is terminated with a
// bounded SIGINT-then-SIGKILL sequence. The occupant is returned either way
// so callers can log what was found.
func Check(port int, forceStop bool) (*Occupant, error) {
	conns, err := gnet.Connections("inet4")
	if err != nil {
		return nil, fmt.Errorf("portguard: list connections: %w", err)
	}

	var busy *Occupant
	for _, conn := range conns {
		if conn.Laddr.Port == uint32(port) && conn.Pid != 0 {
			busy = &Occupant{
				PID:    conn.Pid,
				Addr:   conn.Laddr.IP,
				Port:   conn.Laddr.Port,
				Status: conn.Status,
			}
			break
		}
	}

	if busy == nil {
		return nil, nil
	}

	log.Warn().Int("port", port).Stringer("occupant", busy).Msg("Port is busy")

	if forceStop {
		if err := StopPID(int(busy.PID)); err != nil {
			return busy, err
		}
	}

	return busy, nil
}

// StopPID terminates a process the harness does not know about: SIGINT
// first, then SIGKILL when it refuses to exit within the stop timeout.
func StopPID(pid int) error {
	h, err := proc.FindByPid(pid)
	if err != nil {
		return fmt.Errorf("portguard: find process %d: %w", pid, err)
	}
	if h == nil {
		return fmt.Errorf("portguard: process with pid %d does not exist", pid)
	}

	log.Info().Int("pid", pid).Msg("Trying to stop process")

	if err := h.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("portguard: signal pid %d: %w", pid, err)
	}
	if err := h.Wait(stopTimeout); err != nil {
		_ = h.Signal(syscall.SIGKILL)
		if err := h.Wait(time.Second); err != nil {
			return fmt.Errorf("portguard: pid %d survived SIGKILL", pid)
		}
	}

	log.Info().Int("pid", pid).Msg("Process has been stopped")
	return nil
}
