package worker

import (
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const readChunk = 4096

// waitForInput blocks until any child produces readable bytes or
// closes, or the earliest deadline fires, then dispatches bytes/EOF
// and evaluates timeouts. It uses unix.Poll over the union of every
// child's readable stream descriptors, the same poll(2)-based backend
// the original Nix worker uses on POSIX.
func (w *Worker) waitForInput() error {
	before := w.clock.Now()

	haveDeadline := false
	var nearest time.Time
	considerDeadline := func(t time.Time) {
		if !haveDeadline || t.Before(nearest) {
			nearest = t
			haveDeadline = true
		}
	}

	if w.store.MinFree() != 0 {
		considerDeadline(before.Add(10 * time.Second))
	}
	for _, c := range w.children {
		if !c.respectTimeouts {
			continue
		}
		if w.settings.MaxSilentTime > 0 {
			considerDeadline(c.lastOutput.Add(time.Duration(w.settings.MaxSilentTime) * time.Second))
		}
		if w.settings.BuildTimeout > 0 {
			considerDeadline(c.timeStarted.Add(time.Duration(w.settings.BuildTimeout) * time.Second))
		}
	}

	useTimeout := false
	var timeoutSeconds int64
	if haveDeadline {
		useTimeout = true
		timeoutSeconds = secondsAtLeastOne(nearest.Sub(before))
	}

	if len(w.waitingForAWhile) > 0 {
		useTimeout = true
		if !w.hasWokenUp || w.lastWokenUp.After(before) {
			w.lastWokenUp = before
			w.hasWokenUp = true
		}
		deadline := w.lastWokenUp.Add(time.Duration(w.settings.PollInterval) * time.Second)
		t := secondsAtLeastOne(deadline.Sub(before))
		if !haveDeadline || t < timeoutSeconds {
			timeoutSeconds = t
		}
	} else {
		w.hasWokenUp = false
	}

	var pollfds []unix.PollFd
	fdOwner := make(map[int]*child)
	for _, c := range w.children {
		for s := range c.streams {
			pollfds = append(pollfds, unix.PollFd{Fd: int32(s), Events: unix.POLLIN})
			fdOwner[s] = c
		}
	}

	timeoutMs := -1
	if useTimeout {
		timeoutMs = int(timeoutSeconds * 1000)
	}

	if _, err := unix.Poll(pollfds, timeoutMs); err != nil {
		if err == unix.EINTR {
			return nil
		}
		return xerrors.Errorf("waiting for input: %w", err)
	}

	after := w.clock.Now()
	buf := make([]byte, readChunk)

	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		fd := int(pfd.Fd)
		c := fdOwner[fd]
		if c == nil {
			continue
		}
		if _, stillOpen := c.streams[fd]; !stillOpen {
			continue
		}

		n, rerr := unix.Read(fd, buf)
		switch {
		case rerr != nil && rerr == unix.EINTR:
			// ignore this stream this cycle
		case rerr != nil && rerr == unix.EIO:
			// pseudo-terminal closed
			c.goal.HandleEOF(fd)
			delete(c.streams, fd)
		case rerr != nil:
			return xerrors.Errorf("%s: read failed: %w", c.goal.Name(), rerr)
		case n == 0:
			c.goal.HandleEOF(fd)
			delete(c.streams, fd)
		default:
			c.lastOutput = after
			data := make([]byte, n)
			copy(data, buf[:n])
			c.goal.HandleChildOutput(fd, data)
		}
	}

	for _, c := range w.children {
		if c.goal.ExitCode() != ExitBusy || !c.respectTimeouts {
			continue
		}
		if w.settings.MaxSilentTime != 0 && after.Sub(c.lastOutput) >= time.Duration(w.settings.MaxSilentTime)*time.Second {
			c.goal.TimedOut(&TimeoutError{GoalName: c.goal.Name(), Seconds: w.settings.MaxSilentTime, Silent: true})
		} else if w.settings.BuildTimeout != 0 && after.Sub(c.timeStarted) >= time.Duration(w.settings.BuildTimeout)*time.Second {
			c.goal.TimedOut(&TimeoutError{GoalName: c.goal.Name(), Seconds: w.settings.BuildTimeout, Silent: false})
		}
	}

	if len(w.waitingForAWhile) > 0 {
		deadline := w.lastWokenUp.Add(time.Duration(w.settings.PollInterval) * time.Second)
		if !deadline.After(after) {
			w.lastWokenUp = after
			for g := range w.waitingForAWhile {
				w.wakeUp(g)
			}
			w.waitingForAWhile = make(map[Goal]struct{})
		}
	}

	return nil
}

func secondsAtLeastOne(d time.Duration) int64 {
	s := int64(d.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}
