//go:build darwin

package reactor

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type kqueueFdInfo struct {
	events IOEvent
	cb     IOCallback
}

// kqueuePoller implements poller on Darwin using kqueue. Wakeups use a
// self-pipe registered as a read-interest filter, since kqueue has no
// portable cross-goroutine eventfd equivalent.
type kqueuePoller struct {
	kq           int
	wakeReadFd   int
	wakeWriteFd  int

	mu  sync.RWMutex
	fds map[int]*kqueueFdInfo
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		unix.Close(kq)
		return nil, err
	}
	unix.SetNonblock(fds[0], true)
	unix.SetNonblock(fds[1], true)

	p := &kqueuePoller{kq: kq, wakeReadFd: fds[0], wakeWriteFd: fds[1], fds: make(map[int]*kqueueFdInfo)}
	changes := []unix.Kevent_t{{Ident: uint64(fds[0]), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE}}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) RegisterFD(fd int, events IOEvent, cb IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = &kqueueFdInfo{events: events, cb: cb}
	return p.applyLocked(fd, events)
}

func (p *kqueuePoller) ModifyFD(fd int, events IOEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	old := info.events
	info.events = events
	if err := p.toggle(fd, old&EventRead != 0, events&EventRead != 0, unix.EVFILT_READ); err != nil {
		return err
	}
	return p.toggle(fd, old&EventWrite != 0, events&EventWrite != 0, unix.EVFILT_WRITE)
}

func (p *kqueuePoller) applyLocked(fd int, events IOEvent) error {
	var changes []unix.Kevent_t
	if events&EventRead != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if events&EventWrite != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) toggle(fd int, was, now bool, filter int16) error {
	if was == now {
		return nil
	}
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !now {
		flags = unix.EV_DELETE
	}
	changes := []unix.Kevent_t{{Ident: uint64(fd), Filter: filter, Flags: flags}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

// ErrFDNotRegistered is returned by ModifyFD/UnregisterFD for an fd that
// was never passed to RegisterFD.
var ErrFDNotRegistered = errors.New("reactor: fd not registered")

func (p *kqueuePoller) UnregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	p.toggle(fd, info.events&EventRead != 0, false, unix.EVFILT_READ)
	p.toggle(fd, info.events&EventWrite != 0, false, unix.EVFILT_WRITE)
	return nil
}

func (p *kqueuePoller) Poll(timeout time.Duration) error {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	var events [128]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, events[:], ts)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Ident)
		if fd == p.wakeReadFd {
			var buf [512]byte
			for {
				if _, err := unix.Read(p.wakeReadFd, buf[:]); err != nil {
					break
				}
			}
			continue
		}
		p.mu.RLock()
		info, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		var e IOEvent
		switch events[i].Filter {
		case unix.EVFILT_READ:
			e = EventRead
		case unix.EVFILT_WRITE:
			e = EventWrite
		}
		if events[i].Flags&unix.EV_EOF != 0 {
			e |= EventHangup
		}
		info.cb(e)
	}
	return nil
}

func (p *kqueuePoller) Wake() error {
	_, err := unix.Write(p.wakeWriteFd, []byte{1})
	return err
}

func (p *kqueuePoller) Close() error {
	unix.Close(p.wakeReadFd)
	unix.Close(p.wakeWriteFd)
	return unix.Close(p.kq)
}
