//go:build linux

package reactor

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrFDNotRegistered is returned by ModifyFD/UnregisterFD for an fd that
// was never passed to RegisterFD.
var ErrFDNotRegistered = errors.New("reactor: fd not registered")

type epollFdInfo struct {
	events IOEvent
	cb     IOCallback
}

// epollPoller implements poller on Linux using epoll. The wake mechanism
// uses an eventfd so a goroutine blocked in epoll_wait can be woken from
// any other goroutine without a syscall round trip through a pipe.
type epollPoller struct {
	epfd   int
	wakeFd int

	mu  sync.RWMutex
	fds map[int]*epollFdInfo
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	p := &epollPoller{epfd: epfd, wakeFd: wakeFd, fds: make(map[int]*epollFdInfo)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		unix.Close(epfd)
		unix.Close(wakeFd)
		return nil, err
	}
	return p, nil
}

func toEpollEvents(events IOEvent) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) IOEvent {
	var events IOEvent
	if e&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if e&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}

func (p *epollPoller) RegisterFD(fd int, events IOEvent, cb IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fds[fd] = &epollFdInfo{events: events, cb: cb}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (p *epollPoller) ModifyFD(fd int, events IOEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.fds[fd]
	if !ok {
		return ErrFDNotRegistered
	}
	info.events = events
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (p *epollPoller) UnregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return ErrFDNotRegistered
	}
	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Poll(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	var events [128]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, events[:], ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakeFd {
			var buf [8]byte
			unix.Read(p.wakeFd, buf[:])
			continue
		}
		p.mu.RLock()
		info, ok := p.fds[fd]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		info.cb(fromEpollEvents(events[i].Events))
	}
	return nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakeFd, buf[:])
	return err
}

func (p *epollPoller) Close() error {
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
