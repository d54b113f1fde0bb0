//go:build linux

package serial

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// wakeToken marks the self-pipe inside the epoll set.
const wakeToken Token = 0

type epollEntry struct {
	fd     int
	ready  Interest
	ticks  [2]uint64 // edges seen per direction, indexed by Interest.slot
	reader Waker
	writer Waker
}

// epollReactor runs one goroutine blocked in epoll_wait. Descriptors are
// registered edge-triggered, so each edge is reported once and recorded in
// the entry's readiness bits until a would-block clears them.
type epollReactor struct {
	epfd   int
	pipeR  int // self-pipe read fd
	pipeW  int // self-pipe write fd
	logger *zap.Logger

	mu      sync.Mutex
	entries map[Token]*epollEntry
	fds     map[int]Token
	next    Token

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// ReactorOption configures NewReactor.
type ReactorOption func(*epollReactor)

// WithReactorLogger sets the reactor's logger.
func WithReactorLogger(logger *zap.Logger) ReactorOption {
	return func(r *epollReactor) { r.logger = logger }
}

// NewReactor starts an epoll reactor.
func NewReactor(opts ...ReactorOption) (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	r := &epollReactor{
		epfd:    epfd,
		pipeR:   pipeFds[0],
		pipeW:   pipeFds[1],
		logger:  zap.NewNop(),
		entries: make(map[Token]*epollEntry),
		fds:     make(map[int]Token),
		next:    wakeToken + 1,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	setToken(&ev, wakeToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.pipeR, &ev); err != nil {
		r.closeFds()
		return nil, fmt.Errorf("epoll add wake pipe: %w", err)
	}

	go r.loop()
	return r, nil
}

func setToken(ev *unix.EpollEvent, tok Token) {
	ev.Fd = int32(uint32(tok))
	ev.Pad = int32(uint32(tok >> 32))
}

func eventToken(ev *unix.EpollEvent) Token {
	return Token(uint32(ev.Fd)) | Token(uint32(ev.Pad))<<32
}

func (r *epollReactor) Register(fd int) (Token, error) {
	if r.closed.Load() {
		return 0, &RegistrationError{Fd: fd, Err: errors.New("reactor closed")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fds[fd]; ok {
		return 0, &RegistrationError{Fd: fd, Err: errors.New("descriptor already registered")}
	}

	tok := r.next
	r.next++

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET}
	setToken(&ev, tok)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, &RegistrationError{Fd: fd, Err: err}
	}

	r.entries[tok] = &epollEntry{fd: fd}
	r.fds[fd] = tok
	r.logger.Debug("Descriptor registered", zap.Int("fd", fd), zap.Uint64("token", uint64(tok)))
	return tok, nil
}

func (r *epollReactor) Readiness(tok Token, dir Interest) (bool, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[tok]
	if !ok {
		return false, 0
	}
	return e.ready&dir != 0, e.ticks[dir.slot()]
}

func (r *epollReactor) ClearReadiness(tok Token, dir Interest, tick uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[tok]; ok && e.ticks[dir.slot()] == tick {
		e.ready &^= dir
	}
}

func (r *epollReactor) RegisterWaker(tok Token, dir Interest, w Waker) bool {
	r.mu.Lock()
	e, ok := r.entries[tok]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if e.ready&dir != 0 {
		r.mu.Unlock()
		w.Wake()
		return true
	}
	if dir == WriteInterest {
		e.writer = w
	} else {
		e.reader = w
	}
	r.mu.Unlock()
	return true
}

func (r *epollReactor) Deregister(tok Token) error {
	r.mu.Lock()
	e, ok := r.entries[tok]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, tok)
	delete(r.fds, e.fd)
	reader, writer := e.reader, e.writer
	r.mu.Unlock()

	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, e.fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		err = nil
	}

	// Tasks parked on this descriptor re-poll and find it closed.
	if reader != nil {
		reader.Wake()
	}
	if writer != nil {
		writer.Wake()
	}

	r.logger.Debug("Descriptor deregistered", zap.Int("fd", e.fd), zap.Uint64("token", uint64(tok)))
	if err != nil {
		return fmt.Errorf("epoll del fd %d: %w", e.fd, err)
	}
	return nil
}

func (r *epollReactor) loop() {
	defer close(r.done)
	events := make([]unix.EpollEvent, 128)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			r.logger.Error("Reactor wait failed", zap.Error(err))
			return
		}
		for i := range events[:n] {
			tok := eventToken(&events[i])
			if tok == wakeToken {
				// Drain pipe
				var b [16]byte
				for {
					if _, err := unix.Read(r.pipeR, b[:]); err != nil {
						break
					}
				}
				if r.closed.Load() {
					return
				}
				continue
			}
			r.dispatch(tok, events[i].Events)
		}
	}
}

func (r *epollReactor) dispatch(tok Token, events uint32) {
	var ready Interest
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		ready |= ReadInterest
	}
	if events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		ready |= WriteInterest
	}

	r.mu.Lock()
	e, ok := r.entries[tok]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.ready |= ready
	if ready&ReadInterest != 0 {
		e.ticks[ReadInterest.slot()]++
	}
	if ready&WriteInterest != 0 {
		e.ticks[WriteInterest.slot()]++
	}
	var wake []Waker
	if ready&ReadInterest != 0 && e.reader != nil {
		wake = append(wake, e.reader)
		e.reader = nil
	}
	if ready&WriteInterest != 0 && e.writer != nil {
		wake = append(wake, e.writer)
		e.writer = nil
	}
	r.mu.Unlock()

	for _, w := range wake {
		w.Wake()
	}
}

// Close stops the reactor goroutine. Registered descriptors are not closed.
func (r *epollReactor) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		// Wake up epoll_wait using self-pipe
		unix.Write(r.pipeW, []byte{1})
		<-r.done

		r.mu.Lock()
		pending := r.entries
		r.entries = make(map[Token]*epollEntry)
		r.fds = make(map[int]Token)
		r.mu.Unlock()
		for _, e := range pending {
			if e.reader != nil {
				e.reader.Wake()
			}
			if e.writer != nil {
				e.writer.Wake()
			}
		}
		r.closeFds()
	})
	return nil
}

func (r *epollReactor) closeFds() {
	unix.Close(r.pipeR)
	unix.Close(r.pipeW)
	unix.Close(r.epfd)
}
