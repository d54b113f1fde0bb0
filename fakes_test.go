package serial

import (
	"bytes"
	"errors"
	"sync"
	"syscall"
)

// journal records the order of side effects across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakePort struct {
	mu  sync.Mutex
	log *journal
	fd  int

	inbox      bytes.Buffer
	written    bytes.Buffer
	writeLimit []int // per-call caps on accepted bytes, consumed in order
	writeBlock bool
	readErr    error
	writeErr   error
	setErr     error
	onRead     func()

	cfg        Config
	closed     bool
	readCalls  int
	writeCalls int
	closeCalls int
}

func newFakePort(log *journal) *fakePort {
	return &fakePort{log: log, fd: 42}
}

func (p *fakePort) Fd() int { return p.fd }

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	p.readCalls++
	hook := p.onRead
	if p.closed {
		p.mu.Unlock()
		return 0, syscall.EBADF
	}
	if p.readErr != nil {
		err := p.readErr
		p.mu.Unlock()
		return 0, err
	}
	if p.inbox.Len() == 0 {
		p.mu.Unlock()
		if hook != nil {
			hook()
		}
		return 0, ErrWouldBlock
	}
	n, _ := p.inbox.Read(b)
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeCalls++
	if p.closed {
		return 0, syscall.EBADF
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.writeBlock {
		return 0, ErrWouldBlock
	}
	n := len(b)
	if len(p.writeLimit) > 0 {
		if p.writeLimit[0] < n {
			n = p.writeLimit[0]
		}
		p.writeLimit = p.writeLimit[1:]
	}
	p.written.Write(b[:n])
	return n, nil
}

func (p *fakePort) SetConfig(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.cfg = cfg
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	if p.log != nil {
		p.log.add("close")
	}
	return nil
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	p.inbox.Write(b)
	p.mu.Unlock()
}

type fakeDriver struct {
	port  *fakePort
	err   error
	opens int
}

func (d *fakeDriver) Open(cfg Config) (RawPort, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	d.port.cfg = cfg
	return d.port, nil
}

type fakeEntry struct {
	ready  Interest
	ticks  [2]uint64
	reader Waker
	writer Waker
}

type fakeReactor struct {
	mu          sync.Mutex
	log         *journal
	entries     map[Token]*fakeEntry
	fds         map[int]bool
	next        Token
	registerErr error
}

func newFakeReactor(log *journal) *fakeReactor {
	return &fakeReactor{log: log, entries: map[Token]*fakeEntry{}, fds: map[int]bool{}, next: 1}
}

func (r *fakeReactor) Register(fd int) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return 0, r.registerErr
	}
	if r.fds[fd] {
		return 0, &RegistrationError{Fd: fd, Err: errors.New("descriptor already registered")}
	}
	tok := r.next
	r.next++
	r.fds[fd] = true
	r.entries[tok] = &fakeEntry{ready: ReadInterest | WriteInterest}
	return tok, nil
}

func (r *fakeReactor) Readiness(tok Token, dir Interest) (bool, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[tok]; ok {
		return e.ready&dir != 0, e.ticks[dir.slot()]
	}
	return false, 0
}

func (r *fakeReactor) ClearReadiness(tok Token, dir Interest, tick uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[tok]; ok && e.ticks[dir.slot()] == tick {
		e.ready &^= dir
	}
}

func (r *fakeReactor) RegisterWaker(tok Token, dir Interest, w Waker) bool {
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

func (r *fakeReactor) Deregister(tok Token) error {
	r.mu.Lock()
	e, ok := r.entries[tok]
	delete(r.entries, tok)
	r.fds = map[int]bool{}
	r.mu.Unlock()
	if r.log != nil {
		r.log.add("deregister")
	}
	if ok {
		if e.reader != nil {
			e.reader.Wake()
		}
		if e.writer != nil {
			e.writer.Wake()
		}
	}
	return nil
}

// Close drops every registration and wakes parked tasks, like the epoll reactor.
func (r *fakeReactor) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = map[Token]*fakeEntry{}
	r.fds = map[int]bool{}
	r.mu.Unlock()
	for _, e := range entries {
		if e.reader != nil {
			e.reader.Wake()
		}
		if e.writer != nil {
			e.writer.Wake()
		}
	}
	return nil
}

// signal simulates a readiness edge.
func (r *fakeReactor) signal(tok Token, dir Interest) {
	r.mu.Lock()
	e, ok := r.entries[tok]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.ready |= dir
	if dir&ReadInterest != 0 {
		e.ticks[ReadInterest.slot()]++
	}
	if dir&WriteInterest != 0 {
		e.ticks[WriteInterest.slot()]++
	}
	var wake []Waker
	if dir&ReadInterest != 0 && e.reader != nil {
		wake = append(wake, e.reader)
		e.reader = nil
	}
	if dir&WriteInterest != 0 && e.writer != nil {
		wake = append(wake, e.writer)
		e.writer = nil
	}
	r.mu.Unlock()
	for _, w := range wake {
		w.Wake()
	}
}

func (r *fakeReactor) hasWaker(tok Token, dir Interest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[tok]
	if !ok {
		return false
	}
	if dir == ReadInterest {
		return e.reader != nil
	}
	return e.writer != nil
}

// countingWaker counts Wake calls.
type countingWaker struct {
	mu sync.Mutex
	n  int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
}

func (w *countingWaker) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// openFake opens a Stream over a fake port and reactor.
func openFake(cfg Config) (*Stream, *fakePort, *fakeReactor, *journal, error) {
	log := &journal{}
	port := newFakePort(log)
	reactor := newFakeReactor(log)
	s, err := cfg.WithDriver(&fakeDriver{port: port}).WithReactor(reactor).Open()
	return s, port, reactor, log, err
}
