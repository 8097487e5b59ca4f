package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"
)

// quitGrace is how long a process gets to exit after "quit" before it is
// killed.
const quitGrace = time.Second

var errProcessExited = errors.New("lc0 process exited")

// lc0Process speaks UCI to a child process it owns. Exchanges are
// serialized, but Stop and Close never wait for the exchange in progress:
// Close kills the process, which ends stdout and fails the pending
// exchange.
type lc0Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan string // stdout lines; closed at EOF

	closing chan struct{} // closed by Close; unread output is dropped
	exited  chan struct{}
	waitErr error // valid once exited is closed

	mu        sync.Mutex // one exchange at a time
	resultsMu sync.Mutex
	results   uci.SearchResults
	closeOnce sync.Once
}

// startProcess starts path and begins reading its stdout.
func startProcess(path string, args ...string) (*lc0Process, error) {
	cmd := exec.Command(path, args...)
	cmd.WaitDelay = quitGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &lc0Process{
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string, 256),
		closing: make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go p.readLoop(stdout)
	return p, nil
}

// readLoop forwards stdout line by line. Wait is only called after EOF so
// no output is lost.
func (p *lc0Process) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.closing:
		}
	}
	close(p.lines)

	p.waitErr = p.cmd.Wait()
	close(p.exited)
	slog.Debug("lc0 process exited", "pid", p.Pid(), "error", p.waitErr)
}

// Pid returns the operating system process id.
func (p *lc0Process) Pid() int {
	return p.cmd.Process.Pid
}

// Run sends cmds in order and waits for the responses that "uci",
// "isready" and "go" produce.
func (p *lc0Process) Run(cmds ...uci.Cmd) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cmd := range cmds {
		if err := p.exchange(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (p *lc0Process) exchange(cmd uci.Cmd) error {
	p.drain()

	line := cmd.String()
	if err := p.send(line); err != nil {
		return err
	}

	if _, ok := cmd.(uci.CmdGo); ok {
		return p.awaitBestMove()
	}
	switch line {
	case "uci":
		return p.await("uciok")
	case "isready":
		return p.await("readyok")
	}
	return nil
}

func (p *lc0Process) send(line string) error {
	slog.Debug("uci send", "pid", p.Pid(), "line", line)
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		select {
		case <-p.exited:
			return p.exitErr()
		default:
		}
		return fmt.Errorf("write %q: %w", strings.SplitN(line, " ", 2)[0], err)
	}
	return nil
}

// drain discards output left over from an earlier exchange.
func (p *lc0Process) drain() {
	for {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (p *lc0Process) await(token string) error {
	for line := range p.lines {
		if line == token {
			return nil
		}
	}
	return p.exitErr()
}

func (p *lc0Process) awaitBestMove() error {
	var results uci.SearchResults
	for line := range p.lines {
		if !strings.HasPrefix(line, "bestmove") {
			var info uci.Info
			if err := info.UnmarshalText([]byte(line)); err == nil {
				results.Info = info
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] != "(none)" && fields[1] != "0000" {
			move, err := chess.UCINotation{}.Decode(nil, fields[1])
			if err != nil {
				return fmt.Errorf("parse %q: %w", line, err)
			}
			results.BestMove = move
		}
		p.resultsMu.Lock()
		p.results = results
		p.resultsMu.Unlock()
		return nil
	}
	return p.exitErr()
}

func (p *lc0Process) exitErr() error {
	select {
	case <-p.exited:
	case <-time.After(quitGrace):
		return errProcessExited
	}
	if p.waitErr != nil {
		return fmt.Errorf("%w: %v", errProcessExited, p.waitErr)
	}
	return errProcessExited
}

// SearchResults returns the results of the last completed "go".
func (p *lc0Process) SearchResults() uci.SearchResults {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()
	return p.results
}

// Stop asks a running search to finish early. It does not wait for the
// exchange lock.
func (p *lc0Process) Stop() error {
	return p.send("stop")
}

// Close sends "quit" and kills the process if it has not exited within
// quitGrace. It is safe to call while an exchange is blocked.
func (p *lc0Process) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		_ = p.send("quit")
		_ = p.stdin.Close()

		select {
		case <-p.exited:
			return
		case <-time.After(quitGrace):
		}
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill lc0: %w", kerr)
			return
		}
		select {
		case <-p.exited:
		case <-time.After(quitGrace):
			err = fmt.Errorf("lc0 pid %d did not exit after kill", p.Pid())
		}
	})
	return err
}
