// Package providertest turns the running test binary into a line-protocol tool
// server so process tests can exercise real subprocesses without external fixtures.
//
// A test package calls MaybeRun from TestMain. When the binary is re-executed with
// EnvMode set, MaybeRun serves the protocol on stdin/stdout and exits.
package providertest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/mcphub/internal/config"
)

// EnvMode selects the provider behaviour in the child process.
const EnvMode = "MCPHUB_MOCK_PROVIDER"

// Provider modes.
const (
	// ModeNormal answers requests until stdin closes.
	ModeNormal = "normal"
	// ModeCrash exits with status 1 immediately.
	ModeCrash = "crash"
	// ModeStubborn answers requests but ignores SIGTERM and stdin EOF.
	ModeStubborn = "stubborn"
	// ModeExitOnCall answers requests and exits with status 3 on method "exit".
	ModeExitOnCall = "exit-on-call"
)

// MaybeRun serves as a mock provider when EnvMode is set and never returns in that case.
func MaybeRun() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	os.Exit(run(mode))
}

// ServerConfig returns a server definition that re-executes the test binary in mode.
func ServerConfig(name, mode string) config.ServerConfig {
	cfg := config.DefaultServerConfig()
	cfg.Name = name
	cfg.Command = config.Command{os.Args[0]}
	cfg.Env = map[string]string{EnvMode: mode}
	return cfg
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params struct {
		DelayMS int             `json:"delay_ms"`
		Value   json.RawMessage `json:"value"`
		Message string          `json:"message"`
		Code    int             `json:"code"`
	} `json:"params"`
}

type provider struct {
	mu  sync.Mutex
	out *bufio.Writer
	wg  sync.WaitGroup
}

func run(mode string) int {
	if mode == ModeCrash {
		fmt.Fprintln(os.Stderr, "mock provider: crashing on purpose")
		return 1
	}
	if mode == ModeStubborn {
		signal.Ignore(syscall.SIGTERM)
	}

	p := &provider{out: bufio.NewWriter(os.Stdout)}
	p.writeLine("mock provider ready")
	fmt.Fprintln(os.Stderr, "mock provider: mode", mode)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			fmt.Fprintln(os.Stderr, "mock provider: bad request:", err)
			continue
		}
		if mode == ModeExitOnCall && req.Method == "exit" {
			return 3
		}
		p.wg.Add(1)
		go p.handle(req)
	}
	p.wg.Wait()

	if mode == ModeStubborn {
		// Sleep rather than block forever so the runtime does not report a deadlock.
		for {
			time.Sleep(time.Hour)
		}
	}
	return 0
}

func (p *provider) handle(req request) {
	defer p.wg.Done()
	if req.Params.DelayMS > 0 {
		time.Sleep(time.Duration(req.Params.DelayMS) * time.Millisecond)
	}

	switch req.Method {
	case "ping":
		p.reply(req.ID, json.RawMessage(`"pong"`))
	case "echo":
		value := req.Params.Value
		if len(value) == 0 {
			value = json.RawMessage(`null`)
		}
		p.reply(req.ID, value)
	case "fail":
		code := req.Params.Code
		if code == 0 {
			code = -32000
		}
		p.replyError(req.ID, code, req.Params.Message)
	case "silent":
	case "noise":
		p.writeLine("{not json")
		p.writeLine(`{"jsonrpc":"2.0","id":999999,"result":"stray"}`)
		p.reply(req.ID, json.RawMessage(`"after-noise"`))
	case "dup":
		p.reply(req.ID, json.RawMessage(`"first"`))
		p.reply(req.ID, json.RawMessage(`"second"`))
	default:
		p.replyError(req.ID, -32601, "method not found: "+req.Method)
	}
}

func (p *provider) reply(id json.RawMessage, result json.RawMessage) {
	line, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
	p.writeLine(string(line))
}

func (p *provider) replyError(id json.RawMessage, code int, message string) {
	line, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]any{"code": code, "message": message},
	})
	p.writeLine(string(line))
}

func (p *provider) writeLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.WriteString(line)
	p.out.WriteByte('\n')
	p.out.Flush()
}
