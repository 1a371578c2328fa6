// Package configagent implements the remote reconfiguration client: a
// long-lived WebSocket connection that accepts a new topology document,
// writes it to disk, and restarts the worker process to pick it up.
package configagent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinibressanini/idab-processor/internal/apperrors"
	"github.com/vinibressanini/idab-processor/internal/logging"
)

const (
	statusOK     = 1
	statusFailed = 2
)

// Config addresses the remote config service and the local file this
// agent rewrites on each accepted message.
type Config struct {
	ServerURL  string
	ConfigPath string
}

// inboundMessage is one reconfiguration request from the remote service.
type inboundMessage struct {
	IDPlant  string          `json:"idplant"`
	IDDeploy string          `json:"iddeploy"`
	Config   json.RawMessage `json:"config"`
}

// outboundReply acks or naks one inboundMessage.
type outboundReply struct {
	Status   int    `json:"status"`
	IDPlant  string `json:"idplant"`
	IDDeploy string `json:"iddeploy,omitempty"`
}

// Restarter re-executes the worker process once a new configuration file
// has been written. The production implementation re-execs the worker's
// own argv; tests substitute a no-op.
type Restarter func() error

// Agent holds one WebSocket connection to the remote config service.
type Agent struct {
	cfg     Config
	log     *logging.Logger
	restart Restarter
	dialer  *websocket.Dialer
}

// New builds an Agent using the default re-exec restarter.
func New(cfg Config, log *logging.Logger) *Agent {
	return &Agent{cfg: cfg, log: log, restart: reexecSelf, dialer: websocket.DefaultDialer}
}

// WithRestarter overrides how the agent restarts the worker (test-only
// hook, also useful for a supervised-process deployment that prefers a
// signal over re-exec).
func (a *Agent) WithRestarter(r Restarter) *Agent {
	a.restart = r
	return a
}

// Run dials the remote config service and processes messages until the
// connection closes or an unrecoverable error occurs.
func (a *Agent) Run() error {
	conn, _, err := a.dialer.Dial(a.cfg.ServerURL, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindBus, "dial config service", err)
	}
	defer conn.Close()

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return apperrors.Wrap(apperrors.KindBus, "read config message", err)
		}
		a.handle(conn, msg)
	}
}

func (a *Agent) handle(conn *websocket.Conn, msg inboundMessage) {
	err := a.applyConfig(msg.Config)

	reply := outboundReply{IDPlant: msg.IDPlant}
	if err != nil {
		reply.Status = statusFailed
		if a.log != nil {
			a.log.WithField("idplant", msg.IDPlant).WithField("error", err).Error("configagent: failed to apply config")
		}
	} else {
		reply.Status = statusOK
		reply.IDDeploy = msg.IDDeploy
	}

	// The remote socket may already be closed by the time we try to reply
	// (e.g. a restart in progress on the other end); a failed write here
	// just drops the reply rather than panicking the agent.
	if err := conn.WriteJSON(reply); err != nil {
		if a.log != nil {
			a.log.WithField("error", err).Warn("configagent: failed to send reply, dropping")
		}
		return
	}

	if reply.Status == statusOK {
		if err := a.restart(); err != nil && a.log != nil {
			a.log.WithField("error", err).Error("configagent: restart failed")
		}
	}
}

// applyConfig atomically replaces the on-disk configuration file so a
// concurrent reader of cfg.ConfigPath never observes a partial write.
func (a *Agent) applyConfig(raw json.RawMessage) error {
	dir := filepath.Dir(a.cfg.ConfigPath)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfig, "create temp config file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.KindConfig, "write temp config file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.KindConfig, "close temp config file", err)
	}
	if err := os.Rename(tmpPath, a.cfg.ConfigPath); err != nil {
		os.Remove(tmpPath)
		return apperrors.Wrap(apperrors.KindConfig, "replace config file", err)
	}
	return nil
}

// reexecSelf replaces the worker with a fresh instance of its own binary
// and argv, then exits this process once the new one is launched.
func reexecSelf() error {
	exe, err := os.Executable()
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfig, "resolve own executable path", err)
	}

	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Dir:   "",
		Env:   os.Environ(),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfig, "start replacement worker process", err)
	}

	// Give the replacement a moment to begin listening before this process
	// exits, so a brief config-reload window doesn't look like a crash.
	time.Sleep(200 * time.Millisecond)
	_ = proc.Release()

	os.Exit(0)
	return nil
}
