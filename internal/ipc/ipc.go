// Package ipc is the daemon's control socket. Each connection carries one
// JSON command and gets one JSON reply.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/lumen.sock"

const (
	CmdTrigger = "trigger"
	CmdStop    = "stop"
	CmdSleep   = "sleep"
	CmdWake    = "wake"
)

var ErrUnknownCommand = errors.New("unknown command")

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func Known(cmd string) bool {
	switch cmd {
	case CmdTrigger, CmdStop, CmdSleep, CmdWake:
		return true
	}
	return false
}

type Handler func(ctx context.Context, msg ControlMessage) error

// Serve accepts control connections on path until ctx is done. A stale
// socket file from a previous run is removed first.
func Serve(ctx context.Context, path string, handler Handler) error {
	if path == "" {
		path = DefaultSocketPath
	}
	_ = os.Remove(path)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("Control socket ready", "path", path)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer os.Remove(path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go handleConn(ctx, conn, handler)
	}
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		return
	}

	reply := Reply{OK: true}
	if !Known(msg.Cmd) {
		reply = Reply{Error: fmt.Sprintf("%s: %q", ErrUnknownCommand, msg.Cmd)}
	} else if err := handler(ctx, msg); err != nil {
		reply = Reply{Error: err.Error()}
	}
	log.Debug("Control command", "cmd", msg.Cmd, "ok", reply.OK)

	_ = json.NewEncoder(conn).Encode(reply)
}

// SendCommand delivers cmd to the daemon listening on path and returns the
// daemon's error, if any.
func SendCommand(ctx context.Context, path, cmd string) error {
	if path == "" {
		path = DefaultSocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", path, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if !reply.OK {
		return errors.New(reply.Error)
	}
	return nil
}
