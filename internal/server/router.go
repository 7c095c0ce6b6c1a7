// Package server exposes a Store over the TCP line protocol spoken by pkg/sdk.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
	"github.com/celerix-dev/celerix-enrich/pkg/sdk"
)

const (
	maxConns       = 100
	idleTimeout    = 5 * time.Minute
	commandTimeout = 30 * time.Second
)

type Router struct {
	store    engine.Store
	importer engine.Importer
	cert     *tls.Certificate
	logger   *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewRouter serves store. When store also implements engine.Importer the
// PUT_* commands are enabled.
func NewRouter(store engine.Store, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{store: store, logger: logger}
	if imp, ok := store.(engine.Importer); ok {
		r.importer = imp
	}
	return r
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Addr returns the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Listen serves on addr until Stop is called. It returns nil after Stop.
func (r *Router) Listen(addr string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", addr, config)
	} else {
		listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		listener.Close()
		return nil
	}
	r.listener = listener
	r.mu.Unlock()

	semaphore := make(chan struct{}, maxConns)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		r.wg.Add(1)
		go func(c net.Conn) {
			defer r.wg.Done()
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.handleConnection(c)
		}(conn)
	}
}

// Stop closes the listener and waits for open connections to finish.
func (r *Router) Stop() {
	r.mu.Lock()
	r.closed = true
	if r.listener != nil {
		r.listener.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Router) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		// Deadlines are renewed per command; a connection lives as long as it is used.
		conn.SetDeadline(time.Now().Add(idleTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.logger.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, args, _ := strings.Cut(line, " ")
		name = strings.ToUpper(name)

		conn.SetDeadline(time.Now().Add(commandTimeout))

		switch name {
		case sdk.CmdPing:
			fmt.Fprintln(conn, "PONG")
			continue
		case sdk.CmdQuit:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		v, err := r.dispatch(ctx, name, args)
		cancel()
		if err != nil {
			r.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		}
		fmt.Fprintln(conn, sdk.FormatReply(v, err))
	}
}

func decode(args string, dst any) error {
	if err := json.Unmarshal([]byte(args), dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", sdk.ErrProtocol, err)
	}
	return nil
}

// dispatch runs one command. A nil value with a nil error replies a bare OK.
func (r *Router) dispatch(ctx context.Context, name, args string) (any, error) {
	switch name {
	case sdk.CmdFetch:
		var filter schema.Filter
		if args != "" {
			if err := decode(args, &filter); err != nil {
				return nil, err
			}
		}
		recs, err := r.store.FetchRecords(ctx, filter)
		if recs == nil {
			recs = []schema.Record{}
		}
		return recs, err

	case sdk.CmdUpdate:
		email, body, ok := strings.Cut(args, " ")
		if !ok || email == "" {
			return nil, fmt.Errorf("%w: UPDATE <email> <patch>", sdk.ErrProtocol)
		}
		var patch schema.Patch
		if err := decode(body, &patch); err != nil {
			return nil, err
		}
		return nil, r.store.UpdateRecord(ctx, email, patch)

	case sdk.CmdUsers:
		users, err := r.store.FetchUsers(ctx)
		if users == nil {
			users = []schema.User{}
		}
		return users, err

	case sdk.CmdUser:
		if args == "" {
			return nil, fmt.Errorf("%w: USER <id>", sdk.ErrProtocol)
		}
		return r.store.FetchUser(ctx, args)

	case sdk.CmdConnections:
		var filter schema.ConnectionFilter
		if args != "" {
			if err := decode(args, &filter); err != nil {
				return nil, err
			}
		}
		conns, err := r.store.FetchConnections(ctx, filter)
		if conns == nil {
			conns = []schema.Connection{}
		}
		return conns, err

	case sdk.CmdLog:
		var entry schema.ActionLogEntry
		if err := decode(args, &entry); err != nil {
			return nil, err
		}
		return nil, r.store.AppendActionLog(ctx, entry)

	case sdk.CmdLogs:
		limit := 0
		if args != "" {
			n, err := strconv.Atoi(args)
			if err != nil {
				return nil, fmt.Errorf("%w: LOGS <limit>", sdk.ErrProtocol)
			}
			limit = n
		}
		logs, err := r.store.ListActionLogs(ctx, limit)
		if logs == nil {
			logs = []schema.ActionLogEntry{}
		}
		return logs, err

	case sdk.CmdPutRecords, sdk.CmdPutUsers, sdk.CmdPutConnections:
		if r.importer == nil {
			return nil, fmt.Errorf("%w: store does not accept imports", sdk.ErrProtocol)
		}
		return nil, r.put(ctx, name, args)
	}
	return nil, fmt.Errorf("%w: unknown command %q", sdk.ErrProtocol, name)
}

func (r *Router) put(ctx context.Context, name, args string) error {
	switch name {
	case sdk.CmdPutRecords:
		var records []schema.Record
		if err := decode(args, &records); err != nil {
			return err
		}
		return r.importer.PutRecords(ctx, records)
	case sdk.CmdPutUsers:
		var users []schema.User
		if err := decode(args, &users); err != nil {
			return err
		}
		return r.importer.PutUsers(ctx, users)
	default:
		var conns []schema.Connection
		if err := decode(args, &conns); err != nil {
			return err
		}
		return r.importer.PutConnections(ctx, conns)
	}
}
