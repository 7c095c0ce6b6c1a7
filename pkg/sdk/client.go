// Package sdk gives tools access to an enrichment store, either embedded in
// the process or remote through the daemon's TCP line protocol.
package sdk

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

const maxAttempts = 3

// ErrUnavailable is returned when every attempt to reach the daemon failed.
// The command may or may not have been applied.
var ErrUnavailable = errors.New("store unavailable")

// Client is a remote Store talking to enrichd. It implements Backend.
type Client struct {
	addr   string
	tls    bool
	logger *zap.Logger

	mu     sync.Mutex // Protects concurrent access to the connection
	conn   net.Conn
	reader *bufio.Reader
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTLS dials with TLS. The daemon uses a self-signed certificate, so the
// chain is not verified.
func WithTLS(enabled bool) ClientOption { return func(c *Client) { c.tls = enabled } }

// WithClientLogger sets the logger used for reconnect warnings.
func WithClientLogger(l *zap.Logger) ClientOption { return func(c *Client) { c.logger = l } }

// Connect dials addr and checks the daemon answers PING.
func Connect(ctx context.Context, addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{addr: addr, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.mu.Lock()
	err := c.reconnect(ctx)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// reconnect MUST be called while holding c.mu.
func (c *Client) reconnect(ctx context.Context) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	var conn net.Conn
	var err error
	if c.tls {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{InsecureSkipVerify: true}}
		conn, err = td.DialContext(ctx, "tcp", c.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", c.addr)
	}
	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// roundTrip sends one command and decodes the reply into dst. Transport
// failures are retried with a fresh connection; ERR replies are not. Every
// command must be safe to apply twice: UPDATE writes the same values again
// and LOG carries a client-side ID the server deduplicates on.
func (c *Client) roundTrip(ctx context.Context, cmd string, dst any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < maxAttempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if c.conn == nil {
			if err = c.reconnect(ctx); err != nil {
				err = fmt.Errorf("reconnect failed: %w", err)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		deadline := time.Now().Add(30 * time.Second)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		c.conn.SetDeadline(deadline)

		var line string
		if _, err = fmt.Fprint(c.conn, cmd+"\n"); err == nil {
			if line, err = c.reader.ReadString('\n'); err == nil {
				return ParseReply(line, dst)
			}
		}

		c.logger.Warn("store connection failed, reconnecting",
			zap.String("addr", c.addr), zap.Int("attempt", i+1), zap.Error(err))
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, maxAttempts, err)
}

func command(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func withJSON(name string, v any, args ...string) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	return command(name, append(args, string(body))...), nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.roundTrip(ctx, CmdPing, nil)
}

func (c *Client) FetchRecords(ctx context.Context, filter schema.Filter) ([]schema.Record, error) {
	cmd, err := withJSON(CmdFetch, filter)
	if err != nil {
		return nil, err
	}
	var out []schema.Record
	err = c.roundTrip(ctx, cmd, &out)
	return out, err
}

func (c *Client) UpdateRecord(ctx context.Context, email string, patch schema.Patch) error {
	if email == "" || strings.ContainsAny(email, " \n") {
		return fmt.Errorf("%w: invalid email %q", ErrProtocol, email)
	}
	cmd, err := withJSON(CmdUpdate, patch, email)
	if err != nil {
		return err
	}
	if err := c.roundTrip(ctx, cmd, nil); err != nil {
		var we *engine.WriteError
		if !errors.As(err, &we) && errors.Is(err, ErrUnavailable) {
			return &engine.WriteError{Email: email, Err: err}
		}
		return err
	}
	return nil
}

func (c *Client) FetchUsers(ctx context.Context) ([]schema.User, error) {
	var out []schema.User
	err := c.roundTrip(ctx, CmdUsers, &out)
	return out, err
}

func (c *Client) FetchUser(ctx context.Context, userID string) (schema.User, error) {
	var out schema.User
	err := c.roundTrip(ctx, command(CmdUser, userID), &out)
	return out, err
}

func (c *Client) FetchConnections(ctx context.Context, filter schema.ConnectionFilter) ([]schema.Connection, error) {
	cmd, err := withJSON(CmdConnections, filter)
	if err != nil {
		return nil, err
	}
	var out []schema.Connection
	err = c.roundTrip(ctx, cmd, &out)
	return out, err
}

func (c *Client) AppendActionLog(ctx context.Context, entry schema.ActionLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cmd, err := withJSON(CmdLog, entry)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, cmd, nil)
}

func (c *Client) ListActionLogs(ctx context.Context, limit int) ([]schema.ActionLogEntry, error) {
	var out []schema.ActionLogEntry
	err := c.roundTrip(ctx, command(CmdLogs, strconv.Itoa(limit)), &out)
	return out, err
}

func (c *Client) PutRecords(ctx context.Context, records []schema.Record) error {
	cmd, err := withJSON(CmdPutRecords, records)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, cmd, nil)
}

func (c *Client) PutUsers(ctx context.Context, users []schema.User) error {
	cmd, err := withJSON(CmdPutUsers, users)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, cmd, nil)
}

func (c *Client) PutConnections(ctx context.Context, conns []schema.Connection) error {
	cmd, err := withJSON(CmdPutConnections, conns)
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, cmd, nil)
}

// Close sends QUIT and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, CmdQuit)
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
