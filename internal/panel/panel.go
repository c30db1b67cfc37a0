// Package panel talks to the LED signage panel over its serial line. The
// panel answers every command with ACK or NACK; anything else is taken as
// success because older panel firmware stays silent on broadcast commands.
package panel

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/efm-project/paneld/internal/logctx"
	"github.com/efm-project/paneld/internal/panel/am03127"
	"github.com/efm-project/paneld/internal/telemetry"
)

const readBufferSize = 32

// Port is the serial line the client writes commands to. Reads are expected
// to time out rather than block forever.
type Port interface {
	io.ReadWriteCloser
}

// NACKError reports a command the panel explicitly rejected.
type NACKError struct {
	Command string
}

func (e *NACKError) Error() string {
	return fmt.Sprintf("panel rejected command %s", e.Command)
}

// Client drives a single panel. The serial line is a shared resource, so all
// exchanges are serialized by a mutex.
type Client struct {
	id        byte
	telemetry *telemetry.Telemetry

	mu   sync.Mutex
	port Port
}

func NewClient(port Port, id byte, tel *telemetry.Telemetry) *Client {
	return &Client{port: port, id: id, telemetry: tel}
}

// Init assigns the panel its address. Run once at startup.
func (c *Client) Init(ctx context.Context) error {
	logctx.LoggerFromContext(ctx).Info("initializing panel", "panel_id", c.id)

	return c.send(ctx, "set_id", am03127.SetID(c.id))
}

// ShowText displays text on the given line under the given page label.
func (c *Client) ShowText(ctx context.Context, line int, page rune, text string) error {
	return c.send(ctx, "page", am03127.Page(c.id, line, page, text))
}

// SetClock sets the panel's real-time clock.
func (c *Client) SetClock(ctx context.Context, t time.Time) error {
	return c.send(ctx, "clock", am03127.Clock(c.id, t))
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.port.Close()
}

func (c *Client) send(ctx context.Context, command, frame string) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.port.Write([]byte(frame)); err != nil {
		c.telemetry.RecordPanelCommand(ctx, command, "error")

		return fmt.Errorf("failed to write panel command: %w", err)
	}

	buf := make([]byte, readBufferSize)

	n, err := c.port.Read(buf)
	if err != nil && err != io.EOF {
		c.telemetry.RecordPanelCommand(ctx, command, "error")

		return fmt.Errorf("failed to read panel reply: %w", err)
	}

	reply := strings.TrimRight(string(buf[:n]), "\x00\r\n")
	logger.Debug("panel reply", "command", command, "reply", reply)

	if strings.HasPrefix(reply, "NACK") {
		c.telemetry.RecordPanelCommand(ctx, command, "nack")

		return &NACKError{Command: command}
	}

	c.telemetry.RecordPanelCommand(ctx, command, "ok")

	return nil
}
