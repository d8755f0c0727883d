package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// ConsoleChannel writes deliveries to a writer instead of a chat service.
// It is the dry-run channel.
type ConsoleChannel struct {
	mu  sync.Mutex
	out io.Writer
	seq int
}

// NewConsoleChannel writes to stdout.
func NewConsoleChannel() *ConsoleChannel {
	return &ConsoleChannel{out: os.Stdout}
}

// NewConsoleWriter writes to w, for tests.
func NewConsoleWriter(w io.Writer) *ConsoleChannel {
	return &ConsoleChannel{out: w}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) render(action, destination, handle, text string) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Time", "Action", "Destination", "Ref")
	table.Append(time.Now().Format("15:04:05"), action, destination, handle)
	table.Render()
	fmt.Fprintln(c.out, text)
}

// Send prints the message and returns a sequential handle.
func (c *ConsoleChannel) Send(_ context.Context, destination, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	handle := strconv.Itoa(c.seq)
	c.render("send", destination, handle, text)
	return handle, nil
}

// Edit prints the replacement text for a previous handle.
func (c *ConsoleChannel) Edit(_ context.Context, destination, handle, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.render("edit", destination, handle, text)
	return nil
}
