package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

func IPCGet(socket string) (string, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	_, err = rw.WriteString("inspect\n")
	if err != nil {
		return "", err
	}
	err = rw.Flush()
	if err != nil {
		return "", err
	}

	res, err := rw.ReadString(0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSuffix(res, "\x00"), nil
}

func (r *RipRouter) HandleIPCGet(rw *bufio.ReadWriter) error {
	cmd, err := rw.ReadString('\n')
	if err != nil {
		return err
	}
	sb := strings.Builder{}
	switch cmd {
	case "inspect\n":
		sb.WriteString(fmt.Sprintf("Router: %s\n", r.Cfg.Id))

		sb.WriteString("\nInterfaces:\n")
		for _, i := range r.Ifaces {
			sb.WriteString(fmt.Sprintf(" - %s\n", i))
		}

		sb.WriteString("\nNeighbours:\n")
		neighs := r.Neighbours.Entries()
		if len(neighs) == 0 {
			sb.WriteString("   (none)\n")
		}
		for _, n := range neighs {
			sb.WriteString(fmt.Sprintf(" - %s\n", n))
		}

		sb.WriteString("\nRoute Table:\n")
		sb.WriteString(FormatTable(r.Table.Snapshot()))
		sb.WriteRune(0)
		_, err = rw.WriteString(sb.String())
		if err != nil {
			return err
		}
		return rw.Flush()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// ServeIPC answers inspect requests on a unix socket until ctx is done.
func (r *RipRouter) ServeIPC(ctx context.Context, socket string) error {
	_ = os.Remove(socket)
	l, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("control socket %s: %w", socket, err)
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	defer os.Remove(socket)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
			if err := r.HandleIPCGet(rw); err != nil {
				r.Logger.Debug("control socket request failed", "err", err)
			}
		}()
	}
}
