package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/framer"
	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	var (
		addr      string
		codecName string
		command   string
		body      string
		count     int
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send frames to a running server and print the replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			c, err := codecByName(codecName)
			if err != nil {
				return err
			}
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			fr := framer.New(c)
			out := cmd.OutOrStdout()
			for i := 1; i <= count; i++ {
				req, err := requestFrame(codecName, command, i, []byte(body))
				if err != nil {
					return err
				}
				raw, err := c.Encode(req)
				if err != nil {
					return err
				}
				started := time.Now()
				_ = conn.SetDeadline(started.Add(timeout))
				if _, err := conn.Write(raw); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				rsp, err := readReply(conn, fr, c)
				if err != nil {
					return err
				}
				sn, ret := replyFields(rsp)
				fmt.Fprintf(out, "sn=%d ret=%d bytes=%d time=%s body=%s\n",
					sn, ret, len(rsp.Body()), time.Since(started).Round(time.Microsecond), rsp.Body())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7010", "server address")
	cmd.Flags().StringVar(&codecName, "codec", codecBox, "wire codec: box or json")
	cmd.Flags().StringVar(&command, "cmd", cmdEcho, "command (numeric for box)")
	cmd.Flags().StringVar(&body, "body", `"ping"`, "request body")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of requests")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per-request timeout")
	return cmd
}

func readReply(conn net.Conn, fr *framer.Framer, c codec.Codec) (codec.Frame, error) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			frames, ferr := fr.Feed(buf[:n])
			if len(frames) > 0 {
				return c.Decode(frames[0])
			}
			if ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("server closed the connection")
			}
			return nil, fmt.Errorf("read: %w", err)
		}
	}
}
