package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/voicerelay/internal/protocol"
)

var (
	clientURL     string
	clientCodec   string
	clientTimeout time.Duration

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Connect an interactive line client to a relay",
		Long: "Reads lines from stdin and sends them as chat messages. Lines starting with " +
			"/join, /leave or /invite send voice room envelopes. Type quit to exit.",
		RunE: runClient,
	}
)

func init() {
	flags := clientCmd.Flags()
	flags.StringVarP(&clientURL, "url", "u", "ws://localhost:8080/ws", "relay WebSocket URL")
	flags.StringVar(&clientCodec, "codec", "json", "wire codec, json or msgpack")
	flags.DurationVar(&clientTimeout, "connect-timeout", 30*time.Second, "give up connecting after this long")
}

func clientBackoff(ctx context.Context, maxElapsed time.Duration) backoff.BackOff {
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     500 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.7,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

// dialRelay connects to url, retrying with exponential backoff until ctx is
// done or maxElapsed has passed.
func dialRelay(ctx context.Context, url string, codec protocol.Codec, maxElapsed time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
		Subprotocols:     []string{codec.Name()},
	}

	var conn *websocket.Conn
	operation := func() error {
		c, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(fmt.Errorf("relay rejected connection: %s", resp.Status))
			}
			log.Warnf("failed to connect to %s: %v", url, err)
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, clientBackoff(ctx, maxElapsed)); err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}
	return conn, nil
}

// parseInput turns one input line into an envelope. Plain text is a chat line.
func parseInput(line string) (map[string]any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return map[string]any{"type": string(protocol.TypeChat), "message": line}, nil
	}

	switch fields[0] {
	case "/join", "/leave":
		if len(fields) != 2 {
			return nil, fmt.Errorf("usage: %s <room>", fields[0])
		}
		typ := protocol.TypeJoinVoice
		if fields[0] == "/leave" {
			typ = protocol.TypeLeaveVoice
		}
		return map[string]any{"type": string(typ), "roomId": fields[1]}, nil

	case "/invite":
		if len(fields) != 3 {
			return nil, fmt.Errorf("usage: /invite <user id> <room>")
		}
		target, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", fields[1])
		}
		return map[string]any{"type": string(protocol.TypeVoiceInvite), "targetUserId": target, "roomId": fields[2]}, nil

	default:
		return map[string]any{"type": string(protocol.TypeChat), "message": line}, nil
	}
}

// formatEvent renders an inbound envelope as one line of text.
func formatEvent(msg map[string]any) string {
	switch protocol.Type(fmt.Sprint(msg["type"])) {
	case protocol.TypeChat:
		return fmt.Sprintf("[%v] %v", msg["userId"], msg["message"])
	case protocol.TypeUserList:
		return fmt.Sprintf("* online: %v", msg["users"])
	case protocol.TypeJoinVoice:
		return fmt.Sprintf("* %v joined voice room %v", msg["userId"], msg["roomId"])
	case protocol.TypeLeaveVoice:
		return fmt.Sprintf("* %v left voice room %v", msg["userId"], msg["roomId"])
	case protocol.TypeVoiceInvite:
		return fmt.Sprintf("* %v invited you to voice room %v", msg["userId"], msg["roomId"])
	default:
		return fmt.Sprintf("* %v", msg)
	}
}

func receiveLoop(conn *websocket.Conn, codec protocol.Codec, out io.Writer, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_, _ = fmt.Fprintln(out, "\nServer closed connection")
			} else {
				_, _ = fmt.Fprintln(out, "\nLost connection to server")
			}
			return
		}

		var msg map[string]any
		if err := codec.Unmarshal(data, &msg); err != nil {
			log.Debugf("undecodable frame from relay: %v", err)
			continue
		}
		_, _ = fmt.Fprintln(out, formatEvent(msg))
	}
}

// sendLoop sends one envelope per input line until quit, EOF or the
// connection ends.
func sendLoop(conn *websocket.Conn, codec protocol.Codec, in io.Reader, out io.Writer, done <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if strings.EqualFold(line, "quit") {
				return nil
			}
			if line == "" {
				continue
			}

			msg, err := parseInput(line)
			if err != nil {
				_, _ = fmt.Fprintln(out, err)
				continue
			}
			data, err := codec.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encode message: %w", err)
			}
			if err := conn.WriteMessage(codec.FrameType(), data); err != nil {
				return fmt.Errorf("failed to send message: %w", err)
			}
		}
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	var codec protocol.Codec
	switch clientCodec {
	case "json":
		codec = protocol.JSONCodec{}
	case "msgpack":
		codec = protocol.MsgpackCodec{}
	default:
		return fmt.Errorf("unknown codec %q, expected json or msgpack", clientCodec)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Connecting to relay...")

	conn, err := dialRelay(cmd.Context(), clientURL, codec, clientTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, _ = fmt.Fprintln(out, "Connected to relay!")
	_, _ = fmt.Fprintln(out, "Type your messages (type 'quit' to exit):")

	done := make(chan struct{})
	go receiveLoop(conn, codec, out, done)

	err = sendLoop(conn, codec, cmd.InOrStdin(), out, done)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return err
}
