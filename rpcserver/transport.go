package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Server reads Content-Length framed JSON-RPC requests from a stream and
// writes framed responses back, one at a time in arrival order.
type Server struct {
	logger     *zap.Logger
	dispatcher *Dispatcher
}

// NewServer creates a Server that routes requests through the dispatcher.
func NewServer(logger *zap.Logger, dispatcher *Dispatcher) *Server {
	return &Server{logger: logger, dispatcher: dispatcher}
}

// Serve processes frames until the reader is exhausted, the framing
// becomes unrecoverable, or ctx is cancelled. Bad requests inside a valid
// frame produce error responses and the loop continues; only a framing or
// write failure ends the connection.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		body, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Warn("closing connection on framing error", zap.Error(err))
			return nil
		}

		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			s.logger.Warn("closing connection on undecodable message", zap.Error(err))
			return nil
		}

		s.logger.Debug("request received", zap.String("method", req.Method))
		resp := s.dispatcher.Handle(ctx, &req)
		if err := writeFrame(writer, resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}

// readFrame consumes one header block and returns the message body. The
// only header honored is Content-Length; others are skipped.
func readFrame(reader *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) == "" {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if value, ok := strings.CutPrefix(line, "Content-Length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", value)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, errors.New("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return nil, fmt.Errorf("short message body: %w", err)
	}
	return body, nil
}

func writeFrame(writer *bufio.Writer, resp *Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(writer, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	if _, err := writer.Write(body); err != nil {
		return err
	}
	return writer.Flush()
}
