// Package server runs the bridge over newline-delimited JSON on stdio.
package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Bigsy/thunderbird-bridge/internal/jsonrpc"
	"github.com/Bigsy/thunderbird-bridge/internal/logx"
	"github.com/Bigsy/thunderbird-bridge/internal/metrics"
)

// Handler answers one parsed request. A nil response means nothing is written.
type Handler interface {
	Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Options configures the stdio server.
type Options struct {
	Handler Handler
	Stdin   io.Reader
	Stdout  io.Writer
	Metrics *metrics.Recorder
}

// Server reads requests from Stdin and writes responses to Stdout, one line
// each, strictly in order.
type Server struct {
	handler Handler
	metrics *metrics.Recorder
	reader  *bufio.Reader
	out     io.Writer
	writer  *bufio.Writer
}

// New creates a new stdio server.
func New(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, errors.New("server: handler is required")
	}
	if opts.Stdin == nil || opts.Stdout == nil {
		return nil, errors.New("server: stdin and stdout are required")
	}
	return &Server{
		handler: opts.Handler,
		metrics: opts.Metrics,
		reader:  bufio.NewReader(opts.Stdin),
		out:     opts.Stdout,
		writer:  bufio.NewWriter(opts.Stdout),
	}, nil
}

// readResult holds a line read from stdin and any error.
type readResult struct {
	line []byte
	err  error
}

// Run processes requests until EOF, a read error, or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan readResult)
	go func() {
		defer close(lines)
		for {
			line, err := s.reader.ReadBytes('\n')
			if len(line) > 0 {
				// ReadBytes buffer is only valid until the next read, so clone it.
				line = append([]byte(nil), line...)
			}
			select {
			case lines <- readResult{line, err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-lines:
			if !ok {
				return nil
			}

			// A final line without a trailing newline still counts.
			line := bytes.TrimSpace(r.line)
			if len(line) > 0 {
				s.handleLine(ctx, line)
			}

			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					logx.Log.Debug().Msg("stdin closed")
					return nil
				}
				return fmt.Errorf("read request: %w", r.err)
			}
		}
	}
}

// handleLine parses, routes and answers a single input line.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	logx.Log.Debug().Bytes("line", line).Msg("recv")

	// The id is taken from the raw text first so a parse error can still be
	// correlated.
	id := jsonrpc.SalvageID(line)

	req, err := jsonrpc.ParseRequest(line)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("unparseable request")
		s.send(jsonrpc.NewErrorResponse(id, jsonrpc.ErrParseError(err.Error())))
		return
	}

	if resp := s.handler.Handle(ctx, req); resp != nil {
		s.send(resp)
	}
}

// send writes resp as one line and flushes. Failures only reach the log.
func (s *Server) send(resp *jsonrpc.Response) {
	if err := jsonrpc.WriteLine(s.writer, resp); err != nil {
		s.writeFailed("write", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		s.writeFailed("flush", err)
		return
	}
	logx.Log.Debug().Str("id", string(resp.ID)).Bool("error", resp.Error != nil).Msg("send")
}

// writeFailed drops the partial response and clears the buffered writer's
// sticky error so the next response is attempted on stdout again.
func (s *Server) writeFailed(stage string, err error) {
	s.writer.Reset(s.out)
	s.metrics.ObserveWriteError()
	logx.Log.Error().Err(err).Str("stage", stage).Msg("failed to write response")
}
