package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"ragpatterns/pkg/logger"

	"golang.org/x/time/rate"
)

// Config configures a Server.
type Config struct {
	Addr           string
	MaxConnections int
	ReadTimeout    time.Duration
	RequestTimeout time.Duration
	MaxLineBytes   int
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":8090",
		MaxConnections: 100,
		ReadTimeout:    10 * time.Second,
		RequestTimeout: 5 * time.Second,
		MaxLineBytes:   1 << 20, // 1MiB
	}
}

// Server is the line-delimited JSON-RPC 2.0 TCP server of §4.I. Grounded
// on original_source/rag-rpc-server/src/server.go's accept loop and
// per-connection handler, translated from tokio tasks into goroutines and
// blocking net.Conn I/O with explicit deadlines.
type Server struct {
	cfg     Config
	handler *Handler
	limiter *rate.Limiter
	sem     chan struct{}
}

func NewServer(handler *Handler, cfg Config) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 1 << 20
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConnections), cfg.MaxConnections),
		sem:     make(chan struct{}, cfg.MaxConnections),
	}
}

// Run accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	logger.L().Infow("rpc: listening", "addr", s.cfg.Addr, "max_connections", s.cfg.MaxConnections)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		// Acquiring the slot before Accept (§5: "accepting more than N
		// concurrent connections is deferred; further accepts block until
		// slots free") means the loop itself pauses at capacity instead of
		// accepting a connection and immediately dropping it.
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		if err := s.limiter.Wait(ctx); err != nil {
			<-s.sem
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.sem
			if ctx.Err() != nil {
				return nil
			}
			logger.L().Warnw("rpc: accept failed", "error", err)
			continue
		}

		go func() {
			defer func() { <-s.sem }()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection reads newline-delimited requests and writes
// newline-delimited responses, one at a time, in request order (§5: "one
// goroutine per connection, request/response interleaved strictly in
// arrival order on that connection").
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), s.cfg.MaxLineBytes)
	writer := bufio.NewWriter(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.processLine(ctx, line)
		if err := writeResponse(writer, resp); err != nil {
			logger.L().Warnw("rpc: write response failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}
}

func (s *Server) processLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nullID, parseError(err.Error()))
	}

	// req.ID stays nil only when the "id" field was entirely absent from
	// the JSON (json.RawMessage's zero value is never reassigned unless
	// UnmarshalJSON runs); an explicit "id": null decodes to non-nil bytes.
	// rag.query_patterns is documented as not a notification (§8 property
	// 9), so a request with no id at all is a protocol violation.
	if req.ID == nil {
		return errorResponse(nullID, invalidRequest("missing id: rag.query_patterns is not a notification"))
	}
	id := req.ID

	if req.JSONRPC != "2.0" {
		return errorResponse(id, invalidRequest(`jsonrpc must be "2.0"`))
	}
	if req.Method == "" {
		return errorResponse(id, invalidRequest("missing method"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	result, rpcErr := s.handler.Dispatch(reqCtx, req.Method, req.Params)
	if rpcErr != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return errorResponse(id, indexError("request deadline exceeded"))
		}
		return errorResponse(id, rpcErr)
	}
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, e *rpcError) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: e.toObject()}
}

func writeResponse(w *bufio.Writer, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
