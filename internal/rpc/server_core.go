package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/untoldecay/fieldmerge/internal/consolidate"
	"github.com/untoldecay/fieldmerge/internal/types"
)

// ServerVersion is the version of this RPC server
// It's set by the serve command from the CLI version before starting the server
var ServerVersion = "0.0.0" // Placeholder; overridden by daemon startup

const (
	statusUnhealthy = "unhealthy"

	// DefaultMaxConns bounds concurrent client connections.
	DefaultMaxConns = 100
	// DefaultRequestTimeout bounds a single request handler.
	DefaultRequestTimeout = 30 * time.Second
)

// Engine is the consolidation surface served over RPC.
type Engine interface {
	ListCustomFields(ctx context.Context) ([]types.Field, error)
	GetFieldUsage(ctx context.Context, fieldID string) (types.FieldUsage, error)
	CheckCompatibility(ctx context.Context, sourceID, targetID string) (types.Compatibility, error)
	Analyze(ctx context.Context, sourceID, targetID string) (*types.AnalysisReport, error)
	StartMigration(ctx context.Context, sourceID, targetID string) (string, error)
	GetMigrationStatus(ctx context.Context, migrationID string) (*types.MigrationRecord, error)
	ListMigrationHistory(ctx context.Context) ([]*types.MigrationRecord, error)
}

// Server represents the RPC server that runs in the daemon
type Server struct {
	socketPath string
	dbPath     string
	engine     Engine
	logger     *slog.Logger
	listener   net.Listener
	mu         sync.Mutex
	shutdown   bool
	stopOnce   sync.Once
	doneChan   chan struct{} // closed when Stop completes
	// Health
	startTime time.Time
	// Connection limiting
	maxConns      int
	activeConns   int32 // atomic counter
	connSemaphore chan struct{}
	// Request timeout
	requestTimeout time.Duration
	// Ready channel signals when server is listening
	readyChan chan struct{}
	connWG    sync.WaitGroup
}

// ServerOptions tune a Server. Zero values use defaults.
type ServerOptions struct {
	DatabasePath   string
	MaxConns       int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewServer creates a new RPC server
func NewServer(socketPath string, engine Engine, opts ServerOptions) *Server {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath:     socketPath,
		dbPath:         opts.DatabasePath,
		engine:         engine,
		logger:         opts.Logger,
		doneChan:       make(chan struct{}),
		startTime:      time.Now(),
		maxConns:       opts.MaxConns,
		connSemaphore:  make(chan struct{}, opts.MaxConns),
		requestTimeout: opts.RequestTimeout,
		readyChan:      make(chan struct{}),
	}
}

// Start listens on the socket and serves until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	if _, err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// Remove a stale socket left by a crashed daemon
	if endpointExists(s.socketPath) {
		if conn, err := dialRPC(s.socketPath, 200*time.Millisecond); err == nil {
			_ = conn.Close()
			return fmt.Errorf("daemon already listening on %s", s.socketPath)
		}
		_ = os.Remove(s.socketPath)
	}

	listener, err := listenRPC(s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.readyChan)
	s.logger.Info("rpc server listening", "socket", s.socketPath)

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Stop()
		case <-s.doneChan:
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				return nil
			}
			return err
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			s.logger.Warn("connection limit reached, rejecting client", "max", s.maxConns)
			s.writeResponse(bufio.NewWriter(conn), Response{Success: false, Error: "too many connections", Code: CodeInternal})
			_ = conn.Close()
			continue
		}

		s.connWG.Add(1)
		go func() {
			defer s.connWG.Done()
			defer func() { <-s.connSemaphore }()
			s.handleConnection(conn)
		}()
	}
}

// WaitReady blocks until the listener is open or timeout elapses.
func (s *Server) WaitReady(timeout time.Duration) error {
	select {
	case <-s.readyChan:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for rpc server")
	}
}

// Done is closed once the server has stopped.
func (s *Server) Done() <-chan struct{} { return s.doneChan }

// Stop closes the listener and removes the socket.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.mu.Unlock()

		if listener != nil {
			err = listener.Close()
		}
		_ = CleanupSocketDir(s.socketPath)
		close(s.doneChan)
		s.logger.Info("rpc server stopped")
	})
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	atomic.AddInt32(&s.activeConns, 1)
	defer atomic.AddInt32(&s.activeConns, -1)
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(writer, Response{Success: false, Error: fmt.Sprintf("invalid request: %v", err), Code: CodeInvalid})
			continue
		}
		s.writeResponse(writer, s.handleRequest(&req))
	}
}

func (s *Server) writeResponse(writer *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(Response{Success: false, Error: "failed to encode response", Code: CodeInternal})
	}
	_, _ = writer.Write(data)
	_ = writer.WriteByte('\n')
	_ = writer.Flush()
}

// classify maps an engine error to a response code and optional detail.
func classify(err error) (string, any) {
	kind, incompatible := consolidate.Classify(err)
	if incompatible != nil {
		return CodeIncompatible, IncompatibleData{Validation: incompatible.Result}
	}
	return kind.String(), nil
}
