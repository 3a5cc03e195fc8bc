package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/fieldmerge/internal/debug"
	"github.com/untoldecay/fieldmerge/internal/lockfile"
	"github.com/untoldecay/fieldmerge/internal/types"
)

func rpcDebugEnabled() bool {
	val := os.Getenv("FIELDMERGE_RPC_DEBUG")
	return val == "1" || val == "true"
}

func rpcDebugLog(format string, args ...any) {
	if rpcDebugEnabled() {
		fmt.Fprintf(os.Stderr, "[RPC DEBUG] "+format+"\n", args...)
	}
}

// ClientVersion is the version of this RPC client.
// It's set by main from the CLI version before making RPC calls.
var ClientVersion = "0.0.0" // Placeholder; overridden at startup

// Error is a failed daemon response.
type Error struct {
	Code    string
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation failed: %s", e.Message)
}

// Incompatibility decodes the validation result of a CodeIncompatible failure.
func (e *Error) Incompatibility() (types.Compatibility, bool) {
	if e.Code != CodeIncompatible || len(e.Data) == 0 {
		return types.Compatibility{}, false
	}
	var data IncompatibleData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return types.Compatibility{}, false
	}
	return data.Validation, true
}

// Client represents an RPC client that connects to the daemon
type Client struct {
	conn       net.Conn
	reader     *bufio.Reader
	socketPath string
	timeout    time.Duration
	dbPath     string // Expected database path for validation
	ctx        context.Context
}

// TryConnect attempts to connect to the daemon socket.
// Returns nil if no daemon is running or it is unhealthy.
func TryConnect(socketPath string) (*Client, error) {
	return TryConnectWithTimeout(socketPath, 200*time.Millisecond)
}

// TryConnectWithTimeout is TryConnect with an explicit dial timeout.
func TryConnectWithTimeout(socketPath string, dialTimeout time.Duration) (*Client, error) {
	rpcDebugLog("attempting connection to socket: %s", socketPath)

	if !endpointExists(socketPath) {
		rpcDebugLog("socket missing (no daemon running)")
		return nil, nil
	}

	if dialTimeout <= 0 {
		dialTimeout = 200 * time.Millisecond
	}

	dialStart := time.Now()
	conn, err := dialRPC(socketPath, dialTimeout)
	if err != nil {
		debug.Logf("failed to connect to RPC endpoint: %v", err)
		rpcDebugLog("dial failed after %v: %v", time.Since(dialStart), err)

		// Stale socket from a crashed daemon
		if running, _ := lockfile.DaemonRunning(filepath.Dir(socketPath)); !running {
			rpcDebugLog("daemon lock free, removing stale socket")
			_ = os.Remove(socketPath)
		}
		return nil, nil
	}
	rpcDebugLog("dial succeeded in %v", time.Since(dialStart))

	client := &Client{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}

	health, err := client.Health()
	if err != nil {
		debug.Logf("health check failed: %v", err)
		_ = conn.Close()
		return nil, nil
	}
	if health.Status == statusUnhealthy {
		debug.Logf("daemon unhealthy: %s", health.Error)
		_ = conn.Close()
		return nil, nil
	}
	if !health.Compatible {
		_ = conn.Close()
		return nil, fmt.Errorf("daemon version %s is incompatible with client %s", health.Version, ClientVersion)
	}

	debug.Logf("connected to daemon (status: %s, uptime: %.1fs)", health.Status, health.Uptime)
	return client, nil
}

// Close closes the connection to the daemon
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SetTimeout sets the request timeout duration
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SetDatabasePath sets the expected database path for validation
func (c *Client) SetDatabasePath(dbPath string) {
	c.dbPath = dbPath
}

// WithContext returns a client sharing c's connection whose requests are
// bounded by ctx. A request interrupted by ctx leaves the connection unusable.
func (c *Client) WithContext(ctx context.Context) *Client {
	cc := *c
	cc.ctx = ctx
	return &cc
}

// Execute sends an RPC request and waits for a response
func (c *Client) Execute(operation string, args any) (*Response, error) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	req := Request{
		Operation:     operation,
		Args:          argsJSON,
		ClientVersion: ClientVersion,
		ExpectedDB:    c.dbPath,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}
	// Cancellation unblocks the pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	writer := bufio.NewWriter(c.conn)
	if _, err := writer.Write(reqJSON); err != nil {
		return nil, ioError(ctx, "failed to write request", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return nil, ioError(ctx, "failed to write newline", err)
	}
	if err := writer.Flush(); err != nil {
		return nil, ioError(ctx, "failed to flush", err)
	}

	respLine, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, ioError(ctx, "failed to read response", err)
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !resp.Success {
		return &resp, &Error{Code: resp.Code, Message: resp.Error, Data: resp.Data}
	}
	return &resp, nil
}

func ioError(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", msg, ctxErr)
	}
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return fmt.Errorf("%s: %w", msg, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (c *Client) call(operation string, args, out any) error {
	resp, err := c.Execute(operation, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", operation, err)
	}
	return nil
}

// Ping sends a ping request to verify the daemon is alive
func (c *Client) Ping() error {
	return c.call(OpPing, nil, nil)
}

// Health sends a health check request
func (c *Client) Health() (*HealthResponse, error) {
	var health HealthResponse
	if err := c.call(OpHealth, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Shutdown asks the daemon to stop
func (c *Client) Shutdown() error {
	return c.call(OpShutdown, nil, nil)
}

// ListCustomFields lists custom fields via the daemon
func (c *Client) ListCustomFields() ([]types.Field, error) {
	var fields []types.Field
	err := c.call(OpFieldsList, nil, &fields)
	return fields, err
}

// FieldUsage returns screens and contexts for a field
func (c *Client) FieldUsage(fieldID string) (types.FieldUsage, error) {
	var usage types.FieldUsage
	err := c.call(OpFieldUsage, FieldArgs{FieldID: fieldID}, &usage)
	return usage, err
}

// CheckCompatibility evaluates the conversion rules for a pair
func (c *Client) CheckCompatibility(sourceID, targetID string) (types.Compatibility, error) {
	var result types.Compatibility
	err := c.call(OpCheckCompatibility, PairArgs{SourceFieldID: sourceID, TargetFieldID: targetID}, &result)
	return result, err
}

// Analyze builds the pre-migration report for a pair
func (c *Client) Analyze(sourceID, targetID string) (*types.AnalysisReport, error) {
	var report types.AnalysisReport
	if err := c.call(OpAnalyze, PairArgs{SourceFieldID: sourceID, TargetFieldID: targetID}, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// StartMigration starts a migration in the daemon and returns its id
func (c *Client) StartMigration(sourceID, targetID string) (string, error) {
	var result StartResult
	err := c.call(OpMigrationStart, PairArgs{SourceFieldID: sourceID, TargetFieldID: targetID}, &result)
	return result.MigrationID, err
}

// MigrationStatus returns a migration record
func (c *Client) MigrationStatus(migrationID string) (*types.MigrationRecord, error) {
	var rec types.MigrationRecord
	if err := c.call(OpMigrationStatus, MigrationArgs{MigrationID: migrationID}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MigrationHistory lists every migration record
func (c *Client) MigrationHistory() ([]*types.MigrationRecord, error) {
	var recs []*types.MigrationRecord
	err := c.call(OpMigrationHistory, nil, &recs)
	return recs, err
}
