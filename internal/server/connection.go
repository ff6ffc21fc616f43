// Package server implements the TCP server for Stratum protocol connections.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ore-pool/stratum/internal/config"
	"github.com/ore-pool/stratum/internal/mining"
	"github.com/ore-pool/stratum/internal/protocol"
	"github.com/ore-pool/stratum/internal/registry"
	"github.com/ore-pool/stratum/internal/worker"

	"go.uber.org/zap"
)

// ConnectionState represents the current state of a connection.
type ConnectionState int32

const (
	StateConnected ConnectionState = iota
	StateSubscribed
	StateAuthorized
	StateMining
	StateDisconnected
)

// Connection represents a single Stratum client connection.
type Connection struct {
	id             string
	conn           net.Conn
	cfg            config.ServerConfig
	logger         *zap.Logger
	workerManager  *worker.Manager
	registry       *registry.Registry
	shareValidator *mining.ShareValidator
	banPolicy      worker.BanPolicy

	state      int32
	workerName string
	extranonce string
	difficulty float64

	reader    *bufio.Reader
	writeMu   sync.Mutex
	closeChan chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a new connection handler.
func NewConnection(conn net.Conn, cfg config.ServerConfig, logger *zap.Logger, wm *worker.Manager, reg *registry.Registry, sv *mining.ShareValidator, banPolicy worker.BanPolicy) *Connection {
	return &Connection{
		id:             uuid.New().String()[:8],
		conn:           conn,
		cfg:            cfg,
		logger:         logger.Named("connection"),
		workerManager:  wm,
		registry:       reg,
		shareValidator: sv,
		banPolicy:      banPolicy,
		reader:         bufio.NewReader(conn),
		closeChan:      make(chan struct{}),
		difficulty:     1.0, // replaced by the worker's difficulty in handleAuthorize
	}
}

// ID returns the connection ID.
func (c *Connection) ID() string {
	return c.id
}

// GetWorkerName returns the worker name for this connection.
func (c *Connection) GetWorkerName() string {
	return c.workerName
}

// GetState returns the current connection state.
func (c *Connection) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

// Handle processes the connection's read/write loop.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeChan:
			return nil
		default:
			// Set read deadline
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

			// Read line
			line, err := c.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					c.logger.Debug("Connection read timeout", zap.String("id", c.id))
					return nil
				}
				return fmt.Errorf("read error: %w", err)
			}

			// Parse and handle message
			if err := c.handleMessage(ctx, line); err != nil {
				c.logger.Error("Failed to handle message",
					zap.String("id", c.id),
					zap.Error(err),
				)
				// Log only; the connection stays open
			}
		}
	}
}

// handleMessage parses and routes a JSON-RPC message.
func (c *Connection) handleMessage(ctx context.Context, data string) error {
	var msg protocol.Request
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return c.sendError(msg.ID, protocol.ErrParseError, "Parse error")
	}

	c.logger.Debug("Received message",
		zap.String("id", c.id),
		zap.String("method", msg.Method),
	)

	switch msg.Method {
	case "mining.subscribe":
		return c.handleSubscribe(ctx, msg)
	case "mining.authorize":
		return c.handleAuthorize(ctx, msg)
	case "mining.submit":
		return c.handleSubmit(ctx, msg)
	case "mining.extranonce.subscribe":
		return c.handleExtranonceSubscribe(ctx, msg)
	default:
		return c.sendError(msg.ID, protocol.ErrMethodNotFound, "Method not found")
	}
}

// handleSubscribe handles mining.subscribe requests.
func (c *Connection) handleSubscribe(ctx context.Context, req protocol.Request) error {
	extranonce1, err := c.registry.AllocateExtranonce1()
	if err != nil {
		c.logger.Error("Failed to allocate extranonce1", zap.String("id", c.id), zap.Error(err))
		return c.sendError(req.ID, protocol.ErrInternalError, "Unable to allocate session")
	}
	c.extranonce = extranonce1

	// Update state
	atomic.StoreInt32(&c.state, int32(StateSubscribed))

	// Build subscription response
	subscriptions := [][]interface{}{
		{"mining.set_difficulty", c.id},
		{"mining.notify", c.id},
	}

	result := []interface{}{
		subscriptions,
		c.extranonce,
		c.registry.Extranonce2Size(),
	}

	return c.sendResult(req.ID, result)
}

// handleAuthorize handles mining.authorize requests.
func (c *Connection) handleAuthorize(ctx context.Context, req protocol.Request) error {
	if c.GetState() < StateSubscribed {
		return c.sendError(req.ID, protocol.ErrNotSubscribed, "Not subscribed")
	}

	// Parse params: [username, password]
	var params []interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 1 {
		return c.sendError(req.ID, protocol.ErrInvalidParams, "Invalid params")
	}

	username, ok := params[0].(string)
	if !ok {
		return c.sendError(req.ID, protocol.ErrInvalidParams, "Invalid username")
	}

	password := ""
	if len(params) > 1 {
		password, _ = params[1].(string)
	}
	_ = password // not checked: Register only stores it on the Worker

	if c.workerManager.IsBanned(ctx, username) {
		c.logger.Debug("Rejected authorize from banned worker",
			zap.String("id", c.id),
			zap.String("username", username),
		)
		return c.sendResult(req.ID, false)
	}

	// Register worker
	w, err := c.workerManager.Register(ctx, username, password, c.conn.RemoteAddr().String())
	if err != nil {
		c.logger.Error("Worker registration failed",
			zap.String("id", c.id),
			zap.String("username", username),
			zap.Error(err),
		)
		return c.sendResult(req.ID, false)
	}

	c.workerName = username
	c.difficulty = w.Difficulty

	// Update state
	atomic.StoreInt32(&c.state, int32(StateAuthorized))

	c.logger.Info("Worker authorized",
		zap.String("id", c.id),
		zap.String("worker", username),
		zap.Float64("difficulty", c.difficulty),
	)

	// Send authorization result
	if err := c.sendResult(req.ID, true); err != nil {
		return err
	}

	// Send initial difficulty
	if err := c.sendDifficulty(c.difficulty); err != nil {
		return err
	}

	// Send current job
	if job, ok := c.registry.CurrentJob(); ok {
		c.registry.RegisterWork(c.extranonce, job.ID, c.difficulty)
		return c.SendJob(job)
	}

	return nil
}

// handleSubmit handles mining.submit requests.
func (c *Connection) handleSubmit(ctx context.Context, req protocol.Request) error {
	if c.GetState() < StateAuthorized {
		return c.sendError(req.ID, protocol.ErrUnauthorized, "Not authorized")
	}

	// Parse params: [worker_name, job_id, extranonce2, ntime, nonce]
	var params []interface{}
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 5 {
		return c.sendError(req.ID, protocol.ErrInvalidParams, "Invalid params")
	}

	workerName, _ := params[0].(string)
	jobID, _ := params[1].(string)
	extranonce2, _ := params[2].(string)
	ntime, _ := params[3].(string)
	nonce, _ := params[4].(string)

	share := &mining.Share{
		WorkerName:  workerName,
		JobID:       jobID,
		Extranonce1: c.extranonce,
		Extranonce2: extranonce2,
		Ntime:       ntime,
		Nonce:       nonce,
		SubmittedAt: time.Now(),
		IPAddress:   c.conn.RemoteAddr().String(),
	}

	// Validate share
	outcome, err := c.shareValidator.Validate(ctx, share)
	if err != nil {
		c.logger.Error("Share validation error",
			zap.String("id", c.id),
			zap.Error(err),
		)
		return c.sendError(req.ID, protocol.ErrInternalError, "Internal error")
	}

	// Update worker statistics
	c.workerManager.UpdateStats(ctx, c.workerName, outcome)

	// Check result
	if outcome.Kind != mining.OutcomeValidShare && outcome.Kind != mining.OutcomeBlockCandidate {
		c.logger.Debug("Invalid share",
			zap.String("id", c.id),
			zap.String("worker", workerName),
			zap.String("reason", outcome.RejectText),
		)

		if c.workerManager.CheckAndRecordInvalid(ctx, c.workerName, c.banPolicy) {
			c.Close()
		}

		return c.sendError(req.ID, errorCodeForOutcome(outcome.Kind), outcome.RejectText)
	}

	c.logger.Debug("Valid share",
		zap.String("id", c.id),
		zap.String("worker", workerName),
		zap.Float64("share_diff", outcome.ShareDiff),
	)

	// Check for vardiff adjustment
	if newDiff := c.workerManager.CheckVarDiff(ctx, c.workerName); newDiff > 0 && newDiff != c.difficulty {
		c.difficulty = newDiff
		if job, ok := c.registry.CurrentJob(); ok {
			c.registry.RegisterWork(c.extranonce, job.ID, newDiff)
		}
		if err := c.sendDifficulty(newDiff); err != nil {
			c.logger.Error("Failed to send difficulty update",
				zap.String("id", c.id),
				zap.Error(err),
			)
		}
	}

	return c.sendResult(req.ID, true)
}

func errorCodeForOutcome(kind mining.OutcomeKind) int {
	switch kind {
	case mining.OutcomeStale:
		return protocol.ErrStaleShare
	case mining.OutcomeDuplicate:
		return protocol.ErrDuplicateShare
	case mining.OutcomeJobNotFound:
		return protocol.ErrJobNotFound
	case mining.OutcomeLowDifficulty:
		return protocol.ErrLowDifficultyShare
	case mining.OutcomeMalformedParams:
		return protocol.ErrOther
	default:
		return protocol.ErrOther
	}
}

// handleExtranonceSubscribe handles mining.extranonce.subscribe requests.
func (c *Connection) handleExtranonceSubscribe(ctx context.Context, req protocol.Request) error {
	return c.sendResult(req.ID, true)
}

// SendJob sends a mining.notify message to the client.
func (c *Connection) SendJob(job *mining.Job) error {
	if c.GetState() < StateAuthorized {
		return nil
	}

	prevHash, err := job.Template.PrevHashNotify()
	if err != nil {
		return fmt.Errorf("send job: %w", err)
	}

	params := []interface{}{
		job.ID,
		prevHash,
		job.Coinbase1,
		job.Coinbase2,
		job.MerkleBranch,
		fmt.Sprintf("%08x", job.Template.Version),
		fmt.Sprintf("%08x", job.Template.Bits),
		fmt.Sprintf("%08x", job.Template.CurTime),
		job.CleanJobs,
	}

	return c.sendNotification("mining.notify", params)
}

// SetDifficulty sets the connection difficulty and notifies the client.
func (c *Connection) SetDifficulty(difficulty float64) error {
	c.difficulty = difficulty
	return c.sendDifficulty(difficulty)
}

// sendDifficulty sends a mining.set_difficulty notification.
func (c *Connection) sendDifficulty(difficulty float64) error {
	return c.sendNotification("mining.set_difficulty", []interface{}{difficulty})
}

// sendResult sends a JSON-RPC result response.
func (c *Connection) sendResult(id interface{}, result interface{}) error {
	response := protocol.Response{
		ID:     id,
		Result: result,
		Error:  nil,
	}
	return c.send(response)
}

// sendError sends a JSON-RPC error response.
func (c *Connection) sendError(id interface{}, code int, message string) error {
	response := protocol.Response{
		ID:     id,
		Result: nil,
		Error:  []interface{}{code, message, nil},
	}
	return c.send(response)
}

// sendNotification sends a JSON-RPC notification (no id).
func (c *Connection) sendNotification(method string, params interface{}) error {
	notification := protocol.Notification{
		ID:     nil,
		Method: method,
		Params: params,
	}
	return c.send(notification)
}

// send writes a JSON message to the connection.
func (c *Connection) send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))

	data = append(data, '\n')
	_, err = c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// Close closes the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.state, int32(StateDisconnected))
		close(c.closeChan)
		c.conn.Close()

		if c.extranonce != "" {
			c.registry.ReleaseExtranonce1(c.extranonce)
		}

		// Unregister worker
		if c.workerName != "" {
			c.workerManager.Disconnect(context.Background(), c.workerName)
		}
	})
}
