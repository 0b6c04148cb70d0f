package stream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"tradejournal/src/connectors"
	"tradejournal/src/events"
	"tradejournal/src/model"
	"tradejournal/src/repository"
)

var ErrStreamFailed = errors.New("stream: giving up after consecutive failures")

const (
	topicExecution = "execution"
	topicPosition  = "position"
)

type message struct {
	Op      string            `json:"op"`
	Success *bool             `json:"success"`
	RetMsg  string            `json:"ret_msg"`
	Topic   string            `json:"topic"`
	Data    []json.RawMessage `json:"data"`
}

type request struct {
	Op   string        `json:"op"`
	Args []interface{} `json:"args,omitempty"`
}

// Correlator keeps one private stream open for one connection and turns
// closing executions into closed Trade rows.
type Correlator struct {
	conn      model.ExchangeConnection
	apiKey    string
	apiSecret string
	trades    repository.TradeRepository
	config    Config
	dialer    *websocket.Dialer
	registry  *Registry
	publisher events.Publisher
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Entry

	cache  PositionCache
	status Status
}

func NewCorrelator(
	conn model.ExchangeConnection,
	apiKey, apiSecret string,
	trades repository.TradeRepository,
	registry *Registry,
	publisher events.Publisher,
	config Config,
) *Correlator {
	c := &Correlator{
		conn:      conn,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		trades:    trades,
		config:    config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		registry:  registry,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
		log: logger.WithFields(logger.Fields{
			"component":     "stream",
			"connection_id": conn.ID,
			"user_id":       conn.UserID,
		}),
		cache: make(PositionCache),
	}
	c.status = Status{ConnectionID: conn.ID, UserID: conn.UserID, State: StateDisconnected, Since: c.now()}
	registry.set(c.status)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Correlator) setState(ctx context.Context, s State, err error) {
	if c.status.State == s && err == nil {
		return
	}
	c.status.State = s
	c.status.Since = c.now()
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.registry.set(c.status)

	e := events.Event{
		Type:         events.TypeStreamState,
		Kind:         "stream",
		UserID:       c.conn.UserID,
		ConnectionID: c.conn.ID,
		Exchange:     c.conn.Exchange,
		Attempt:      c.status.Failures,
		Detail:       string(s),
	}
	if err != nil {
		e.Error = err.Error()
	}
	events.Emit(ctx, c.publisher, e)
}

// Run keeps the stream alive until ctx is done, the exchange rejects the
// credentials, or MaxFailures sessions in a row fail. A session that reached
// SUBSCRIBED resets the failure count.
func (c *Correlator) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			c.setState(context.WithoutCancel(ctx), StateDisconnected, nil)
			return nil
		}

		subscribed, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(context.WithoutCancel(ctx), StateDisconnected, nil)
			return nil
		}
		if subscribed {
			failures = 0
		}
		if connectors.IsAuthError(err) {
			c.setState(ctx, StateFailed, err)
			c.log.WithError(err).Error("Stream authentication rejected")
			return err
		}

		failures++
		c.status.Failures = failures
		if failures > c.config.MaxFailures {
			c.setState(ctx, StateFailed, err)
			c.log.WithError(err).WithField("failures", failures).Error("Stream failed permanently")
			return fmt.Errorf("%w: %v", ErrStreamFailed, err)
		}

		delay := ReconnectDelay(failures)
		c.setState(ctx, StateConnecting, err)
		c.log.WithError(err).WithFields(logger.Fields{
			"failures": failures,
			"retry":    delay.String(),
		}).Warn("Stream dropped, reconnecting")
		if err := c.sleep(ctx, delay); err != nil {
			c.setState(context.WithoutCancel(ctx), StateDisconnected, nil)
			return nil
		}
	}
}

// session runs one connection from dial to close. It reports whether the
// subscription was confirmed.
func (c *Correlator) session(ctx context.Context) (bool, error) {
	c.setState(ctx, StateConnecting, nil)
	ws, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return false, fmt.Errorf("%w: dial: %v", connectors.ErrTransient, err)
	}
	defer ws.Close()

	// close the socket on cancellation so the blocking read returns
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	var writeMu sync.Mutex
	write := func(v interface{}) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return ws.WriteJSON(v)
	}
	readTimeout := 2*c.config.PingInterval + 5*time.Second

	c.setState(ctx, StateAuthenticating, nil)
	if err := write(c.authRequest()); err != nil {
		return false, fmt.Errorf("%w: send auth: %v", connectors.ErrTransient, err)
	}

	subscribed := false
	var pingStop chan struct{}
	defer func() {
		if pingStop != nil {
			close(pingStop)
		}
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("%w: read: %v", connectors.ErrTransient, err)
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Warn("Unreadable stream message skipped")
			continue
		}

		switch msg.Op {
		case "auth":
			if msg.Success == nil || !*msg.Success {
				return false, fmt.Errorf("%w: stream auth: %s", connectors.ErrAuth, msg.RetMsg)
			}
			if err := write(request{Op: "subscribe", Args: []interface{}{topicExecution, topicPosition}}); err != nil {
				return false, fmt.Errorf("%w: send subscribe: %v", connectors.ErrTransient, err)
			}
			continue
		case "subscribe":
			if msg.Success == nil || !*msg.Success {
				return false, fmt.Errorf("%w: subscribe rejected: %s", connectors.ErrTransient, msg.RetMsg)
			}
			subscribed = true
			c.setState(ctx, StateSubscribed, nil)
			c.status.Failures = 0
			c.registry.set(c.status)
			pingStop = make(chan struct{})
			go c.pingLoop(pingStop, write)
			continue
		case "pong", "ping":
			continue
		}

		if msg.Topic != "" {
			c.HandleTopic(ctx, msg.Topic, msg.Data)
		}
	}
}

func (c *Correlator) pingLoop(stop <-chan struct{}, write func(interface{}) error) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := write(request{Op: "ping"}); err != nil {
				c.log.WithError(err).Debug("Stream ping failed")
				return
			}
		}
	}
}

func (c *Correlator) authRequest() request {
	expires := c.now().Add(c.config.AuthExpiry).UnixMilli()
	return request{
		Op:   "auth",
		Args: []interface{}{c.apiKey, expires, AuthSignature(c.apiSecret, expires)},
	}
}

// AuthSignature signs the private stream handshake.
func AuthSignature(secret string, expires int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("GET/realtime" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleTopic applies one data message in delivery order.
func (c *Correlator) HandleTopic(ctx context.Context, topic string, data []json.RawMessage) {
	switch topic {
	case topicPosition:
		for _, raw := range data {
			p, err := connectors.ParsePosition(raw)
			if err != nil {
				c.log.WithError(err).Warn("Malformed position skipped")
				continue
			}
			c.cache.Apply(p)
		}
	case topicExecution:
		for _, raw := range data {
			exec, err := connectors.ParseExecution(raw)
			if err != nil {
				c.log.WithError(err).Warn("Malformed execution skipped")
				continue
			}
			if err := c.handleExecution(ctx, exec); err != nil {
				c.log.WithError(err).WithField("exec_id", exec.ExecID).Error("Failed to record stream trade")
			}
		}
	}
}

func (c *Correlator) handleExecution(ctx context.Context, exec connectors.Execution) error {
	if exec.ExecType != "" && exec.ExecType != model.ExecTypeTrade {
		return nil
	}
	if !exec.ClosedSize.IsPositive() || !c.conn.AllowsSymbol(exec.Symbol) {
		return nil
	}

	var snap *model.PositionSnapshot
	if s, ok := c.cache[exec.Symbol]; ok {
		snap = &s
	}
	res, ok := Correlate(exec, snap, c.config.InferenceEnabled)
	if !ok {
		c.log.WithFields(logger.Fields{
			"exec_id": exec.ExecID,
			"symbol":  exec.Symbol,
		}).Warn("Closing execution without position snapshot, skipped")
		return nil
	}
	if res.Confidence == model.TradeConfidenceInferred {
		c.log.WithFields(logger.Fields{
			"exec_id": exec.ExecID,
			"symbol":  exec.Symbol,
			"side":    res.Side,
			"entry":   res.EntryPrice.String(),
		}).Warn("No position snapshot, side and entry inferred from pnl")
	}
	if exec.ExecTime.IsZero() {
		exec.ExecTime = c.now()
	}

	created, err := c.trades.CreateIfAbsent(ctx, ClosedTrade(&c.conn, exec, res))
	if err != nil {
		return err
	}
	if created {
		c.status.TradesSaved++
		c.registry.set(c.status)
	}
	return nil
}
