package odoo

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xelth-com/odoostore/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds connection and retry settings for a Client
type Config struct {
	URL        string
	Database   string
	Username   string
	Password   string
	Protocol   string // jsonrpc or xmlrpc
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 disables
}

// ConfigFrom maps the service configuration to client settings
func ConfigFrom(c config.OdooConfig) Config {
	return Config{
		URL:        c.URL,
		Database:   c.Database,
		Username:   c.Username,
		Password:   c.Password,
		Protocol:   c.Protocol,
		MaxRetries: c.MaxRetries,
		RetryDelay: c.RetryDelay,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
	}
}

// Client is a session-holding Odoo RPC client.
// One Client is shared by every caller; the session is renewed on expiry.
type Client struct {
	cfg       Config
	transport Transport
	limiter   *rate.Limiter
	log       *zap.Logger

	mu  sync.Mutex
	uid int64
}

// NewClient creates a client using the transport named by cfg.Protocol
func NewClient(cfg Config, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var t Transport
	if cfg.Protocol == "xmlrpc" {
		t = NewXMLRPCTransport(cfg.URL, httpClient)
	} else {
		t = NewJSONRPCTransport(cfg.URL, httpClient)
	}
	return NewClientWithTransport(cfg, t, log)
}

// NewClientWithTransport creates a client on an explicit transport
func NewClientWithTransport(cfg Config, t Transport, log *zap.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	c := &Client{
		cfg:       cfg,
		transport: t,
		log:       log.Named("odoo"),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Authenticate logs in and caches the user id
func (c *Client) Authenticate(ctx context.Context) (int64, error) {
	var uid int64
	err := c.retry(ctx, "authenticate", func() error {
		var err error
		uid, err = c.login(ctx)
		return err
	})
	return uid, err
}

// VersionInfo is the reply of common.version
type VersionInfo struct {
	ServerVersion     string        `json:"server_version"`
	ServerVersionInfo []interface{} `json:"server_version_info"`
	ServerSerie       string        `json:"server_serie"`
	ProtocolVersion   int           `json:"protocol_version"`
}

// Version returns the server version; it needs no session
func (c *Client) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	err := c.retry(ctx, "version", func() error {
		return c.send(ctx, "common", "version", []interface{}{}, &info)
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Call runs execute_kw on model.method and decodes the result into reply.
// Failures are retried with exponential backoff; an expired session is
// renewed once per call.
func (c *Client) Call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	if kwargs == nil {
		kwargs = map[string]interface{}{}
	}

	op := model + "." + method
	reauthenticated := false

	err := c.retry(ctx, op, func() error {
		uid, err := c.session(ctx)
		if err != nil {
			return err
		}

		err = c.executeKw(ctx, uid, model, method, args, kwargs, reply)
		if !IsSessionExpired(err) {
			return err
		}
		if reauthenticated {
			return backoff.Permanent(err)
		}
		reauthenticated = true

		c.log.Info("session expired, re-authenticating", zap.String("op", op))
		c.invalidate(uid)
		if uid, err = c.login(ctx); err != nil {
			return err
		}

		err = c.executeKw(ctx, uid, model, method, args, kwargs, reply)
		if IsSessionExpired(err) {
			return backoff.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("odoo %s: %w", op, err)
	}
	return nil
}

func (c *Client) executeKw(ctx context.Context, uid int64, model, method string, args []interface{}, kwargs map[string]interface{}, reply interface{}) error {
	return c.send(ctx, "object", "execute_kw", []interface{}{
		c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs,
	}, reply)
}

// send performs a single rate-limited transport call
func (c *Client) send(ctx context.Context, service, method string, args []interface{}, reply interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.transport.Call(ctx, service, method, args, reply)
}

// session returns the cached uid or logs in
func (c *Client) session(ctx context.Context) (int64, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}
	return c.login(ctx)
}

func (c *Client) invalidate(uid int64) {
	c.mu.Lock()
	if c.uid == uid {
		c.uid = 0
	}
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context) (int64, error) {
	var raw interface{}
	err := c.send(ctx, "common", "authenticate", []interface{}{
		c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]interface{}{},
	}, &raw)
	if err != nil {
		return 0, err
	}

	uid, ok := toInt64(raw)
	if !ok || uid <= 0 {
		return 0, backoff.Permanent(ErrAuthenticationFailed)
	}

	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	c.log.Debug("authenticated", zap.Int64("uid", uid), zap.String("database", c.cfg.Database))
	return uid, nil
}

// retry runs fn up to MaxRetries times with delays RetryDelay, 2x, 4x...
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, next time.Duration) {
		c.log.Warn("odoo call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxRetries),
			zap.Duration("retry_in", next),
			zap.Error(err))
	})
}

// Domain is an Odoo search domain
type Domain []interface{}

// Cond builds a single domain leaf
func Cond(field, op string, value interface{}) []interface{} {
	return []interface{}{field, op, value}
}

// SearchOptions are the keyword arguments of search_read
type SearchOptions struct {
	Fields  []string
	Limit   int
	Offset  int
	Order   string
	Context map[string]interface{}
}

// searchContext includes archived records so callers decide filtering in the domain
func searchContext(extra map[string]interface{}) map[string]interface{} {
	ctx := map[string]interface{}{"active_test": false}
	for k, v := range extra {
		ctx[k] = v
	}
	return ctx
}

// SearchRead performs a search_read and decodes the records into result
func (c *Client) SearchRead(ctx context.Context, model string, domain Domain, opts SearchOptions, result interface{}) error {
	if domain == nil {
		domain = Domain{}
	}
	kwargs := map[string]interface{}{
		"context": searchContext(opts.Context),
	}
	if len(opts.Fields) > 0 {
		kwargs["fields"] = opts.Fields
	}
	if opts.Limit > 0 {
		kwargs["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		kwargs["offset"] = opts.Offset
	}
	if opts.Order != "" {
		kwargs["order"] = opts.Order
	}
	return c.Call(ctx, model, "search_read", []interface{}{domain}, kwargs, result)
}

// SearchCount returns the number of records matching domain
func (c *Client) SearchCount(ctx context.Context, model string, domain Domain) (int64, error) {
	if domain == nil {
		domain = Domain{}
	}
	var raw interface{}
	kwargs := map[string]interface{}{"context": searchContext(nil)}
	if err := c.Call(ctx, model, "search_count", []interface{}{domain}, kwargs, &raw); err != nil {
		return 0, err
	}
	n, ok := toInt64(raw)
	if !ok {
		return 0, fmt.Errorf("odoo %s.search_count: unexpected result %v", model, raw)
	}
	return n, nil
}

// Read reads records by id
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string, result interface{}) error {
	kwargs := map[string]interface{}{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	return c.Call(ctx, model, "read", []interface{}{ids}, kwargs, result)
}

// Create creates one record and returns its id
func (c *Client) Create(ctx context.Context, model string, values map[string]interface{}) (int64, error) {
	var raw interface{}
	if err := c.Call(ctx, model, "create", []interface{}{values}, nil, &raw); err != nil {
		return 0, err
	}
	// Newer servers answer a list of ids even for a single dict
	if list, ok := raw.([]interface{}); ok && len(list) > 0 {
		raw = list[0]
	}
	id, ok := toInt64(raw)
	if !ok || id <= 0 {
		return 0, fmt.Errorf("odoo %s.create: unexpected result %v", model, raw)
	}
	return id, nil
}

// Write updates records
func (c *Client) Write(ctx context.Context, model string, ids []int64, values map[string]interface{}) error {
	var ok bool
	if err := c.Call(ctx, model, "write", []interface{}{ids, values}, nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("odoo %s.write returned false", model)
	}
	return nil
}

// Unlink deletes records
func (c *Client) Unlink(ctx context.Context, model string, ids []int64) error {
	var ok bool
	if err := c.Call(ctx, model, "unlink", []interface{}{ids}, nil, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("odoo %s.unlink returned false", model)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	val := reflect.ValueOf(v)
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return val.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(val.Uint()), true
	case reflect.Float32, reflect.Float64:
		return int64(val.Float()), true
	}
	return 0, false
}
