package odoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

// Config identifies one Odoo instance and the credentials used for every call.
type Config struct {
	URL      string        `yaml:"url" json:"url"`
	Database string        `yaml:"database" json:"database"`
	Username string        `yaml:"username" json:"username"`
	Password string        `yaml:"-" json:"password,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"-"`
}

// Validate checks that the connection settings are complete.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.URL) == "":
		return errors.New("odoo url is required")
	case strings.TrimSpace(c.Database) == "":
		return errors.New("odoo database is required")
	case strings.TrimSpace(c.Username) == "":
		return errors.New("odoo username is required")
	case c.Password == "":
		return errors.New("odoo password is required")
	}
	return nil
}

// XMLRPCClient talks to Odoo's external API over XML-RPC.
type XMLRPCClient struct {
	cfg    Config
	common *xmlrpc.Client
	object *xmlrpc.Client

	mu  sync.Mutex
	uid int64
}

// Dial builds an XML-RPC client. Authentication happens lazily on the first call.
func Dial(cfg Config) (*XMLRPCClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: timeout,
		TLSHandshakeTimeout:   10 * time.Second,
	}
	base := strings.TrimSuffix(cfg.URL, "/")
	common, err := xmlrpc.NewClient(base+"/xmlrpc/2/common", transport)
	if err != nil {
		return nil, fmt.Errorf("odoo common endpoint: %w", err)
	}
	object, err := xmlrpc.NewClient(base+"/xmlrpc/2/object", transport)
	if err != nil {
		common.Close()
		return nil, fmt.Errorf("odoo object endpoint: %w", err)
	}
	return &XMLRPCClient{cfg: cfg, common: common, object: object}, nil
}

// Close releases both endpoints.
func (c *XMLRPCClient) Close() error {
	return errors.Join(c.common.Close(), c.object.Close())
}

func (c *XMLRPCClient) login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid > 0 {
		return c.uid, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var reply any
	args := []any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}}
	if err := c.common.Call("authenticate", args, &reply); err != nil {
		return 0, &RemoteRPCError{Method: "authenticate", Err: err}
	}
	uid, ok := asInt64(reply)
	if !ok || uid <= 0 {
		return 0, &RemoteRPCError{Method: "authenticate", Err: ErrAuthentication}
	}
	c.uid = uid
	return uid, nil
}

func (c *XMLRPCClient) execute(ctx context.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	uid, err := c.login(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	params := []any{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs}
	var reply any
	if err := c.object.Call("execute_kw", params, &reply); err != nil {
		return nil, &RemoteRPCError{Model: model, Method: method, Err: err}
	}
	return reply, nil
}

func (c *XMLRPCClient) Create(ctx context.Context, model string, values Values) (int64, error) {
	reply, err := c.execute(ctx, model, "create", []any{map[string]any(values)}, nil)
	if err != nil {
		return 0, err
	}
	id, ok := asInt64(reply)
	if !ok {
		return 0, &RemoteRPCError{Model: model, Method: "create", Err: fmt.Errorf("unexpected reply %T", reply)}
	}
	return id, nil
}

func (c *XMLRPCClient) Search(ctx context.Context, model string, domain Domain) ([]int64, error) {
	reply, err := c.execute(ctx, model, "search", []any{domain.encode()}, nil)
	if err != nil {
		return nil, err
	}
	ids, ok := asInt64Slice(reply)
	if !ok {
		return nil, &RemoteRPCError{Model: model, Method: "search", Err: fmt.Errorf("unexpected reply %T", reply)}
	}
	return ids, nil
}

func (c *XMLRPCClient) Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	kwargs := map[string]any{}
	if len(fields) > 0 {
		kwargs["fields"] = fields
	}
	reply, err := c.execute(ctx, model, "read", []any{ids}, kwargs)
	if err != nil {
		return nil, err
	}
	rows, ok := reply.([]any)
	if !ok {
		return nil, &RemoteRPCError{Model: model, Method: "read", Err: fmt.Errorf("unexpected reply %T", reply)}
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			return nil, &RemoteRPCError{Model: model, Method: "read", Err: fmt.Errorf("unexpected row %T", row)}
		}
		records = append(records, Record(m))
	}
	return records, nil
}

func (c *XMLRPCClient) Unlink(ctx context.Context, model string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.execute(ctx, model, "unlink", []any{ids}, nil)
	return err
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func asInt64Slice(v any) ([]int64, bool) {
	if v == nil {
		return nil, true
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, ok := asInt64(item)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
