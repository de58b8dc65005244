// Package googletasks implements service.Store and service.Writer over the
// Google Tasks API. A task list is a collection; snapshots come from polling.
package googletasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	tasks "google.golang.org/api/tasks/v1"

	"tasksync/internal/config"
	"tasksync/internal/service"
)

const (
	// DefaultListID is the special ID for the default list.
	DefaultListID = "@default"

	// PageSize is the number of tasks per page.
	PageSize = 100

	// APITimeout is the timeout for API calls.
	APITimeout = 5 * time.Second

	// DefaultPollInterval is used when the config leaves it unset.
	DefaultPollInterval = 5 * time.Second

	statusCompleted   = "completed"
	statusNeedsAction = "needsAction"
)

// TokenSourceFunc returns the signed-in user's token source. It is called
// per request, so a sign-in after the store was built is picked up.
type TokenSourceFunc func(ctx context.Context) (oauth2.TokenSource, error)

// Client implements service.Store and service.Writer.
type Client struct {
	svc      *tasks.Service
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	kicks  map[string]map[int]chan struct{}
	nextID int
}

// New creates a Google Tasks client authorized by tokens.
func New(ctx context.Context, cfg *config.Config, tokens TokenSourceFunc) (*Client, error) {
	httpClient := oauth2.NewClient(ctx, &lazySource{ctx: ctx, fn: tokens})

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Tasks.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Tasks.Endpoint))
	}
	client, err := newClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Tasks.PollInterval > 0 {
		client.interval = cfg.Tasks.PollInterval
	}
	return client, nil
}

// NewWithHTTPClient creates a client with a custom HTTP client and endpoint
// (for testing).
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, endpoint string, interval time.Duration) (*Client, error) {
	client, err := newClient(ctx, option.WithHTTPClient(httpClient), option.WithEndpoint(endpoint))
	if err != nil {
		return nil, err
	}
	client.interval = interval
	return client, nil
}

func newClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := tasks.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tasks service: %w", err)
	}
	return &Client{
		svc:      svc,
		interval: DefaultPollInterval,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		kicks:    make(map[string]map[int]chan struct{}),
	}, nil
}

// WithLogger sets the logger for poll activity.
func (c *Client) WithLogger(log *slog.Logger) *Client {
	if log != nil {
		c.log = log
	}
	return c
}

// SubscribeSnapshot implements service.Store. The list is read immediately
// and then every poll interval; fn sees a snapshot only when it differs from
// the previous one. A failed read is reported once and ends the
// subscription.
func (c *Client) SubscribeSnapshot(collection string, fn func([]service.Record, error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	kick, id := c.addKick(collection)

	go c.poll(ctx, collection, kick, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			c.removeKick(collection, id)
		})
	}
}

// SetDone implements service.Writer.
func (c *Client) SetDone(ctx context.Context, collection, itemID string, done bool) error {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	_, err := c.svc.Tasks.Patch(collection, itemID, patchFor(done)).Context(ctx).Do()
	if err != nil {
		return wrapError(err)
	}
	c.log.Debug("task updated", "collection", collection, "item", itemID, "done", done)
	c.kick(collection)
	return nil
}

func (c *Client) poll(ctx context.Context, collection string, kick <-chan struct{}, fn func([]service.Record, error)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	var last []service.Record
	first := true
	for {
		recs, err := c.fetch(ctx, collection)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Debug("poll failed", "collection", collection, "err", err)
			fn(nil, err)
			return
		}
		if first || !sameRecords(last, recs) {
			fn(recs, nil)
			last, first = recs, false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
	}
}

func (c *Client) fetch(ctx context.Context, collection string) ([]service.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()

	recs := []service.Record{}
	err := c.svc.Tasks.List(collection).
		MaxResults(PageSize).
		ShowCompleted(true).
		ShowHidden(true).
		ShowDeleted(false).
		Pages(ctx, func(resp *tasks.Tasks) error {
			for _, task := range resp.Items {
				recs = append(recs, toRecord(task))
			}
			return nil
		})
	if err != nil {
		return nil, wrapError(err)
	}
	return recs, nil
}

func (c *Client) addKick(collection string) (chan struct{}, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kicks[collection] == nil {
		c.kicks[collection] = make(map[int]chan struct{})
	}
	id := c.nextID
	c.nextID++
	ch := make(chan struct{}, 1)
	c.kicks[collection][id] = ch
	return ch, id
}

func (c *Client) removeKick(collection string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kicks[collection], id)
}

// kick makes every poller of collection read again now.
func (c *Client) kick(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.kicks[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// toRecord converts a task to the loosely typed record the mirror decodes.
func toRecord(t *tasks.Task) service.Record {
	return service.Record{
		service.FieldID:     t.Id,
		service.FieldTitle:  t.Title,
		service.FieldIsDone: t.Status == statusCompleted,
	}
}

// patchFor builds the patch body for a done flag. Reopening a task must
// clear its completion time as well.
func patchFor(done bool) *tasks.Task {
	if done {
		return &tasks.Task{Status: statusCompleted}
	}
	return &tasks.Task{Status: statusNeedsAction, NullFields: []string{"Completed"}}
}

func sameRecords(a, b []service.Record) bool {
	return slices.EqualFunc(a, b, func(x, y service.Record) bool {
		return maps.Equal(x, y)
	})
}

// lazySource resolves the token source on every call.
type lazySource struct {
	ctx context.Context
	fn  TokenSourceFunc
}

func (l *lazySource) Token() (*oauth2.Token, error) {
	ts, err := l.fn(l.ctx)
	if err != nil {
		return nil, err
	}
	return ts.Token()
}

// wrapError wraps API errors with user-friendly messages.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	errStr := err.Error()

	// Check for timeout
	if strings.Contains(errStr, "context deadline exceeded") {
		return fmt.Errorf("request timed out")
	}

	// Check for auth errors
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") {
		return fmt.Errorf("token expired or revoked (run: tasksync login): %w", service.ErrInvalidCredentials)
	}

	// Check for not found
	if strings.Contains(errStr, "404") {
		return fmt.Errorf("not found")
	}

	return err
}
