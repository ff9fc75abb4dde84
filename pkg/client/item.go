package client

import (
	"context"
	"fmt"

	"github.com/rzbill/relay/pkg/client/transports"
	"github.com/rzbill/relay/pkg/deferred"
	"github.com/rzbill/relay/pkg/log"
	"github.com/rzbill/relay/pkg/report"
)

// ItemHandle names a started test item. Its UUID may still be pending the
// start request's round-trip; records targeting the item keep their
// submission order regardless.
type ItemHandle struct {
	Name string
	Type report.ItemType

	parent *ItemHandle
	d      *deferred.Deferred[string]
}

// Ref returns the item as a record target.
func (h *ItemHandle) Ref() report.ItemRef { return report.PendingRef{D: h.d} }

// UUID blocks until the item identifier is known or ctx is done.
func (h *ItemHandle) UUID(ctx context.Context) (string, error) {
	return h.d.AwaitContext(ctx)
}

// Started returns the handle's identifier deferred for chaining.
func (h *ItemHandle) Started() *deferred.Deferred[string] { return h.d }

// Parent returns the parent handle, or nil for a root item.
func (h *ItemHandle) Parent() *ItemHandle { return h.parent }

// StartItemOptions describes a new test item.
type StartItemOptions struct {
	// ContextKey selects the item stack the new item is pushed onto.
	ContextKey string
	// Parent overrides the implicit parent (the stack top). Leave nil to
	// nest under the current item; with an empty stack the item is a root.
	Parent *ItemHandle

	Name        string
	Type        report.ItemType
	Description string
	Attributes  []report.Attribute
	Parameters  []transports.Parameter
	CodeRef     string
	TestCaseID  string
	Retry       bool
	RetryOf     string
	// NoStats reports the item without execution statistics, the way
	// nested steps are reported.
	NoStats bool
	// StartTimeMs defaults to the current time.
	StartTimeMs int64
}

// StartItem begins a test item nested under the current item of the
// context stack (or the launch, when the stack is empty), pushes it and
// returns its handle immediately. The handle's UUID resolves once the
// start request round-trips.
func (c *Client) StartItem(ctx context.Context, opts StartItemOptions) *ItemHandle {
	itemType := opts.Type
	if itemType == "" {
		itemType = report.ItemTypeStep
	}
	h := &ItemHandle{
		Name: opts.Name,
		Type: itemType,
		d:    deferred.New[string](),
	}

	c.mu.Lock()
	stopped := c.stopped
	launch := c.launch
	c.mu.Unlock()
	if stopped {
		_ = h.d.Fail(ErrStopped)
		return h
	}
	if launch == nil {
		_ = h.d.Fail(usageErr("StartItem", ErrNoLaunch))
		return h
	}

	st := c.stacks.ForContext(opts.ContextKey)
	parent := opts.Parent
	if parent == nil {
		parent, _ = st.Peek()
	}
	h.parent = parent
	st.Push(h)

	req := transports.StartItemRequest{
		Name:        opts.Name,
		Type:        itemType,
		Description: opts.Description,
		StartTimeMs: c.orNow(opts.StartTimeMs),
		Attributes:  report.TruncateAttributes(opts.Attributes),
		Parameters:  opts.Parameters,
		CodeRef:     opts.CodeRef,
		TestCaseID:  opts.TestCaseID,
		Retry:       opts.Retry,
		RetryOf:     opts.RetryOf,
		HasStats:    !opts.NoStats,
	}
	if c.opts.ClientGeneratedIDs {
		req.UUID = c.opts.IDs.NewUUID()
	}

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		launchUUID, err := launch.UUID(ctx)
		if err != nil {
			_ = h.d.Fail(fmt.Errorf("client: start item %q: launch uuid unresolved: %w", opts.Name, err))
			return
		}
		req.LaunchUUID = launchUUID
		if parent != nil {
			parentUUID, err := parent.UUID(ctx)
			if err != nil {
				_ = h.d.Fail(fmt.Errorf("client: start item %q: parent uuid unresolved: %w", opts.Name, err))
				return
			}
			req.ParentUUID = parentUUID
		}

		uuid, err := c.transport.StartItem(ctx, req)
		if err != nil {
			c.logger.Error("start item failed", log.Str("name", opts.Name), log.Err(err))
			if req.UUID == "" {
				_ = h.d.Fail(err)
				return
			}
			uuid = req.UUID
		}
		_ = h.d.Resolve(uuid)
	}()
	return h
}

// FinishItemOptions closes a test item.
type FinishItemOptions struct {
	// ContextKey selects the item stack to pop.
	ContextKey string
	// Item finishes an explicit handle instead of the stack top. When it
	// is the current top it is still popped.
	Item *ItemHandle

	Status      report.Status
	Description string
	Attributes  []report.Attribute
	Issue       *transports.Issue
	Retry       bool
	RetryOf     string
	// EndTimeMs defaults to the current time.
	EndTimeMs int64
}

// FinishItem pops the current item of the context stack (or finishes the
// explicit handle) and closes it. Finishing with no open item is a usage
// error surfaced on the returned handle, never a panic.
func (c *Client) FinishItem(ctx context.Context, opts FinishItemOptions) *deferred.Deferred[string] {
	st := c.stacks.ForContext(opts.ContextKey)
	h := opts.Item
	if h == nil {
		top, err := st.Pop()
		if err != nil {
			return deferred.Failed[string](usageErr("FinishItem", err))
		}
		h = top
	} else if top, ok := st.Peek(); ok && top == h {
		_, _ = st.Pop()
	}

	c.mu.Lock()
	launch := c.launch
	c.mu.Unlock()
	if launch == nil {
		return deferred.Failed[string](usageErr("FinishItem", ErrNoLaunch))
	}

	issue := opts.Issue
	if issue == nil && opts.Status == report.StatusSkipped && !*c.opts.SkippedAnIssue {
		issue = &transports.Issue{Type: transports.IssueNotIssue}
	}

	endTime := c.orNow(opts.EndTimeMs)
	d := deferred.New[string]()
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		itemUUID, err := h.UUID(ctx)
		if err != nil {
			_ = d.Fail(fmt.Errorf("client: finish item %q: uuid unresolved: %w", h.Name, err))
			return
		}
		launchUUID, err := launch.UUID(ctx)
		if err != nil {
			_ = d.Fail(fmt.Errorf("client: finish item %q: launch uuid unresolved: %w", h.Name, err))
			return
		}
		err = c.transport.FinishItem(ctx, transports.FinishItemRequest{
			ItemUUID:    itemUUID,
			LaunchUUID:  launchUUID,
			EndTimeMs:   endTime,
			Status:      opts.Status,
			Description: opts.Description,
			Attributes:  report.TruncateAttributes(opts.Attributes),
			Issue:       issue,
			Retry:       opts.Retry,
			RetryOf:     opts.RetryOf,
		})
		if err != nil {
			c.logger.Error("finish item failed", log.Str("name", h.Name), log.Err(err))
			_ = d.Fail(err)
			return
		}
		_ = d.Resolve(itemUUID)
	}()
	return d
}

// CurrentItem returns the open item at the top of the context stack.
func (c *Client) CurrentItem(contextKey string) (*ItemHandle, bool) {
	return c.stacks.ForContext(contextKey).Peek()
}
