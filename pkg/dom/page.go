// Package dom reads the jMQTT plugin page as rendered in a browser.
//
// The browser itself is driven by an external collaborator that implements
// Page. This package only knows where the equipment cards and the command
// table live in the markup, and turns them into the reduced projections the
// reconciliation engine compares against the reference.
package dom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Element is a node of the rendered page.
type Element interface {
	// Attr returns the value of an attribute, empty when absent.
	Attr(ctx context.Context, name string) (string, error)

	// Text returns the rendered text of the element.
	Text(ctx context.Context) (string, error)

	// FindAll returns the elements matching expr, relative to this one.
	FindAll(ctx context.Context, expr string) ([]Element, error)
}

// Page is the rendered plugin page.
type Page interface {
	FindAll(ctx context.Context, expr string) ([]Element, error)
}

// SourceFunc returns the current markup of the page.
type SourceFunc func(ctx context.Context) ([]byte, error)

// NewSourcePage returns a Page that parses the markup returned by fetch on
// every lookup. Browser drivers expose the page source this way, and so
// does the fake plugin of the tests.
func NewSourcePage(fetch SourceFunc) Page {
	return &sourcePage{fetch: fetch}
}

// NewHTTPPage returns a Page read with a GET of url on every lookup, for
// page snapshots served over HTTP. A nil client uses http.DefaultClient.
func NewHTTPPage(client *http.Client, url string) Page {
	if client == nil {
		client = http.DefaultClient
	}
	return NewSourcePage(func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
		}
		return io.ReadAll(resp.Body)
	})
}

// ParsePage parses an XHTML snapshot of the page.
func ParsePage(src []byte) (Page, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("dom: parse page: %w", err)
	}
	return &node{n: doc}, nil
}

type sourcePage struct {
	fetch SourceFunc
}

func (p *sourcePage) FindAll(ctx context.Context, expr string) ([]Element, error) {
	src, err := p.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: page source: %w", err)
	}
	page, err := ParsePage(src)
	if err != nil {
		return nil, err
	}
	return page.FindAll(ctx, expr)
}

// node is an Element of a parsed snapshot.
type node struct {
	n *xmlquery.Node
}

func (e *node) Attr(_ context.Context, name string) (string, error) {
	return e.n.SelectAttr(name), nil
}

func (e *node) Text(_ context.Context) (string, error) {
	return strings.TrimSpace(e.n.InnerText()), nil
}

func (e *node) FindAll(_ context.Context, expr string) ([]Element, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}
	nodes := xmlquery.QuerySelectorAll(e.n, compiled)
	out := make([]Element, len(nodes))
	for i, n := range nodes {
		out[i] = &node{n: n}
	}
	return out, nil
}

var (
	exprMu    sync.Mutex
	exprCache = map[string]*xpath.Expr{}
)

func compile(expr string) (*xpath.Expr, error) {
	exprMu.Lock()
	defer exprMu.Unlock()
	if c, ok := exprCache[expr]; ok {
		return c, nil
	}
	c, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("dom: invalid xpath %q: %w", expr, err)
	}
	exprCache[expr] = c
	return c, nil
}
