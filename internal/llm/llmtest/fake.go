// Package llmtest provides scripted llm.Client doubles for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ashureev/clario/internal/llm"
)

// ErrUnscripted is returned when no reply matches a request.
var ErrUnscripted = errors.New("llmtest: no scripted reply")

// Fake answers by tag prefix. Replies registered for "agent:" match every
// agent tag unless a more specific prefix is registered.
type Fake struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []llm.Request
	// Block, when set, is waited on before every reply.
	Block chan struct{}
}

type reply struct {
	text string
	err  error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{replies: make(map[string][]reply)}
}

// Reply queues text for requests whose tag starts with prefix. The last
// queued reply for a prefix repeats once the queue drains.
func (f *Fake) Reply(prefix, text string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[prefix] = append(f.replies[prefix], reply{text: text})
	return f
}

// Fail queues err for requests whose tag starts with prefix.
func (f *Fake) Fail(prefix string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[prefix] = append(f.replies[prefix], reply{err: err})
	return f
}

// Calls returns a copy of every request seen so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]llm.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsWithTag counts requests whose tag starts with prefix.
func (f *Fake) CallsWithTag(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c.Tag, prefix) {
			n++
		}
	}
	return n
}

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", llm.Classify(req.Tag, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.match(req.Tag)
	if key == "" {
		return "", &llm.Error{Kind: llm.KindUnavailable, Tag: req.Tag, Err: ErrUnscripted}
	}
	queue := f.replies[key]
	r := queue[0]
	if len(queue) > 1 {
		f.replies[key] = queue[1:]
	}
	if r.err != nil {
		return "", llm.Classify(req.Tag, r.err)
	}
	return r.text, nil
}

func (f *Fake) match(tag string) string {
	best := ""
	for prefix := range f.replies {
		if strings.HasPrefix(tag, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	return best
}

// Failing returns a client whose every call fails as unavailable.
func Failing() llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (string, error) {
		return "", &llm.Error{Kind: llm.KindUnavailable, Tag: req.Tag, Err: errors.New("llmtest: model down")}
	})
}
