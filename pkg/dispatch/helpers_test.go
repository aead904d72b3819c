package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/bonesco/vibe-checker/pkg/core"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type sent struct {
	target string
	kind   core.JobKind
	msg    core.Message
}

// recorder is a Dispatcher that remembers every send.
type recorder struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recorder) Send(_ context.Context, target string, kind core.JobKind, msg core.Message) (core.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{target: target, kind: kind, msg: msg})
	if r.err != nil {
		return core.Delivery{}, r.err
	}
	return core.Delivery{MessageID: "m"}, nil
}

func (r *recorder) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type tenantMap map[string]*core.Tenant

func (m tenantMap) GetTenant(_ context.Context, id string) (*core.Tenant, error) {
	return m[id], nil
}
