package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xcute-engine/xcute/internal/platform/logger"
	"github.com/xcute-engine/xcute/internal/xcute/bus"
)

// replyWire is the JSON shape posted back to the orchestrator.
type replyWire struct {
	JobID string `json:"job_id"`
	Res   any    `json:"res"`
	Exc   any    `json:"exc"`
}

// replyClient caches the last (addr, tube) a reply was sent to. Real tube
// clients (e.g. a persistent beanstalkd connection) pay a cost to reopen
// on a different endpoint: if the reply address changes mid-stream, the
// worker closes and reopens its reply connection. The cache and its log
// line are kept even though bus.Bus.Put is itself connectionless over
// Redis.
type replyClient struct {
	mu   sync.Mutex
	b    bus.Bus
	log  *logger.Logger
	addr string
	tube string
}

func newReplyClient(b bus.Bus, log *logger.Logger) *replyClient {
	return &replyClient{b: b, log: log}
}

func (c *replyClient) send(ctx context.Context, dest bus.ReplyAddr, jobID string, res any, excJSON json.RawMessage) error {
	c.mu.Lock()
	if c.addr != "" && (c.addr != dest.Addr || c.tube != dest.Tube) {
		c.log.Debug("reopening reply connection", "old_addr", c.addr, "old_tube", c.tube, "new_addr", dest.Addr, "new_tube", dest.Tube)
	}
	c.addr, c.tube = dest.Addr, dest.Tube
	c.mu.Unlock()

	var exc any
	if len(excJSON) > 0 {
		exc = excJSON
	}
	payload, err := json.Marshal(replyWire{JobID: jobID, Res: res, Exc: exc})
	if err != nil {
		return err
	}
	return c.b.Put(ctx, dest.Addr, dest.Tube, payload)
}
