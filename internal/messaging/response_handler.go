package messaging

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// DefaultWorkers is the default size of the ResponseHandler worker pool.
const DefaultWorkers = 8

// TurnFunc processes one inbound message.
type TurnFunc func(ctx context.Context, in models.Inbound) error

// ReceiptFunc applies one delivery status update.
type ReceiptFunc func(ctx context.Context, r models.Receipt) error

// ResponseHandler consumes a Service's inbound and receipt channels. Messages are
// sharded by sender, so one phone's messages are handled in arrival order while
// different phones run concurrently.
type ResponseHandler struct {
	svc       Service
	onTurn    TurnFunc
	onReceipt ReceiptFunc
	workers   int
	wg        sync.WaitGroup
}

// NewResponseHandler creates a handler with the given number of workers.
func NewResponseHandler(svc Service, onTurn TurnFunc, onReceipt ReceiptFunc, workers int) *ResponseHandler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &ResponseHandler{svc: svc, onTurn: onTurn, onReceipt: onReceipt, workers: workers}
}

// Start launches the dispatcher and workers. They exit when the service channels close
// or ctx ends; Wait blocks until they have.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: starting", "workers", rh.workers)

	shards := make([]chan models.Inbound, rh.workers)
	for i := range shards {
		shards[i] = make(chan models.Inbound, DefaultChannelBufferSize)
		rh.wg.Add(1)
		go rh.work(ctx, i, shards[i])
	}

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		inbound := rh.svc.Inbound()
		for {
			select {
			case in, ok := <-inbound:
				if !ok {
					slog.Debug("ResponseHandler: inbound channel closed")
					return
				}
				select {
				case shards[shardOf(phoneKey(in.From), len(shards))] <- in:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if rh.onReceipt != nil {
		rh.wg.Add(1)
		go func() {
			defer rh.wg.Done()
			receipts := rh.svc.Receipts()
			for {
				select {
				case r, ok := <-receipts:
					if !ok {
						return
					}
					if err := rh.onReceipt(ctx, r); err != nil {
						slog.Error("ResponseHandler: receipt failed", "provider_id", r.ProviderID, "status", r.Status, "error", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Wait blocks until every goroutine started by Start has returned.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

func (rh *ResponseHandler) work(ctx context.Context, id int, in <-chan models.Inbound) {
	defer rh.wg.Done()
	for msg := range in {
		if ctx.Err() != nil {
			return
		}
		if err := rh.onTurn(ctx, msg); err != nil {
			slog.Error("ResponseHandler: turn failed", "worker", id, "from", msg.From, "provider_id", msg.ProviderID, "error", err)
		}
	}
}

// phoneKey collapses the spellings of one number so they share a shard.
func phoneKey(from string) string {
	if p, err := CanonicalPhone(from); err == nil {
		return p
	}
	return from
}

func shardOf(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
