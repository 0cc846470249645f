package flow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

// PollOptions tunes StartPolling.
type PollOptions struct {
	// Timeout is the long-poll timeout passed to GetUpdates.
	Timeout time.Duration
	// Interval is the pause after an empty or failed poll.
	Interval time.Duration
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	return o
}

// StartPolling fetches updates until ctx is done. Each batch is grouped by
// chat; chats run concurrently, the updates of one chat in order. On
// cancellation the batch in progress is finished before StartPolling
// returns nil.
func (f *Flow) StartPolling(ctx context.Context, client ports.Poller, opts PollOptions) error {
	opts = opts.withDefaults()
	var offset int64

	f.logger.Info("polling started", "timeout", opts.Timeout)
	defer f.logger.Info("polling stopped")

	for ctx.Err() == nil {
		updates, err := client.GetUpdates(ctx, offset, int(opts.Timeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			f.logger.Warn("failed to fetch updates", "offset", offset, "err", err)
			sleep(ctx, opts.Interval)
			continue
		}
		if len(updates) == 0 {
			if opts.Timeout == 0 {
				sleep(ctx, opts.Interval)
			}
			continue
		}

		f.processBatch(context.WithoutCancel(ctx), client, updates)
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
		}
	}
	return nil
}

func (f *Flow) processBatch(ctx context.Context, bot ports.Messenger, updates []domain.Update) {
	var order []int64
	byChat := make(map[int64][]domain.Update)
	for _, u := range updates {
		if u.ChatID == 0 {
			continue
		}
		if _, ok := byChat[u.ChatID]; !ok {
			order = append(order, u.ChatID)
		}
		byChat[u.ChatID] = append(byChat[u.ChatID], u)
	}

	var g errgroup.Group
	g.SetLimit(f.workers)
	for _, chatID := range order {
		chatUpdates := byChat[chatID]
		g.Go(func() error {
			for _, u := range chatUpdates {
				if err := f.ProcessUpdate(ctx, bot, u); err != nil {
					f.logger.Error("failed to process update", "chat_id", u.ChatID, "update_id", u.UpdateID, "err", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
