package delivery

import (
	"context"
	"fmt"

	"github.com/quailyquaily/deskmate/db/models"
	"github.com/quailyquaily/deskmate/internal/bus"
	"github.com/quailyquaily/deskmate/internal/retryutil"
)

// Router picks the Sender registered for the message platform.
type Router map[bus.Platform]Sender

func (r Router) Send(ctx context.Context, business models.Business, msg bus.OutboundMessage) error {
	sender, ok := r[msg.Platform]
	if !ok || sender == nil {
		return retryutil.Permanent(fmt.Errorf("no sender for platform %q", msg.Platform))
	}
	return sender.Send(ctx, business, msg)
}
