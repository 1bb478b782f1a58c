/*
deliver.go - Post-commit item delivery

PURPOSE:
  Delivery runs after the purchase is committed and never influences its
  outcome. The payload is split into platform-sized chunks; a send failure
  on any chunk marks the whole delivery failed and the coordinator falls
  back to returning the items inline.
*/
package trade

import (
	"context"
	"fmt"
	"strings"
)

// deliver sends the purchased items through the sink. Returns false when the
// sink is absent or any chunk fails; the purchase stands regardless.
func (c *Coordinator) deliver(ctx context.Context, identity, productName string, quantity int, paid int64, items []string) bool {
	if c.sink == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeliveryTimeout)
	defer cancel()

	header := fmt.Sprintf("Thank you for your purchase!\n• Product: %s\n• Quantity: %d\n• Paid: %d WL\n\nYour items:",
		productName, quantity, paid)

	for i, chunk := range chunkLines(header, items, c.cfg.DeliveryChunkSize) {
		if err := c.sink.Send(ctx, identity, chunk); err != nil {
			c.log.Warn("item delivery failed, falling back to inline",
				"identity", identity, "product", productName, "chunk", i, "error", err)
			return false
		}
	}
	return true
}

// chunkLines packs the header and item lines into messages no longer than
// limit bytes. A single oversized line gets a chunk to itself rather than
// being split mid-content.
func chunkLines(header string, items []string, limit int) []string {
	var (
		chunks []string
		b      strings.Builder
	)
	b.WriteString(header)

	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}

	for _, item := range items {
		line := "\n" + item
		if b.Len() > 0 && b.Len()+len(line) > limit {
			flush()
			line = item
		}
		b.WriteString(line)
	}
	flush()
	return chunks
}
