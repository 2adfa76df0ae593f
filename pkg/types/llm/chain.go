package llm

// Chain is the bounded payload sequence sent to a model. When the
// chain exceeds its limit the oldest non-system payloads are dropped;
// a leading system payload always survives.
type Chain struct {
	payloads    []Payload
	maxPayloads int
}

// NewChain creates a chain keeping at most maxPayloads payloads.
// Non-positive limits disable trimming.
func NewChain(maxPayloads int) *Chain {
	return &Chain{maxPayloads: maxPayloads}
}

// Add appends a payload and trims the chain if it grew too long.
func (c *Chain) Add(p Payload) {
	c.payloads = append(c.payloads, p)
	c.trim()
}

func (c *Chain) trim() {
	if c.maxPayloads <= 0 || len(c.payloads) <= c.maxPayloads {
		return
	}
	var head []Payload
	rest := c.payloads
	if rest[0].Role == RoleSystem {
		head = rest[:1]
		rest = rest[1:]
	}
	rest = rest[len(head)+len(rest)-c.maxPayloads:]
	// a tool result must stay behind the assistant payload that issued
	// the call; when eviction splits such a pair the provider APIs
	// reject the transcript, so orphaned results are evicted with it
	for len(rest) > 0 && rest[0].Role == RoleTool {
		rest = rest[1:]
	}
	c.payloads = append(append(make([]Payload, 0, len(head)+len(rest)), head...), rest...)
}

// Payloads returns a copy of the chain contents, oldest first.
func (c *Chain) Payloads() []Payload {
	out := make([]Payload, len(c.payloads))
	copy(out, c.payloads)
	return out
}

// Len returns the number of payloads in the chain.
func (c *Chain) Len() int {
	return len(c.payloads)
}

// System returns the leading system payload text, or "".
func (c *Chain) System() string {
	if len(c.payloads) > 0 && c.payloads[0].Role == RoleSystem {
		return c.payloads[0].TextContent()
	}
	return ""
}
