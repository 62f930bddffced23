package analytics

import "achievekit/core"

// BridgeHook fans one event source out to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnEvent(e core.BusEvent) {
	for _, h := range b.hooks {
		h.OnEvent(e)
	}
}
