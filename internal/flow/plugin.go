// Package flow: pluggable block message strategies.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/convograph/convograph/internal/models"
)

// Plugin produces the envelope for a plugin-type block message. System-style
// plugins return a FormatSystem envelope whose outcome drives next-block
// branching instead of being sent to the subscriber.
type Plugin interface {
	// Process renders the envelope for the given block and context.
	Process(ctx context.Context, block *models.Block, convoCtx models.Context, conversationID string) (models.StdOutgoingEnvelope, error)
}

var (
	pluginMu sync.RWMutex
	plugins  = make(map[string]Plugin)
)

// RegisterPlugin associates a plugin name with its implementation. Later
// registrations replace earlier ones.
func RegisterPlugin(name string, p Plugin) {
	pluginMu.Lock()
	defer pluginMu.Unlock()
	plugins[name] = p
	slog.Debug("Flow plugin registered", "name", name)
}

// GetPlugin retrieves a registered plugin by name.
func GetPlugin(name string) (Plugin, bool) {
	pluginMu.RLock()
	defer pluginMu.RUnlock()
	p, ok := plugins[name]
	return p, ok
}

func processPlugin(ctx context.Context, name string, block *models.Block, convoCtx models.Context, conversationID string) (models.StdOutgoingEnvelope, error) {
	p, ok := GetPlugin(name)
	if !ok {
		slog.Error("Flow no plugin registered", "name", name, "block", block.ID)
		return models.StdOutgoingEnvelope{}, fmt.Errorf("%w: %s", models.ErrUnknownPlugin, name)
	}
	envelope, err := p.Process(ctx, block, convoCtx, conversationID)
	if err != nil {
		slog.Error("Flow plugin processing failed", "name", name, "block", block.ID, "error", err)
		return models.StdOutgoingEnvelope{}, fmt.Errorf("plugin %s failed for block %s: %w", name, block.ID, err)
	}
	return envelope, nil
}
