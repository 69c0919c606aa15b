package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "oracle"
	DisplayName string `json:"display_name"` // "Oracle Database"
	Description string `json:"description"`  // "Connect to Oracle 12c+"
}

// AdapterRegistration contains info plus the factory for opening a datasource.
type AdapterRegistration struct {
	Info    AdapterInfo
	Factory func(ctx context.Context, config map[string]any, logger *zap.Logger) (Datasource, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// Open creates a datasource of the given registered type.
func Open(ctx context.Context, dsType string, config map[string]any, logger *zap.Logger) (Datasource, error) {
	registryMu.RLock()
	reg, ok := registry[dsType]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", dsType)
	}
	return reg.Factory(ctx, config, logger)
}
