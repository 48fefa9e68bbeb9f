package parser

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	ts "github.com/tree-sitter/go-tree-sitter"
	ts_embedded_template "github.com/tree-sitter/tree-sitter-embedded-template/bindings/go"
	ts_html "github.com/tree-sitter/tree-sitter-html/bindings/go"
)

// Grammar identifies a tree-sitter grammar used for template parsing.
//
// HEEx and EEx templates are HTML documents with embedded Elixir, so
// two grammars cover both: the HTML grammar sees the tag structure and
// the embedded-template grammar sees the <% ... %> code regions. There
// is no Elixir grammar here on purpose; .ex files are handled by the
// registries' line scanners.
type Grammar int

const (
	// GrammarHTML parses the tag structure of a template
	GrammarHTML Grammar = iota
	// GrammarEEx parses <% %> / <%= %> embedded code regions
	GrammarEEx
)

// String returns the string representation of the grammar.
func (g Grammar) String() string {
	switch g {
	case GrammarHTML:
		return "html"
	case GrammarEEx:
		return "embedded_template"
	default:
		return "unknown"
	}
}

// ParserManager manages tree-sitter parsers per grammar with lazy
// initialization and thread-safe concurrent access.
//
// Memory management:
//   - Parser pools are created lazily on first use per grammar
//   - ParserManager owns the pools and must be closed via Close()
//   - Callers own returned Tree instances and must call tree.Close()
//
// Thread safety:
//   - Pools allow true concurrent parsing per grammar
//   - Pool creation uses double-checked locking
type ParserManager struct {
	pools map[Grammar]*parserPool
	mutex sync.RWMutex

	// poolSizeOverride forces the per-grammar pool size when positive.
	poolSizeOverride int

	logger *slog.Logger

	stats struct {
		parsesCalled int
	}
}

// NewParserManager creates a new ParserManager instance.
// The returned manager must be closed via Close() to free resources.
func NewParserManager(logger *slog.Logger) *ParserManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParserManager{
		pools:  make(map[Grammar]*parserPool),
		logger: logger,
	}
}

// SetPoolSize overrides the per-grammar parser pool size. Only affects
// pools created after the call; intended for config plumbing at startup.
func (pm *ParserManager) SetPoolSize(size int) {
	pm.mutex.Lock()
	pm.poolSizeOverride = size
	pm.mutex.Unlock()
}

// Parse parses template source using the given grammar.
//
// Returns a Tree that MUST be closed by the caller via tree.Close().
// A tree with localized syntax errors is still returned; HEEx brace
// expressions routinely confuse the HTML grammar and the error nodes
// stay contained to the expression.
func (pm *ParserManager) Parse(source []byte, grammar Grammar) (*ts.Tree, error) {
	pm.mutex.Lock()
	pm.stats.parsesCalled++
	pm.mutex.Unlock()

	pool, err := pm.getOrCreatePool(grammar)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool for %s: %w", grammar, err)
	}

	parser, err := pool.acquire()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire parser: %w", err)
	}

	tree := parser.Parse(source, nil)
	pool.release(parser)

	if tree == nil {
		return nil, fmt.Errorf("parser.Parse returned nil tree")
	}
	return tree, nil
}

// Close releases all parser pool resources.
// After Close(), the ParserManager cannot be used.
func (pm *ParserManager) Close() error {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	pm.logger.Debug("closing ParserManager",
		"parses_called", pm.stats.parsesCalled)

	for grammar, pool := range pm.pools {
		if pool != nil {
			pool.close()
			pm.logger.Debug("closed parser pool", "grammar", grammar.String())
		}
	}
	pm.pools = make(map[Grammar]*parserPool)
	return nil
}

// getOrCreatePool returns an existing parser pool or creates a new one.
// Thread-safe using double-checked locking.
func (pm *ParserManager) getOrCreatePool(grammar Grammar) (*parserPool, error) {
	pm.mutex.RLock()
	pool, exists := pm.pools[grammar]
	pm.mutex.RUnlock()

	if exists {
		return pool, nil
	}

	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	// Another goroutine may have created it while we waited.
	if pool, exists = pm.pools[grammar]; exists {
		return pool, nil
	}

	langPtr, err := pm.GetLanguagePointer(grammar)
	if err != nil {
		return nil, err
	}

	poolSize := pm.effectivePoolSize()
	pool = newParserPool(grammar, langPtr, poolSize, pm.logger)
	pm.pools[grammar] = pool

	pm.logger.Debug("created parser pool",
		"grammar", grammar.String(),
		"maxSize", poolSize)

	return pool, nil
}

// effectivePoolSize is called with pm.mutex held.
func (pm *ParserManager) effectivePoolSize() int {
	if pm.poolSizeOverride > 0 {
		return pm.poolSizeOverride
	}
	return getDefaultPoolSize()
}

// GetLanguagePointer returns the tree-sitter grammar pointer.
// Used by QueryManager to compile queries against the same grammar.
func (pm *ParserManager) GetLanguagePointer(grammar Grammar) (unsafe.Pointer, error) {
	switch grammar {
	case GrammarHTML:
		return ts_html.Language(), nil
	case GrammarEEx:
		return ts_embedded_template.Language(), nil
	default:
		return nil, fmt.Errorf("unsupported grammar: %s", grammar.String())
	}
}

// GetStats returns parser usage statistics.
func (pm *ParserManager) GetStats() ParserStats {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()

	totalParsers := 0
	for _, pool := range pm.pools {
		totalParsers += pool.getCreatedCount()
	}
	return ParserStats{
		ParsersCreated: totalParsers,
		ParsesCalled:   pm.stats.parsesCalled,
	}
}

// ParserStats contains parser usage statistics.
type ParserStats struct {
	// ParsersCreated is the total number of parser instances created
	ParsersCreated int

	// ParsesCalled is the total number of Parse() calls
	ParsesCalled int
}
