package parser

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ts "github.com/tree-sitter/go-tree-sitter"
)

// TestConcurrentParsing checks that many goroutines can parse templates
// simultaneously without race conditions or deadlocks.
func TestConcurrentParsing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	manager := NewParserManager(logger)
	defer manager.Close()

	const numGoroutines = 100
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	errChan := make(chan error, numGoroutines)

	source := []byte(`<div class="card"><p>content</p></div>`)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()

			tree, err := manager.Parse(source, GrammarHTML)
			if err != nil {
				errChan <- err
				return
			}
			if tree == nil {
				errChan <- assert.AnError
				return
			}
			tree.Close()
		}()
	}

	wg.Wait()
	close(errChan)

	var errors []error
	for err := range errChan {
		errors = append(errors, err)
	}
	assert.Empty(t, errors, "No errors should occur during concurrent parsing")

	stats := manager.GetStats()
	assert.Equal(t, numGoroutines, stats.ParsesCalled)
	assert.LessOrEqual(t, stats.ParsersCreated, getDefaultPoolSize(),
		"Pool should never exceed its maximum size")
}

// TestConcurrentParsing_BothGrammars interleaves HTML and EEx parses to
// exercise lazy pool creation from racing goroutines.
func TestConcurrentParsing_BothGrammars(t *testing.T) {
	manager := NewParserManager(nil)
	defer manager.Close()

	const perGrammar = 50
	var wg sync.WaitGroup
	wg.Add(perGrammar * 2)

	errChan := make(chan error, perGrammar*2)

	for i := 0; i < perGrammar; i++ {
		go func() {
			defer wg.Done()
			tree, err := manager.Parse([]byte(`<span>x</span>`), GrammarHTML)
			if err != nil {
				errChan <- err
				return
			}
			tree.Close()
		}()
		go func() {
			defer wg.Done()
			tree, err := manager.Parse([]byte(`<%= @value %>`), GrammarEEx)
			if err != nil {
				errChan <- err
				return
			}
			tree.Close()
		}()
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		require.NoError(t, err)
	}
	assert.Equal(t, perGrammar*2, manager.GetStats().ParsesCalled)
}

// TestConcurrentTreeCache hammers the tree cache from many goroutines
// with a rotating set of template paths.
func TestConcurrentTreeCache(t *testing.T) {
	manager := NewParserManager(nil)
	defer manager.Close()

	cache, err := NewTreeCache(manager, 8, nil)
	require.NoError(t, err)

	const numGoroutines = 40
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		path := fmt.Sprintf("lib/my_app_web/t%d.html.heex", i%12)
		go func(p string) {
			defer wg.Done()
			source := []byte("<h1>" + p + "</h1>")
			err := cache.WithTree(p, source, GrammarHTML, func(tree *ts.Tree) error {
				if tree == nil {
					return assert.AnError
				}
				return nil
			})
			assert.NoError(t, err)
		}(path)
	}

	wg.Wait()
	assert.LessOrEqual(t, cache.Len(), 8, "Cache must respect its capacity")
}
