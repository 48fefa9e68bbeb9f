package parser

import (
	"github.com/phxlens/phxlens/pkg/util"
)

// getDefaultPoolSize returns the default parser pool size per grammar.
//
// Delegates to util.GetOptimalPoolSize so the parser pools and the scan
// worker pool stay the same size; a smaller parser pool would make scan
// workers block waiting for parsers.
func getDefaultPoolSize() int {
	return util.GetOptimalPoolSize()
}
