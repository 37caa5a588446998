//go:build tools

// Package tools tracks code generators used by go:generate directives.
package tools

import (
	_ "go.uber.org/mock/mockgen"
)
