//go:build tools

package vetomint

import (
	_ "github.com/golang/mock/mockgen"
)
