package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
)

// HeadOfLine runs the rest of the chain while holding gate, so a slow
// handler stalls every other request and timer sharing the same lock.
// A nil gate disables the middleware.
func HeadOfLine(gate sync.Locker) gin.HandlerFunc {
	if gate == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		gate.Lock()
		defer gate.Unlock()
		c.Next()
	}
}
