package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/versioning"
)

// APIVersion rejects clients asking for a version this server cannot answer
// and stores the negotiated version under constants.ContextKeyAPIVersion.
func APIVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(versioning.HeaderAPIVersion, versioning.Current.String())

		requested, err := versioning.ParseVersion(c.GetHeader(versioning.HeaderAPIVersion))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Bad Request",
				"message": err.Error(),
				"code":    "UNSUPPORTED_API_VERSION",
			})
			return
		}
		if !versioning.Current.Supports(requested) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Bad Request",
				"message": fmt.Sprintf("API version %s is not supported; server speaks %s", requested, versioning.Current),
				"code":    "UNSUPPORTED_API_VERSION",
			})
			return
		}

		c.Set(constants.ContextKeyAPIVersion, requested)
		c.Next()
	}
}
