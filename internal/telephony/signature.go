package telephony

import (
	"net/http"
	"strings"

	"callconfirm/pkg/logger"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// TwilioSignature rejects callbacks whose X-Twilio-Signature does not match.
// publicBaseURL is the externally visible scheme://host the provider was given; the path and
// query are taken from the request.
func TwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	validator := twilioclient.NewRequestValidator(authToken)
	base := strings.TrimRight(publicBaseURL, "/")

	return func(c *gin.Context) {
		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		url := base + c.Request.URL.RequestURI()
		if !validator.Validate(url, params, sig) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
