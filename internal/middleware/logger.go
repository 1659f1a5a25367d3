package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// AccessLogger is gin's request logger with the token query parameter
// masked, since stream clients pass their JWT in the URL.
func AccessLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output: out,
		Formatter: func(p gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
				p.TimeStamp.Format("2006/01/02 - 15:04:05"),
				p.StatusCode,
				p.Latency.Truncate(time.Microsecond),
				p.ClientIP,
				p.Method,
				redactToken(p.Path),
				p.ErrorMessage,
			)
		},
	})
}

func redactToken(path string) string {
	base, rawQuery, ok := strings.Cut(path, "?")
	if !ok {
		return path
	}
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		return base + "?<unparsable query>"
	}
	if _, ok := q["token"]; !ok {
		return path
	}
	q.Set("token", "REDACTED")
	return base + "?" + q.Encode()
}
