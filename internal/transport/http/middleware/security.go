package middleware

import "github.com/gin-gonic/gin"

// apiHeaders suit a JSON-only admin API: nothing it returns is meant to be
// rendered, framed, sniffed or cached, since bodies carry live schedule state.
var apiHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "no-referrer"},
	{"Strict-Transport-Security", "max-age=63072000; includeSubDomains"},
	{"Cache-Control", "no-store"},
}

// Security sets the admin API's response headers. Operators call the API from
// scripts and racesyncctl, so no browser features are allowed.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range apiHeaders {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}
