package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const landingPage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>AdLaunch</title></head>
<body>
<h1>AdLaunch API</h1>
<p>Register at <code>POST /auth/register</code>, connect Meta via <code>GET /meta/oauth/start</code>,
then launch with <code>POST /campaigns/launch</code>.</p>
<p id="meta"></p>
<script>
var s = new URLSearchParams(location.search).get("meta");
if (s) document.getElementById("meta").textContent = s === "ok" ? "Meta connected." : "Meta connection failed.";
</script>
</body>
</html>
`

// Landing serves the static page the OAuth callback redirects back to.
func Landing(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(landingPage))
}
