package server

import (
	"log/slog"
	"net/http"
)

const indexHTML = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>postframe</title></head>
<body>
<h1>postframe</h1>
<p>Render social posts as images and short videos.</p>
<h2>Endpoints</h2>
<ul>
<li><code>GET /api/generate?title=&amp;handle=&amp;text=&amp;avatar=&amp;image=</code> returns the post as PNG</li>
<li><code>POST /api/generate</code> same, with a JSON body</li>
<li><code>GET /api/save?...</code> stores the post, its portrait frame and video, and returns their URLs</li>
<li><code>GET /api/video?...</code> produces only the video</li>
<li><code>GET /assets/{name}</code> downloads a stored asset; videos support byte ranges</li>
<li><code>GET /health</code> and <code>GET /metrics</code></li>
</ul>
<p><code>avatar</code> and <code>image</code> accept http(s) URLs, data URIs or paths under the static root.
Use <code>%0A</code> in <code>text</code> for line breaks. Stored assets are short-lived.</p>
<p>Example: <a href="/api/generate?title=Jane%20Doe&amp;handle=jane&amp;text=Hello%0AWorld">/api/generate?title=Jane%20Doe&amp;handle=jane&amp;text=Hello%0AWorld</a></p>
</body>
</html>
`

// Index handles GET / with a short usage page.
func (h *Handlers) Index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(indexHTML)); err != nil {
		h.logger.Debug("failed to write index", slog.String("error", err.Error()))
	}
}
