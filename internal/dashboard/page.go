package dashboard

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"sync"
)

const containerID = "dashboard-container"

var pageTmpl = template.Must(template.New("dashboard").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Motion dashboard</title>
<style>html,body,#{{.Container}}{height:100%;margin:0}</style>
</head>
<body>
<div id="{{.Container}}"></div>
<script type="module">
import { DatabricksDashboard } from "https://cdn.jsdelivr.net/npm/@databricks/aibi-client/+esm";
const opts = {{.Options}};
new DatabricksDashboard({ ...opts, container: document.getElementById({{.Container}}) }).initialize();
</script>
</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Dashboard error</title></head>
<body>
<h3>Dashboard Error:</h3>
<p>{{.}}</p>
</body>
</html>
`))

// pageWidget renders the embed page. The browser-side client does the actual
// drawing; the server only hands it options and a container.
type pageWidget struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (p *pageWidget) Initialize(_ context.Context, opts EmbedOptions, container string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf.Reset()
	return pageTmpl.Execute(&p.buf, struct {
		Container string
		Options   EmbedOptions
	}{container, opts})
}

func (p *pageWidget) WriteTo(w io.Writer) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.WriteTo(w)
}
