package runtime

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

var markdownRenderer = goldmark.New(goldmark.WithExtensions(meta.Meta))

// RenderMarkdown renders a package's README (or any markdown asset
// encountered during an install) to HTML, returning its front-matter
// alongside, for the CLI's install summary (the REPL does not use it).
func RenderMarkdown(source []byte) (html string, frontMatter map[string]interface{}, err error) {
	ctx := parser.NewContext()
	var buf bytes.Buffer
	if err := markdownRenderer.Convert(source, &buf, parser.WithContext(ctx)); err != nil {
		return "", nil, fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), meta.Get(ctx), nil
}
