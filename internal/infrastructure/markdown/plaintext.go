package markdown

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// PlainTexter flattens registry markdown (criteria, summaries) into plain
// text suitable for a model prompt. Bullets become "- " lines indented by
// nesting depth; emphasis and links keep only their text.
type PlainTexter struct {
	md goldmark.Markdown
}

func NewPlainTexter() *PlainTexter {
	return &PlainTexter{md: goldmark.New(goldmark.WithExtensions(extension.GFM))}
}

func (p *PlainTexter) PlainText(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	source := []byte(markdown)
	doc := p.md.Parser().Parse(text.NewReader(source))

	var out bytes.Buffer
	depth := 0
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.List:
			if entering {
				depth++
			} else {
				depth--
			}
		case *ast.ListItem:
			if entering {
				ensureLineStart(&out)
				out.WriteString(strings.Repeat("  ", max(depth-1, 0)))
				out.WriteString("- ")
			}
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
			if !entering {
				ensureLineStart(&out)
				if node.Parent() == nil || node.Parent().Kind() != ast.KindListItem {
					out.WriteByte('\n')
				}
			}
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.URL(source))
				return ast.WalkSkipChildren, nil
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					segment := lines.At(i)
					out.Write(segment.Value(source))
				}
				ensureLineStart(&out)
				return ast.WalkSkipChildren, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		slog.Debug("markdown_plaintext_fallback", "error", err)
		return strings.TrimSpace(markdown)
	}

	return strings.TrimSpace(blankRunRe.ReplaceAllString(out.String(), "\n\n"))
}

func ensureLineStart(buf *bytes.Buffer) {
	if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
		buf.WriteByte('\n')
	}
}
