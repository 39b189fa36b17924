// ABOUTME: Converts model markdown into WhatsApp-style plain text using the goldmark AST
// ABOUTME: Headings become bold lines, lists become bullets, links keep their target

package compose

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// NormalizeMarkdown renders markdown as chat text: **bold** becomes *bold*,
// *italic* becomes _italic_, headings become bold lines, and list items
// become "• " bullets. HTML is dropped.
func NormalizeMarkdown(src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}

	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))
	r := &plainRenderer{src: source}
	return strings.TrimSpace(strings.Join(r.blocks(doc), "\n\n"))
}

type plainRenderer struct {
	src []byte
}

func (r *plainRenderer) blocks(parent ast.Node) []string {
	var out []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := r.block(n); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r *plainRenderer) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Heading:
		t := strings.Trim(r.inline(n), "*_ ")
		if t == "" {
			return ""
		}
		return "*" + t + "*"
	case *ast.Paragraph, *ast.TextBlock:
		return r.inline(n)
	case *ast.List:
		return r.list(n)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return r.lines(n)
	case *ast.ThematicBreak, *ast.HTMLBlock:
		return ""
	default:
		return strings.Join(r.blocks(n), "\n")
	}
}

func (r *plainRenderer) list(l *ast.List) string {
	var items []string
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "• "
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}
		body := strings.Join(r.blocks(item), "\n")
		body = strings.ReplaceAll(body, "\n", "\n   ")
		items = append(items, marker+body)
	}
	return strings.Join(items, "\n")
}

func (r *plainRenderer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.src))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *plainRenderer) inline(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(r.src))
			if n.HardLineBreak() || n.SoftLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.Emphasis:
			mark := "_"
			if n.Level >= 2 {
				mark = "*"
			}
			b.WriteString(mark + r.inline(n) + mark)
		case *ast.Link:
			label := r.inline(n)
			dest := string(n.Destination)
			if label == "" || label == dest {
				b.WriteString(dest)
			} else {
				b.WriteString(label + " (" + dest + ")")
			}
		case *ast.AutoLink:
			b.Write(n.URL(r.src))
		case *ast.RawHTML:
		default:
			b.WriteString(r.inline(n))
		}
	}
	return strings.TrimSpace(b.String())
}
