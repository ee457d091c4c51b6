package htmlconv

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ToMarkdown converts legacy rendered HTML into markdown text. Documents
// authored before binary state was persisted only kept their rendered
// form; this recovers an editable approximation of it. Unknown tags
// contribute their text content and nothing else.
func ToMarkdown(source string) (string, error) {
	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var b strings.Builder
	render(&b, root)

	return tidy(b.String()), nil
}

func render(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		text := strings.ReplaceAll(n.Data, "\n", " ")
		if strings.TrimSpace(text) != "" {
			b.WriteString(text)
		}
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "head":
			return
		case "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
			b.WriteString(strings.Repeat("#", int(n.Data[1]-'0')))
			b.WriteString(" ")
			renderChildren(b, n)
			b.WriteString("\n\n")
			return
		case "p", "div", "section", "article":
			b.WriteString("\n\n")
			renderChildren(b, n)
			b.WriteString("\n\n")
			return
		case "br":
			b.WriteString("\n")
			return
		case "li":
			b.WriteString("\n- ")
			renderChildren(b, n)
			return
		case "ul", "ol":
			renderChildren(b, n)
			b.WriteString("\n\n")
			return
		case "strong", "b":
			b.WriteString("**")
			renderChildren(b, n)
			b.WriteString("**")
			return
		case "em", "i":
			b.WriteString("*")
			renderChildren(b, n)
			b.WriteString("*")
			return
		case "code":
			if n.Parent != nil && n.Parent.Data == "pre" {
				renderChildren(b, n)
				return
			}
			b.WriteString("`")
			renderChildren(b, n)
			b.WriteString("`")
			return
		case "pre":
			b.WriteString("\n\n```\n")
			renderPre(b, n)
			b.WriteString("\n```\n\n")
			return
		case "blockquote":
			b.WriteString("\n\n> ")
			renderChildren(b, n)
			b.WriteString("\n\n")
			return
		case "a":
			href := attr(n, "href")
			if href == "" {
				renderChildren(b, n)
				return
			}
			b.WriteString("[")
			renderChildren(b, n)
			b.WriteString("](" + href + ")")
			return
		case "img":
			if src := attr(n, "src"); src != "" {
				b.WriteString("![" + attr(n, "alt") + "](" + src + ")")
			}
			return
		case "hr":
			b.WriteString("\n\n---\n\n")
			return
		}
	}

	renderChildren(b, n)
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(b, c)
	}
}

// renderPre keeps newlines verbatim inside code blocks.
func renderPre(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(strings.Trim(c.Data, "\n"))
			continue
		}
		renderPre(b, c)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}

	var out []string
	blank := 0
	for _, line := range lines {
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}
