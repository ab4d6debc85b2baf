// Package mrkdwn converts the Markdown produced by the assistant into
// Slack's mrkdwn dialect. Markdown is rendered to HTML with goldmark
// and the HTML tree is then written back out using Slack markup.
package mrkdwn

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(
		renderer.WithNodeRenderers(util.Prioritized(literalHTML{}, 100)),
	),
)

// literalHTML renders raw HTML in the source as escaped text. Replies
// mention things like List<T> or <main> that are not markup, and Slack
// has no HTML to pass them through to.
type literalHTML struct{}

func (literalHTML) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindRawHTML, renderRawHTML)
	reg.Register(ast.KindHTMLBlock, renderHTMLBlock)
}

func renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	segs := node.(*ast.RawHTML).Segments
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		_, _ = w.WriteString(html.EscapeString(string(seg.Value(source))))
	}
	return ast.WalkSkipChildren, nil
}

func renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	n := node.(*ast.HTMLBlock)
	var raw strings.Builder
	for i := 0; i < n.Lines().Len(); i++ {
		line := n.Lines().At(i)
		raw.Write(line.Value(source))
	}
	if n.HasClosure() {
		raw.Write(n.ClosureLine.Value(source))
	}
	_, _ = w.WriteString("<p>" + html.EscapeString(strings.TrimRight(raw.String(), "\n")) + "</p>\n")
	return ast.WalkSkipChildren, nil
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Convert returns src rewritten as Slack mrkdwn. If src cannot be
// rendered it is returned with only Slack's control characters escaped.
func Convert(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return Escape(src)
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(&buf, body)
	if err != nil {
		return Escape(src)
	}

	var w strings.Builder
	for _, n := range nodes {
		render(&w, n, 0)
	}

	out := blankRuns.ReplaceAllString(w.String(), "\n\n")
	return strings.TrimSpace(out)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Escape escapes the three characters Slack treats as control
// sequences.
func Escape(s string) string {
	return escaper.Replace(s)
}

// blockParent reports whether whitespace-only text directly inside n is
// formatting noise from the HTML renderer.
func blockParent(n *html.Node) bool {
	if n == nil {
		return true
	}
	switch n.DataAtom {
	case atom.Body, atom.Ul, atom.Ol, atom.Li, atom.Blockquote:
		return true
	}
	return false
}

func renderChildren(w *strings.Builder, n *html.Node, depth int) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		render(w, c, depth)
	}
}

func renderToString(n *html.Node, depth int) string {
	var w strings.Builder
	renderChildren(&w, n, depth)
	return w.String()
}

func render(w *strings.Builder, n *html.Node, depth int) {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" && blockParent(n.Parent) {
			return
		}
		w.WriteString(Escape(n.Data))
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.P:
		renderChildren(w, n, depth)
		if n.Parent != nil && n.Parent.DataAtom == atom.Li {
			w.WriteString("\n")
		} else {
			w.WriteString("\n\n")
		}
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		fmt.Fprintf(w, "*%s*\n\n", strings.TrimSpace(renderToString(n, depth)))
	case atom.Strong, atom.B:
		wrap(w, n, depth, "*")
	case atom.Em, atom.I:
		wrap(w, n, depth, "_")
	case atom.Del, atom.S:
		wrap(w, n, depth, "~")
	case atom.Code:
		w.WriteString("`" + Escape(textContent(n)) + "`")
	case atom.Pre:
		code := strings.TrimRight(textContent(n), "\n")
		w.WriteString("```\n" + Escape(code) + "\n```\n\n")
	case atom.A:
		href := attr(n, "href")
		text := strings.TrimSpace(renderToString(n, depth))
		switch {
		case href == "":
			w.WriteString(text)
		case text == "" || text == Escape(href):
			w.WriteString("<" + href + ">")
		default:
			w.WriteString("<" + href + "|" + text + ">")
		}
	case atom.Img:
		src, alt := attr(n, "src"), attr(n, "alt")
		if alt == "" {
			w.WriteString("<" + src + ">")
		} else {
			w.WriteString("<" + src + "|" + Escape(alt) + ">")
		}
	case atom.Br:
		w.WriteString("\n")
	case atom.Hr:
		w.WriteString("──────────\n\n")
	case atom.Ul, atom.Ol:
		renderList(w, n, depth)
		if depth == 0 {
			w.WriteString("\n")
		}
	case atom.Blockquote:
		inner := strings.TrimSpace(renderToString(n, depth))
		for _, line := range strings.Split(inner, "\n") {
			w.WriteString("> " + line + "\n")
		}
		w.WriteString("\n")
	default:
		renderChildren(w, n, depth)
	}
}

func renderList(w *strings.Builder, list *html.Node, depth int) {
	indent := strings.Repeat("    ", depth)
	i := 1
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.DataAtom != atom.Li {
			continue
		}
		bullet := "• "
		if list.DataAtom == atom.Ol {
			bullet = fmt.Sprintf("%d. ", i)
		}
		content := strings.TrimSpace(renderToString(li, depth+1))
		w.WriteString(indent + bullet + content + "\n")
		i++
	}
}

func wrap(w *strings.Builder, n *html.Node, depth int, mark string) {
	inner := renderToString(n, depth)
	if strings.TrimSpace(inner) == "" {
		w.WriteString(inner)
		return
	}
	w.WriteString(mark + inner + mark)
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
