package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText converts an HTML fragment to readable plain text.
//
// Block elements become paragraphs, <br> becomes a line break, list items
// get a "- " bullet, links keep their text followed by the target in
// parentheses, and script/style content is dropped. Input that contains no
// markup passes through with whitespace normalised.
func HTMLToText(src string) string {
	w := &textWriter{}
	z := html.NewTokenizer(strings.NewReader(src))

	var (
		skipDepth int
		hrefs     []string
		pre       int
	)

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return w.String()

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			if pre > 0 {
				w.raw(string(z.Text()))
			} else {
				w.text(string(z.Text()))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			a := atom.Lookup(name)

			switch a {
			case atom.Script, atom.Style, atom.Head, atom.Noscript:
				if tt == html.StartTagToken {
					skipDepth++
				}
			case atom.Br:
				w.lineBreak()
			case atom.Hr:
				w.paragraph()
				w.raw("---")
				w.paragraph()
			case atom.Li:
				w.lineBreak()
				w.raw("- ")
			case atom.Pre:
				w.paragraph()
				pre++
			case atom.Img:
				if alt := attr(z, hasAttr, "alt"); alt != "" {
					w.text("[" + alt + "]")
				}
			case atom.A:
				if tt == html.StartTagToken {
					hrefs = append(hrefs, attr(z, hasAttr, "href"))
				}
			default:
				if isBlock(a) {
					w.paragraph()
				}
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)

			switch a {
			case atom.Script, atom.Style, atom.Head, atom.Noscript:
				if skipDepth > 0 {
					skipDepth--
				}
			case atom.Pre:
				if pre > 0 {
					pre--
				}
				w.paragraph()
			case atom.A:
				if len(hrefs) == 0 {
					continue
				}
				href := hrefs[len(hrefs)-1]
				hrefs = hrefs[:len(hrefs)-1]
				if href != "" && !strings.HasPrefix(href, "#") && !strings.HasSuffix(w.last(), href) {
					w.space()
					w.text("(" + href + ")")
				}
			default:
				if isBlock(a) {
					w.paragraph()
				}
			}
		}
	}
}

func attr(z *html.Tokenizer, hasAttr bool, key string) string {
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		if string(k) == key {
			return strings.TrimSpace(string(v))
		}
	}
	return ""
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Header, atom.Footer,
		atom.Blockquote, atom.Ul, atom.Ol, atom.Table, atom.Tr, atom.Figure,
		atom.Figcaption, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return true
	}
	return false
}

// textWriter accumulates words, collapsing runs of whitespace and keeping
// at most one blank line between paragraphs.
type textWriter struct {
	b       strings.Builder
	pending string // separator owed before the next word
}

func (w *textWriter) text(s string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" {
			w.space()
		}
		return
	}

	if startsWithSpace(s) {
		w.space()
	}
	for i, f := range fields {
		if i > 0 && w.pending == "" {
			w.pending = " "
		}
		w.flush()
		w.b.WriteString(f)
	}
	if endsWithSpace(s) {
		w.space()
	}
}

// space owes a single space unless a separator is already pending or the
// output ends in whitespace.
func (w *textWriter) space() {
	if w.pending != "" || w.b.Len() == 0 {
		return
	}
	s := w.b.String()
	if c := s[len(s)-1]; c == ' ' || c == '\n' {
		return
	}
	w.pending = " "
}

func (w *textWriter) raw(s string) {
	w.flush()
	w.b.WriteString(s)
}

func (w *textWriter) lineBreak() {
	if w.b.Len() == 0 {
		return
	}
	if w.pending != "\n\n" {
		w.pending = "\n"
	}
}

func (w *textWriter) paragraph() {
	if w.b.Len() == 0 {
		return
	}
	w.pending = "\n\n"
}

func (w *textWriter) flush() {
	if w.b.Len() > 0 {
		w.b.WriteString(w.pending)
	}
	w.pending = ""
}

func (w *textWriter) last() string {
	s := w.b.String()
	if i := strings.LastIndexAny(s, " \n"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (w *textWriter) String() string {
	return strings.TrimSpace(w.b.String())
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n") != s
}
