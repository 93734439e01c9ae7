package tui

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	codeBlockRegex = regexp.MustCompile(`(?s)<pre><code(?: class="language-([a-zA-Z0-9]+)")?>(.*?)</code></pre>`)
	headingRegex   = regexp.MustCompile(`<h[1-3] id="[^"]*">(.*?)</h[1-3]>`)
	strongRegex    = regexp.MustCompile(`<strong>(.*?)</strong>`)
	emRegex        = regexp.MustCompile(`<em>(.*?)</em>`)
	linkRegex      = regexp.MustCompile(`<a href="([^"]*)">(.*?)</a>`)
	blockquoteRe   = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	liRegex        = regexp.MustCompile(`<li>(.*?)</li>`)
	inlineCodeRe   = regexp.MustCompile(`<code>([^<]+)</code>`)
	htmlTagRegex   = regexp.MustCompile(`<[^>]+>`)
	multiNewline   = regexp.MustCompile(`\n{3,}`)
)

// MarkdownRenderer turns the bot's markdown replies into styled
// terminal text, with syntax-highlighted code blocks.
type MarkdownRenderer struct {
	goldmark.Markdown
	formatter chroma.Formatter
	style     *chroma.Style
}

func NewMarkdownRenderer() *MarkdownRenderer {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
		goldmark.WithExtensions(
			extension.GFM,
			extension.Strikethrough,
		),
	)
	return &MarkdownRenderer{
		Markdown:  md,
		formatter: formatters.Get("terminal256"),
		style:     styles.Get("dracula"),
	}
}

// Render converts markdown to terminal output. On any conversion
// failure the raw text is shown instead.
func (r *MarkdownRenderer) Render(content string, width int) string {
	var buf bytes.Buffer
	if err := r.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return r.formatForTerminal(buf.String(), width)
}

func (r *MarkdownRenderer) formatForTerminal(htmlContent string, width int) string {
	result := htmlContent

	// Code blocks first, shelved behind placeholders so later passes
	// cannot mangle highlighted output.
	var codeBlocks []string
	result = codeBlockRegex.ReplaceAllStringFunc(result, func(m string) string {
		matches := codeBlockRegex.FindStringSubmatch(m)
		if len(matches) < 3 {
			return m
		}
		highlighted := r.highlight(decodeHTMLEntities(matches[2]), matches[1])

		codeWidth := width - 6
		if codeWidth < 20 {
			codeWidth = 20
		}
		styled := lipgloss.NewStyle().
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6272A4")).
			Width(codeWidth).
			Render(highlighted)

		idx := len(codeBlocks)
		codeBlocks = append(codeBlocks, styled)
		return fmt.Sprintf("\n{{CODE_BLOCK_%d}}\n", idx)
	})

	result = headingRegex.ReplaceAllStringFunc(result, func(m string) string {
		inner := headingRegex.FindStringSubmatch(m)[1]
		return "\n" + lipgloss.NewStyle().Bold(true).Render(stripTags(inner)) + "\n"
	})
	result = strongRegex.ReplaceAllString(result, "\x1b[1m$1\x1b[0m")
	result = emRegex.ReplaceAllString(result, "\x1b[3m$1\x1b[0m")
	result = inlineCodeRe.ReplaceAllStringFunc(result, func(m string) string {
		inner := inlineCodeRe.FindStringSubmatch(m)[1]
		return "\x1b[7m " + decodeHTMLEntities(inner) + " \x1b[0m"
	})
	result = linkRegex.ReplaceAllString(result, "$2 ($1)")
	result = liRegex.ReplaceAllString(result, "  • $1\n")
	result = blockquoteRe.ReplaceAllStringFunc(result, func(m string) string {
		inner := stripTags(blockquoteRe.FindStringSubmatch(m)[1])
		var b strings.Builder
		for _, line := range strings.Split(strings.TrimSpace(inner), "\n") {
			b.WriteString("  │ " + line + "\n")
		}
		return b.String()
	})

	result = strings.ReplaceAll(result, "<p>", "")
	result = strings.ReplaceAll(result, "</p>", "\n")
	result = strings.ReplaceAll(result, "<br />", "\n")
	result = htmlTagRegex.ReplaceAllString(result, "")
	result = decodeHTMLEntities(result)
	result = multiNewline.ReplaceAllString(result, "\n\n")

	for i, block := range codeBlocks {
		result = strings.Replace(result, fmt.Sprintf("{{CODE_BLOCK_%d}}", i), block, 1)
	}
	return strings.TrimSpace(result)
}

func (r *MarkdownRenderer) highlight(code, lang string) string {
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := r.formatter.Format(&buf, r.style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(buf.String(), "\n")
}

func stripTags(s string) string {
	return htmlTagRegex.ReplaceAllString(s, "")
}

func decodeHTMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#34;", `"`,
		"&#39;", "'",
	)
	return replacer.Replace(s)
}
