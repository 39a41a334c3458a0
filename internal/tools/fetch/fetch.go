// Package fetch implements the web_fetch tool: GET a page, reduce HTML to
// markdown or text, and fence the result as untrusted external data.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/aatumaykin/xavier/internal/logger"
	"github.com/aatumaykin/xavier/internal/sanitizer"
	"github.com/aatumaykin/xavier/internal/tools"
)

const defaultMaxLength = 20000

type Config struct {
	Timeout         time.Duration
	MaxResponseSize int64
	UserAgent       string
}

type Tool struct {
	cfg    Config
	client *http.Client
	guard  *sanitizer.Guard
	logger *logger.Logger
}

type Args struct {
	URL       string `json:"url"`
	Format    string `json:"format,omitempty"`
	MaxLength int    `json:"max_length,omitempty"`
}

func New(cfg Config, guard *sanitizer.Guard, log *logger.Logger) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = 5 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "xavier/1.0"
	}
	return &Tool{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		guard:  guard,
		logger: log,
	}
}

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch a web page by URL and return its readable content as markdown or plain text."
}

func (t *Tool) Parameters() map[string]any {
	return tools.Schema(map[string]any{
		"url": map[string]any{
			"type":        "string",
			"description": "Absolute http:// or https:// URL.",
		},
		"format": map[string]any{
			"type":        "string",
			"enum":        []string{"markdown", "text", "raw"},
			"default":     "markdown",
			"description": "markdown converts HTML, text strips tags, raw returns the body unchanged.",
		},
		"max_length": map[string]any{
			"type":        "integer",
			"description": "Truncate the returned content to this many characters.",
			"default":     defaultMaxLength,
		},
	}, "url")
}

func (t *Tool) Execute(ctx context.Context, args string) (string, error) {
	var a Args
	if err := tools.ParseArgs(args, &a); err != nil {
		return "", err
	}
	if a.Format == "" {
		a.Format = "markdown"
	}
	if a.MaxLength <= 0 {
		a.MaxLength = defaultMaxLength
	}

	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", tools.NewValidationError("INVALID_URL", "url must be an absolute http(s) URL", map[string]any{"url": a.URL})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > t.cfg.MaxResponseSize {
		return "", tools.NewValidationError("RESPONSE_TOO_LARGE",
			fmt.Sprintf("response is %d bytes, limit is %d", resp.ContentLength, t.cfg.MaxResponseSize), nil)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxResponseSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > t.cfg.MaxResponseSize {
		return "", tools.NewValidationError("RESPONSE_TOO_LARGE",
			fmt.Sprintf("response exceeds %d bytes", t.cfg.MaxResponseSize), nil)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	title := ""
	content := string(body)
	if isHTML(mediaType) && a.Format != "raw" {
		title, content, err = t.convert(content, a.Format)
		if err != nil {
			return "", err
		}
	}

	truncated := false
	if runes := []rune(content); len(runes) > a.MaxLength {
		content = string(runes[:a.MaxLength])
		truncated = true
	}

	clean, rep := t.guard.Clean(content)
	if !rep.Safe {
		t.logger.WarnCtx(ctx, "fetched content flagged",
			logger.Field{Key: "url", Value: a.URL},
			logger.Field{Key: "risk", Value: rep.RiskScore},
			logger.Field{Key: "patterns", Value: rep.Detected})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nStatus: %d\n", a.URL, resp.StatusCode)
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", title)
	}
	if truncated {
		fmt.Fprintf(&b, "Truncated: first %d characters\n", a.MaxLength)
	}
	b.WriteString(sanitizer.Wrap(t.Name(), clean))
	return b.String(), nil
}

// convert drops page chrome and renders the document.
func (t *Tool) convert(html, format string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, nav, footer, aside, iframe, form").Remove()

	sel := doc.Find("article").First()
	if sel.Length() == 0 {
		sel = doc.Find("main").First()
	}
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}

	if format == "text" {
		return title, collapseSpace(sel.Text()), nil
	}

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:    "atx",
		CodeBlockStyle:  "fenced",
		EmDelimiter:     "*",
		StrongDelimiter: "**",
	})
	converter.AddRules(md.Rule{
		Filter: []string{"img"},
		Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
			alt := selec.AttrOr("alt", "")
			if alt == "" {
				return md.String("")
			}
			return md.String("[image: " + alt + "]")
		},
	})

	out := converter.Convert(sel)
	return title, strings.TrimSpace(collapseBlankLines(out)), nil
}

func isHTML(mediaType string) bool {
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, strings.TrimRight(l, " \t"))
	}
	return strings.Join(out, "\n")
}
