// Package changelog reads the embedded release notes and works out which
// releases an admin has not acknowledged yet.
package changelog

import (
	_ "embed"
	"regexp"
	"strings"

	"github.com/yuin/goldmark/ast"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/markdown"
)

//go:embed CHANGELOG.md
var embedded []byte

// CurrentVersion is the running release. It is set at link time
// (-X .../internal/changelog.CurrentVersion=1.4.0); when empty the newest
// changelog entry is used.
var CurrentVersion = ""

var releaseRe = regexp.MustCompile(`^\[?(\d+\.\d+\.\d+)\]? - (\d{4}-\d{2}-\d{2})$`)

// sectionOrder is the order sections appear in summaries.
var sectionOrder = []string{"Added", "Changed", "Fixed", "Security", "Deprecated", "Removed"}

const maxSummaryItemLen = 200

// Entry is one release.
type Entry struct {
	Version  string              `json:"version"`
	Date     string              `json:"date"`
	Sections map[string][]string `json:"sections"`
	// Raw is the Markdown of the release, heading included.
	Raw string `json:"-"`
}

// Changelog is a parsed CHANGELOG.md, newest release first.
type Changelog struct {
	Entries []Entry
	md      *markdown.Renderer
}

// Load parses the embedded changelog.
func Load(md *markdown.Renderer) *Changelog {
	return Parse(md, embedded)
}

// Parse reads releases from source. A release is a level 2 heading
// "[x.y.z] - yyyy-mm-dd"; its level 3 headings name sections whose list
// items are the changes.
func Parse(md *markdown.Renderer, source []byte) *Changelog {
	doc := md.Parse(source)
	c := &Changelog{md: md}

	var (
		cur     *Entry
		start   int
		section string
	)
	finish := func(end int) {
		if cur == nil {
			return
		}
		cur.Raw = strings.TrimSpace(string(source[start:end]))
		c.Entries = append(c.Entries, *cur)
		cur = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			title := rawText(node, source)
			switch node.Level {
			case 2:
				lineStart := blockStart(node, source)
				finish(lineStart)
				if m := releaseRe.FindStringSubmatch(title); m != nil {
					cur = &Entry{Version: m[1], Date: m[2], Sections: map[string][]string{}}
					start = lineStart
				}
				section = ""
			case 3:
				section = title
			}
		case *ast.List:
			if cur == nil || section == "" {
				continue
			}
			for li := node.FirstChild(); li != nil; li = li.NextSibling() {
				if item := rawText(li.FirstChild(), source); item != "" {
					cur.Sections[section] = append(cur.Sections[section], item)
				}
			}
		}
	}
	finish(len(source))
	return c
}

// rawText joins the source lines of a block, keeping inline Markdown.
func rawText(n ast.Node, source []byte) string {
	if n == nil || n.Type() != ast.TypeBlock {
		return ""
	}
	lines := n.Lines()
	parts := make([]string, 0, lines.Len())
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		parts = append(parts, strings.TrimSpace(string(seg.Value(source))))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// blockStart is the offset of the first line of a block.
func blockStart(n ast.Node, source []byte) int {
	lines := n.Lines()
	if lines.Len() == 0 {
		return len(source)
	}
	i := lines.At(0).Start
	for i > 0 && source[i-1] != '\n' {
		i--
	}
	return i
}

// Current is the running version.
func (c *Changelog) Current() string {
	if CurrentVersion != "" {
		return CurrentVersion
	}
	if len(c.Entries) > 0 {
		return c.Entries[0].Version
	}
	return ""
}

// Unseen returns the releases newer than lastDismissed and not newer than
// current.
func (c *Changelog) Unseen(lastDismissed, current string) []Entry {
	var out []Entry
	for _, e := range c.Entries {
		newer, ok := CompareVersions(e.Version, lastDismissed)
		if !ok || newer != 1 {
			continue
		}
		if cmp, ok := CompareVersions(e.Version, current); ok && cmp == 1 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Recent returns at most n releases, newest first.
func (c *Changelog) Recent(n int) []Entry {
	if n > len(c.Entries) {
		n = len(c.Entries)
	}
	return c.Entries[:n]
}

// HTML renders the release notes of e.
func (c *Changelog) HTML(e Entry) (string, error) {
	out, err := c.md.Render([]byte(e.Raw))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var (
	boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
	codeRe = regexp.MustCompile("`(.+?)`")
)

// Summary lists up to maxItems changes per section as "Section: text" with
// emphasis and code marks removed.
func Summary(e Entry, maxItems int) []string {
	var out []string
	for _, name := range sectionOrder {
		items := e.Sections[name]
		if len(items) > maxItems {
			items = items[:maxItems]
		}
		for _, item := range items {
			clean := codeRe.ReplaceAllString(boldRe.ReplaceAllString(item, "$1"), "$1")
			if r := []rune(clean); len(r) > maxSummaryItemLen {
				clean = string(r[:maxSummaryItemLen])
			}
			out = append(out, name+": "+clean)
		}
	}
	return out
}

// Title picks a short headline for a release.
func Title(e Entry) string {
	if added := e.Sections["Added"]; len(added) > 0 {
		if head, _, _ := strings.Cut(added[0], ":"); strings.TrimSpace(head) != "" {
			return strings.TrimSpace(head)
		}
		return truncate(added[0], 50)
	}
	if changed := e.Sections["Changed"]; len(changed) > 0 {
		return truncate(changed[0], 50)
	}
	if len(e.Sections["Fixed"]) > 0 {
		return "Bug fixes in v" + e.Version
	}
	return "Version " + e.Version
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

// Notice is a release as shown in the admin panel.
type Notice struct {
	Version  string              `json:"version"`
	Date     string              `json:"date"`
	Title    string              `json:"title"`
	Summary  []string            `json:"summary"`
	Sections map[string][]string `json:"sections"`
	HTML     string              `json:"html,omitempty"`
}

// Notices turns entries into Notices with up to maxItems summary lines per
// section. Rendering failures leave HTML empty.
func (c *Changelog) Notices(entries []Entry, maxItems int) []Notice {
	out := make([]Notice, 0, len(entries))
	for _, e := range entries {
		html, _ := c.HTML(e)
		out = append(out, Notice{
			Version:  e.Version,
			Date:     e.Date,
			Title:    Title(e),
			Summary:  Summary(e, maxItems),
			Sections: e.Sections,
			HTML:     html,
		})
	}
	return out
}
