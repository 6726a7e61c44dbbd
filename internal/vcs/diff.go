package vcs

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
)

type LineType string

const (
	LineAdd     LineType = "add"
	LineDel     LineType = "del"
	LineContext LineType = "context"
	LineMeta    LineType = "meta"
	LineHunk    LineType = "hunk"
)

type DiffLine struct {
	Type          LineType `json:"type"`
	Content       string   `json:"content"`
	LineNumberOld *int     `json:"lineNumberOld,omitempty"`
	LineNumberNew *int     `json:"lineNumberNew,omitempty"`
}

// DiffFile groups the lines of one changed path. Status is a single letter
// such as A, D, M, R or C.
type DiffFile struct {
	Path   string     `json:"path"`
	Status string     `json:"status"`
	Lines  []DiffLine `json:"lines"`
}

// Diff compares base against the working tree of dir.
func (g *Git) Diff(ctx context.Context, dir, base string, ignoreWhitespace bool) ([]DiffFile, error) {
	args := []string{"diff", "--no-color", "--no-ext-diff", "-M"}
	if ignoreWhitespace {
		args = append(args, "--ignore-all-space", "--ignore-space-change", "--ignore-space-at-eol")
	}
	args = append(args, base, "--")
	out, err := g.runner.Run(ctx, dir, args...)
	if err != nil {
		return nil, wrap("diff", err)
	}
	return ParseUnifiedDiff(out), nil
}

// ParseUnifiedDiff splits git's patch output into files and typed lines.
func ParseUnifiedDiff(out []byte) []DiffFile {
	files := []DiffFile{}
	var cur *DiffFile
	oldNo, newNo := 0, 0
	inHunk := false

	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.HasPrefix(line, "diff --git ") {
			files = append(files, DiffFile{Path: pathFromGitHeader(line), Status: "M"})
			cur = &files[len(files)-1]
			inHunk = false
			cur.Lines = append(cur.Lines, DiffLine{Type: LineMeta, Content: line})
			continue
		}
		if cur == nil {
			continue
		}
		if inHunk {
			switch {
			case strings.HasPrefix(line, "+"):
				cur.Lines = append(cur.Lines, DiffLine{Type: LineAdd, Content: line[1:], LineNumberNew: intPtr(newNo)})
				newNo++
				continue
			case strings.HasPrefix(line, "-"):
				cur.Lines = append(cur.Lines, DiffLine{Type: LineDel, Content: line[1:], LineNumberOld: intPtr(oldNo)})
				oldNo++
				continue
			case strings.HasPrefix(line, " ") || line == "":
				content := line
				if content != "" {
					content = content[1:]
				}
				cur.Lines = append(cur.Lines, DiffLine{Type: LineContext, Content: content, LineNumberOld: intPtr(oldNo), LineNumberNew: intPtr(newNo)})
				oldNo++
				newNo++
				continue
			case strings.HasPrefix(line, `\`):
				cur.Lines = append(cur.Lines, DiffLine{Type: LineMeta, Content: line})
				continue
			}
		}
		if strings.HasPrefix(line, "@@") {
			oldNo, newNo = parseHunkHeader(line)
			inHunk = true
			cur.Lines = append(cur.Lines, DiffLine{Type: LineHunk, Content: line})
			continue
		}
		switch {
		case strings.HasPrefix(line, "new file mode"):
			cur.Status = "A"
		case strings.HasPrefix(line, "deleted file mode"):
			cur.Status = "D"
		case strings.HasPrefix(line, "rename to "):
			cur.Status = "R"
			cur.Path = strings.TrimPrefix(line, "rename to ")
		case strings.HasPrefix(line, "copy to "):
			cur.Status = "C"
			cur.Path = strings.TrimPrefix(line, "copy to ")
		case strings.HasPrefix(line, "+++ b/"):
			cur.Path = strings.TrimPrefix(line, "+++ b/")
		}
		cur.Lines = append(cur.Lines, DiffLine{Type: LineMeta, Content: line})
	}
	return files
}

// pathFromGitHeader takes the b/ side of "diff --git a/x b/y".
func pathFromGitHeader(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	if i := strings.LastIndex(rest, " b/"); i >= 0 {
		return rest[i+3:]
	}
	return rest
}

// parseHunkHeader reads the start lines from "@@ -a,b +c,d @@".
func parseHunkHeader(line string) (int, int) {
	fields := strings.Fields(line)
	oldStart, newStart := 0, 0
	for _, f := range fields[1:] {
		switch {
		case strings.HasPrefix(f, "-"):
			oldStart = leadingInt(f[1:])
		case strings.HasPrefix(f, "+"):
			newStart = leadingInt(f[1:])
		}
		if f == "@@" {
			break
		}
	}
	return oldStart, newStart
}

func leadingInt(s string) int {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(s)
	return n
}

func intPtr(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}
