package vcs

import "testing"

const samplePatch = `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -3,3 +3,4 @@ package main
 import "fmt"
-func a() {}
+func b() {}
+func c() {}
 // end
\ No newline at end of file
diff --git a/docs/new file.md b/docs/new file.md
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/docs/new file.md
@@ -0,0 +1 @@
+hello
diff --git a/old.txt b/renamed.txt
similarity index 100%
rename from old.txt
rename to renamed.txt
diff --git a/gone.txt b/gone.txt
deleted file mode 100644
index 4444444..0000000
--- a/gone.txt
+++ /dev/null
@@ -1 +0,0 @@
-bye
`

func TestParseUnifiedDiff(t *testing.T) {
	files := ParseUnifiedDiff([]byte(samplePatch))
	if len(files) != 4 {
		t.Fatalf("expected 4 files, got %d: %+v", len(files), files)
	}

	mod := files[0]
	if mod.Path != "main.go" || mod.Status != "M" {
		t.Fatalf("unexpected first file: %+v", mod)
	}
	var hunk, adds, dels, ctx int
	for _, l := range mod.Lines {
		switch l.Type {
		case LineHunk:
			hunk++
		case LineAdd:
			adds++
		case LineDel:
			dels++
		case LineContext:
			ctx++
		}
	}
	if hunk != 1 || adds != 2 || dels != 1 || ctx != 2 {
		t.Fatalf("unexpected line counts hunk=%d add=%d del=%d ctx=%d", hunk, adds, dels, ctx)
	}
	for _, l := range mod.Lines {
		if l.Type == LineDel {
			if l.Content != "func a() {}" || l.LineNumberOld == nil || *l.LineNumberOld != 4 || l.LineNumberNew != nil {
				t.Fatalf("unexpected deleted line: %+v", l)
			}
		}
		if l.Type == LineAdd && l.Content == "func c() {}" {
			if l.LineNumberNew == nil || *l.LineNumberNew != 5 {
				t.Fatalf("unexpected added line numbering: %+v", l)
			}
		}
	}
	last := mod.Lines[len(mod.Lines)-1]
	if last.Type != LineMeta {
		t.Fatalf("expected no-newline marker as meta, got %+v", last)
	}

	if files[1].Path != "docs/new file.md" || files[1].Status != "A" {
		t.Fatalf("unexpected added file: %+v", files[1])
	}
	if files[2].Path != "renamed.txt" || files[2].Status != "R" {
		t.Fatalf("unexpected renamed file: %+v", files[2])
	}
	if files[3].Path != "gone.txt" || files[3].Status != "D" {
		t.Fatalf("unexpected deleted file: %+v", files[3])
	}
}

func TestParseHunkHeader(t *testing.T) {
	oldStart, newStart := parseHunkHeader("@@ -10,7 +12 @@ func x() {")
	if oldStart != 10 || newStart != 12 {
		t.Fatalf("got %d %d", oldStart, newStart)
	}
}
