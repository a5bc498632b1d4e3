// Package diff renders unified diffs for single-file changes.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	// DefaultContext is the number of unchanged lines around each hunk.
	DefaultContext = 3
	// DefaultMaxBytes skips diffing inputs larger than this.
	DefaultMaxBytes = 1 << 20
)

// Options tunes Unified.
type Options struct {
	Context  int
	MaxBytes int
}

// Result is a rendered diff with line statistics.
type Result struct {
	Patch     string `json:"patch"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Binary    bool   `json:"binary,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// Unified compares before and after as lines and renders a unified diff for
// path. An empty before is rendered as a new file.
func Unified(before, after, path string, opts Options) Result {
	if opts.Context < 0 {
		opts.Context = 0
	} else if opts.Context == 0 {
		opts.Context = DefaultContext
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if before == after {
		return Result{}
	}
	if isBinary(before) || isBinary(after) {
		return Result{Binary: true, Patch: fmt.Sprintf("Binary file %s has changed\n", path)}
	}
	if len(before) > opts.MaxBytes || len(after) > opts.MaxBytes {
		return Result{Truncated: true}
	}

	ops := lineOps(before, after)
	var result Result
	for _, op := range ops {
		switch op.kind {
		case '+':
			result.Additions++
		case '-':
			result.Deletions++
		}
	}

	var b strings.Builder
	if before == "" {
		b.WriteString("--- /dev/null\n")
	} else {
		b.WriteString("--- a/" + path + "\n")
	}
	b.WriteString("+++ b/" + path + "\n")
	for _, h := range hunks(ops, opts.Context) {
		h.write(&b)
	}
	result.Patch = b.String()
	return result
}

// Summary is a short "+N -M" description.
func (r Result) Summary() string {
	switch {
	case r.Binary:
		return "binary file changed"
	case r.Truncated:
		return "diff too large"
	case r.Additions == 0 && r.Deletions == 0:
		return "no changes"
	}
	return fmt.Sprintf("+%d -%d", r.Additions, r.Deletions)
}

func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		var kind byte
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			kind = ' '
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

type hunk struct {
	oldStart, newStart int
	ops                []lineOp
}

// hunks groups changed lines with up to context unchanged lines on each side,
// merging groups whose gap is at most twice the context.
func hunks(ops []lineOp, context int) []hunk {
	n := len(ops)
	oldNo := make([]int, n+1)
	newNo := make([]int, n+1)
	o, w := 1, 1
	for i, op := range ops {
		oldNo[i], newNo[i] = o, w
		if op.kind != '+' {
			o++
		}
		if op.kind != '-' {
			w++
		}
	}
	oldNo[n], newNo[n] = o, w

	var out []hunk
	for i := 0; i < n; {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start := max(0, i-context)
		end := i
		for j := i; j < n; {
			if ops[j].kind != ' ' {
				j++
				end = j
				continue
			}
			k := j
			for k < n && ops[k].kind == ' ' {
				k++
			}
			if k < n && k-j <= 2*context {
				j = k
				continue
			}
			break
		}
		stop := min(n, end+context)
		out = append(out, hunk{oldStart: oldNo[start], newStart: newNo[start], ops: ops[start:stop]})
		i = stop
	}
	return out
}

func (h hunk) write(b *strings.Builder) {
	var oldCount, newCount int
	for _, op := range h.ops {
		if op.kind != '+' {
			oldCount++
		}
		if op.kind != '-' {
			newCount++
		}
	}
	oldStart, newStart := h.oldStart, h.newStart
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, op := range h.ops {
		b.WriteByte(op.kind)
		b.WriteString(op.text)
		b.WriteByte('\n')
	}
}

// isBinary looks for a NUL byte in the first 8000 bytes, as git does.
func isBinary(content string) bool {
	return strings.IndexByte(content[:min(len(content), 8000)], 0) >= 0
}
