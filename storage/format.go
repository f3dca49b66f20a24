package storage

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// meaningIndent prefixes every meaning line in a dictionary file.
const meaningIndent = "    "

// maxLineSize bounds one line of a dictionary file. Longer lines are
// skipped, and a skipped word line takes its meanings with it.
const maxLineSize = 1 << 20

// Parse reads a dictionary file.
//
// A line starting with whitespace is a meaning of the most recent word;
// any other non-blank line starts a new word. Meanings seen before the
// first word are ignored, words without meanings are dropped and repeated
// meanings collapse. A word listed twice accumulates the meanings of both
// records.
func Parse(r io.Reader) (map[string][]string, error) {
	words := map[string][]string{}
	br := bufio.NewReaderSize(r, 64*1024)
	cur := ""
	for {
		line, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("read dictionary: %w", err)
		}
		switch {
		case tooLong:
			if line[0] != ' ' && line[0] != '\t' {
				cur = ""
			}
		case strings.TrimSpace(line) == "":
		case line[0] == ' ' || line[0] == '\t':
			if cur == "" {
				break
			}
			m := strings.TrimSpace(line)
			if !slices.Contains(words[cur], m) {
				words[cur] = append(words[cur], m)
			}
		default:
			cur = normalizeWord(line)
			if _, ok := words[cur]; !ok {
				words[cur] = nil
			}
		}
		if err == io.EOF {
			break
		}
	}
	for w, ms := range words {
		if len(ms) == 0 {
			delete(words, w)
		}
	}
	return words, nil
}

// readLine returns the next line without its line ending. When the line
// exceeds maxLineSize, tooLong is set, the rest of the line is consumed and
// only a prefix is returned.
func readLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		frag, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(frag) > maxLineSize+2 {
				tooLong = true
				if len(buf) == 0 {
					buf = append(buf, frag[:1]...)
				}
			} else {
				buf = append(buf, frag...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		line = strings.TrimRight(string(buf), "\r\n")
		if tooLong {
			line = string(buf)
		}
		return line, tooLong, err
	}
}

// Render writes words in canonical form: sorted by word, meanings in
// their stored order, one blank line between records.
func Render(w io.Writer, words map[string][]string) error {
	bw := bufio.NewWriter(w)
	keys := make([]string, 0, len(words))
	for k := range words {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for i, k := range keys {
		if i > 0 {
			bw.WriteByte('\n')
		}
		bw.WriteString(k)
		bw.WriteByte('\n')
		for _, m := range words[k] {
			bw.WriteString(meaningIndent)
			bw.WriteString(m)
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}
