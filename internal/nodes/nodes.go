// Package nodes parses BRE/FE node directory files (brnodes.dat,
// fenodes.dat). Each entry is six lines followed by a blank separator:
// BBS index, BBS name, FidoNet address, city, state, country.
package nodes

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Node is one BBS entry.
type Node struct {
	BBSIndex       int
	BBSName        string
	FidonetAddress string
	City           string
	State          string
	Country        string
	Line           int // 1-based line the entry starts on
}

// File is a parsed nodes file. Problems are collected rather than aborting
// the parse so a validator can report them all at once.
type File struct {
	Nodes    []Node
	Problems []string
}

// ParseFile reads and parses a nodes file from disk.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening nodes file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading nodes file: %w", err)
	}
	return Parse(lines), nil
}

// Parse walks the raw lines of a nodes file.
func Parse(lines []string) *File {
	nf := &File{}

	i := 0
	for i < len(lines) {
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) {
			break
		}

		startLine := i + 1
		if i+5 >= len(lines) {
			nf.Problems = append(nf.Problems,
				fmt.Sprintf("line %d: incomplete entry (expected 6 lines, found %d)", startLine, len(lines)-i))
			break
		}

		idxStr := strings.TrimSpace(lines[i])
		name := strings.TrimSpace(lines[i+1])
		fidonet := strings.TrimSpace(lines[i+2])
		city := strings.TrimSpace(lines[i+3])
		state := strings.TrimSpace(lines[i+4])
		country := strings.TrimSpace(lines[i+5])
		i += 6

		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			nf.Problems = append(nf.Problems,
				fmt.Sprintf("line %d: invalid BBS index %q", startLine, idxStr))
			continue
		}
		if idx < 1 || idx > 255 {
			nf.Problems = append(nf.Problems,
				fmt.Sprintf("line %d: BBS index %d out of range 1-255", startLine, idx))
		}
		if name == "" {
			nf.Problems = append(nf.Problems, fmt.Sprintf("line %d: BBS name is empty", startLine+1))
		}
		if fidonet == "" {
			nf.Problems = append(nf.Problems, fmt.Sprintf("line %d: FidoNet address is empty", startLine+2))
		}

		nf.Nodes = append(nf.Nodes, Node{
			BBSIndex:       idx,
			BBSName:        name,
			FidonetAddress: fidonet,
			City:           city,
			State:          state,
			Country:        country,
			Line:           startLine,
		})
	}

	if len(nf.Nodes) == 0 && len(nf.Problems) == 0 {
		nf.Problems = append(nf.Problems, "no entries found in file")
	}
	return nf
}

// ByIndex finds a node by its BBS index.
func (f *File) ByIndex(idx int) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].BBSIndex == idx {
			return &f.Nodes[i]
		}
	}
	return nil
}

// ByName finds a node by BBS name, case-insensitively.
func (f *File) ByName(name string) *Node {
	for i := range f.Nodes {
		if strings.EqualFold(f.Nodes[i].BBSName, name) {
			return &f.Nodes[i]
		}
	}
	return nil
}

// DuplicateIndices reports every BBS index used by more than one entry.
func (f *File) DuplicateIndices() []string {
	seen := make(map[int]Node)
	var dups []string
	for _, n := range f.Nodes {
		if prev, ok := seen[n.BBSIndex]; ok {
			dups = append(dups, fmt.Sprintf(
				"duplicate BBS index %d: %q (line %d) and %q (line %d)",
				n.BBSIndex, prev.BBSName, prev.Line, n.BBSName, n.Line))
			continue
		}
		seen[n.BBSIndex] = n
	}
	return dups
}
