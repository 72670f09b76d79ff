package domain

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ClassList is the ordered set of labels. Index i is output neuron i of the
// classifier head, so the order must never change between training and
// inference.
type ClassList []string

func (c ClassList) Len() int { return len(c) }

// Label returns the label at index i, or "" when out of range.
func (c ClassList) Label(i int) string {
	if i < 0 || i >= len(c) {
		return ""
	}
	return c[i]
}

func (c ClassList) Validate() error {
	if len(c) == 0 {
		return WrapError(ErrConfiguration, "validate class list", fmt.Errorf("no classes"))
	}
	seen := make(map[string]int, len(c))
	for i, label := range c {
		if strings.TrimSpace(label) == "" {
			return WrapError(ErrConfiguration, "validate class list", fmt.Errorf("blank label at line %d", i+1))
		}
		if strings.ContainsAny(label, "\r\n") {
			return WrapError(ErrConfiguration, "validate class list", fmt.Errorf("label %q contains a line break", label))
		}
		if prev, ok := seen[label]; ok {
			return WrapError(ErrConfiguration, "validate class list", fmt.Errorf("duplicate label %q at lines %d and %d", label, prev+1, i+1))
		}
		seen[label] = i
	}
	return nil
}

func (c ClassList) Equal(other ClassList) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Encode returns the on-disk form: one label per line, each terminated by \n.
func (c ClassList) Encode() []byte {
	var buf bytes.Buffer
	for _, label := range c {
		buf.WriteString(label)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseClassList reads one label per line, verbatim apart from a CR before
// the newline. Blank lines are rejected.
func ParseClassList(data []byte) (ClassList, error) {
	var classes ClassList
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		classes = append(classes, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, WrapError(ErrConfiguration, "parse class list", err)
	}
	if err := classes.Validate(); err != nil {
		return nil, err
	}
	return classes, nil
}

func ReadClassList(path string) (ClassList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, WrapError(ErrConfiguration, "read class list", err)
		}
		return nil, fmt.Errorf("read class list: %w", err)
	}
	return ParseClassList(data)
}

func WriteClassList(path string, classes ClassList) error {
	if err := classes.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create class list dir: %w", err)
		}
	}
	if err := os.WriteFile(path, classes.Encode(), 0o644); err != nil {
		return fmt.Errorf("write class list: %w", err)
	}
	return nil
}
