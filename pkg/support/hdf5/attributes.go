// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

package hdf5

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Attribute holds the value of an HDF5 attribute attached to a group or dataset.
//
// Only string and numeric attributes are supported: string values are stored in Strings and numeric
// values in Numbers. Scalar attributes have exactly one value.
type Attribute struct {
	Name     string
	DataType string
	Scalar   bool
	Strings  []string
	Numbers  []float64
}

// IsString returns whether the attribute holds strings.
func (attr *Attribute) IsString() bool {
	return strings.HasPrefix(attr.DataType, "H5T_STRING")
}

// String returns the attribute value if it is a single string.
func (attr *Attribute) String() (string, bool) {
	if !attr.IsString() || len(attr.Strings) != 1 {
		return "", false
	}
	return attr.Strings[0], true
}

// Ints returns the numeric values of the attribute as ints. It returns false if the attribute is not numeric
// or any of the values is not integral.
func (attr *Attribute) Ints() ([]int, bool) {
	if attr.IsString() {
		return nil, false
	}
	values := make([]int, len(attr.Numbers))
	for ii, v := range attr.Numbers {
		if v != float64(int(v)) {
			return nil, false
		}
		values[ii] = int(v)
	}
	return values, true
}

// Attributes of an HDF5 object (group or dataset), indexed by name.
type Attributes map[string]*Attribute

// ReadAttributes of the object (group or dataset) at objectPath ("/" for the root group) of the HDF5 file.
func ReadAttributes(filePath, objectPath string) (Attributes, error) {
	output, err := execH5Dump("--onlyattr", "--width=0", filePath)
	if err != nil {
		return nil, err
	}
	attrs, err := parseAttributes(string(output), objectPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading attributes of %q in %q", objectPath, filePath)
	}
	return attrs, nil
}

type dumpFrame struct {
	kind, name, path string
}

var regexpH5Block = regexp.MustCompile(`^(HDF5|GROUP|DATASET|ATTRIBUTE)\s+"(.*)"\s*\{$`)

// parseAttributes parses the output of `h5dump --onlyattr` and returns the attributes attached
// directly to the object at objectPath.
func parseAttributes(output, objectPath string) (Attributes, error) {
	attrs := make(Attributes)
	var (
		stack     []dumpFrame
		current   *Attribute
		dataLines []string
		inData    bool
	)
	parentPath := func() string {
		for ii := len(stack) - 1; ii >= 0; ii-- {
			if stack[ii].kind == "GROUP" || stack[ii].kind == "DATASET" {
				return stack[ii].path
			}
		}
		return ""
	}
	for lineNum, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if inData {
			if trimmed == "}" {
				inData = false
				values, err := parseDataValues(strings.Join(dataLines, "\n"))
				if err != nil {
					return nil, errors.WithMessagef(err, "attribute %q", current.Name)
				}
				for _, v := range values {
					if v.quoted {
						current.Strings = append(current.Strings, v.text)
						continue
					}
					number, err := strconv.ParseFloat(v.text, 64)
					if err != nil {
						return nil, errors.Wrapf(err, "attribute %q: invalid number %q", current.Name, v.text)
					}
					current.Numbers = append(current.Numbers, number)
				}
				dataLines = dataLines[:0]
				stack = stack[:len(stack)-1]
				continue
			}
			dataLines = append(dataLines, trimmed)
			continue
		}

		if matches := regexpH5Block.FindStringSubmatch(trimmed); matches != nil {
			frame := dumpFrame{kind: matches[1], name: matches[2]}
			switch frame.kind {
			case "GROUP":
				frame.path = joinObjectPath(parentPath(), frame.name)
			case "DATASET":
				frame.path = joinObjectPath(parentPath(), frame.name)
			case "ATTRIBUTE":
				if parentPath() == objectPath {
					current = &Attribute{Name: frame.name}
					attrs[frame.name] = current
				} else {
					current = nil
				}
			}
			stack = append(stack, frame)
			continue
		}

		if trimmed == "DATA {" {
			stack = append(stack, dumpFrame{kind: "DATA"})
			if current != nil && len(stack) >= 2 && stack[len(stack)-2].kind == "ATTRIBUTE" {
				inData = true
			}
			continue
		}

		if current != nil && len(stack) > 0 && stack[len(stack)-1].kind == "ATTRIBUTE" {
			if rest, found := strings.CutPrefix(trimmed, "DATATYPE"); found {
				current.DataType = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "{"))
			} else if rest, found := strings.CutPrefix(trimmed, "DATASPACE"); found {
				current.Scalar = strings.TrimSpace(rest) == "SCALAR"
			}
		}

		balance := braceBalance(trimmed)
		for ; balance > 0; balance-- {
			stack = append(stack, dumpFrame{kind: "OTHER"})
		}
		for ; balance < 0; balance++ {
			if len(stack) == 0 {
				return nil, errors.Errorf("unbalanced braces in h5dump output at line %d", lineNum+1)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if inData {
		return nil, errors.New("unterminated DATA block in h5dump output")
	}
	return attrs, nil
}

func joinObjectPath(parent, name string) string {
	if name == "/" {
		return "/"
	}
	if parent == "/" || parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}

// braceBalance returns the number of "{" minus the number of "}" in line, ignoring quoted strings.
func braceBalance(line string) int {
	var (
		balance        int
		quoted, escape bool
	)
	for _, r := range line {
		if quoted {
			switch {
			case escape:
				escape = false
			case r == '\\':
				escape = true
			case r == '"':
				quoted = false
			}
			continue
		}
		switch r {
		case '"':
			quoted = true
		case '{':
			balance++
		case '}':
			balance--
		}
	}
	return balance
}

var regexpIndexPrefix = regexp.MustCompile(`(?m)^\s*\(\d+(,\s*\d+)*\):\s*`)

// stripIndexPrefixes removes the "(i,j):" indices h5dump prepends to lines of data.
func stripIndexPrefixes(block string) string {
	return regexpIndexPrefix.ReplaceAllString(block, "")
}

type dataValue struct {
	text   string
	quoted bool
}

// parseDataValues splits the contents of an h5dump DATA block into values: quoted strings or bare
// (numeric) tokens, separated by commas.
func parseDataValues(block string) ([]dataValue, error) {
	block = stripIndexPrefixes(block)
	var (
		values []dataValue
		token  strings.Builder
		runes  = []rune(block)
	)
	flushBare := func() {
		text := strings.TrimSpace(token.String())
		token.Reset()
		if text != "" {
			values = append(values, dataValue{text: text})
		}
	}
	for ii := 0; ii < len(runes); ii++ {
		r := runes[ii]
		switch {
		case r == '"':
			flushBare()
			var str strings.Builder
			closed := false
			for ii++; ii < len(runes); ii++ {
				if runes[ii] == '\\' && ii+1 < len(runes) {
					ii++
					str.WriteRune(runes[ii])
					continue
				}
				if runes[ii] == '"' {
					closed = true
					break
				}
				str.WriteRune(runes[ii])
			}
			if !closed {
				return nil, errors.Errorf("unterminated string in h5dump data %q", block)
			}
			values = append(values, dataValue{text: str.String(), quoted: true})
		case r == ',' || r == '\n':
			flushBare()
		default:
			token.WriteRune(r)
		}
	}
	flushBare()
	return values, nil
}
