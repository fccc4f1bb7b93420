package mpc80

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadLines reads newline separated records, stripping line terminators.
// Lines are returned as found; length checks are left to the decoder.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	return lines, nil
}

// ReadFile decodes the observations in path.
func ReadFile(path string, d Decoder) (ObservationSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := ReadLines(f)
	if err != nil {
		return nil, err
	}
	return d.Decode(lines)
}

// Write encodes set to w, one record per line.
func Write(w io.Writer, set ObservationSet) error {
	bw := bufio.NewWriter(w)
	for _, line := range Encode(set) {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile encodes set to path, replacing any existing file.
func WriteFile(path string, set ObservationSet) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, set); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
