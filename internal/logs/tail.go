package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

const maxLineBytes = 1024 * 1024

// Options select which lines are returned.
type Options struct {
	// Lines caps Last to the final N matching lines. Zero or less returns all.
	Lines int
	// Session keeps only lines that mention this session id.
	Session string
}

func (o Options) match(line string) bool {
	return o.Session == "" || strings.Contains(line, o.Session)
}

// Last returns the final matching lines of path and the offset just past
// the end of the file. A missing file yields no lines and offset zero.
func Last(path string, opts Options) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}

	var ring []string
	if opts.Lines > 0 {
		ring = make([]string, 0, opts.Lines)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var offset int64
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(scanner.Bytes())) + 1
		if !opts.match(line) {
			continue
		}
		if opts.Lines > 0 && len(ring) == opts.Lines {
			ring = append(ring[1:], line)
			continue
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	// A final line without a newline is not counted twice.
	if offset > info.Size() {
		offset = info.Size()
	}
	return ring, offset, nil
}

// Follow calls fn for every matching line appended to path after offset
// until ctx ends or fn returns an error. A truncated file is reread from
// the start.
func Follow(ctx context.Context, path string, offset int64, opts Options, fn func(string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so a log created or rotated later is still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch log directory: %w", err)
	}

	var partial string
	drain := func() error {
		next, rest, err := readFrom(path, offset, partial, opts, fn)
		if err != nil {
			return err
		}
		offset, partial = next, rest
		return nil
	}
	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != filepath.Clean(path) {
				continue
			}
			if evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename) {
				offset, partial = 0, ""
				continue
			}
			if err := drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch log file: %w", err)
		}
	}
}

// readFrom emits complete lines after offset and returns the new offset
// plus any trailing text not yet terminated by a newline.
func readFrom(path string, offset int64, partial string, opts Options, fn func(string) error) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, "", nil
		}
		return offset, partial, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset, partial, fmt.Errorf("stat log file: %w", err)
	}
	if info.Size() < offset {
		offset, partial = 0, ""
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, partial, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReader(file)
	for {
		chunk, err := reader.ReadString('\n')
		offset += int64(len(chunk))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, partial + chunk, nil
			}
			return offset, partial, fmt.Errorf("read log file: %w", err)
		}
		line := strings.TrimRight(partial+chunk, "\r\n")
		partial = ""
		if !opts.match(line) {
			continue
		}
		if err := fn(line); err != nil {
			return offset, "", err
		}
	}
}
