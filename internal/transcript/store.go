package transcript

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

type Role string

const (
	RoleUser      Role = "User"
	RoleAssistant Role = "Assistant"
)

// TimestampLayout is the timestamp format written in front of every line.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	filePrefix = "chat_"
	fileSuffix = ".txt"
)

var ErrInvalidIdentity = errors.New("transcript: invalid identity")

type Entry struct {
	Timestamp time.Time
	Identity  string
	Role      Role
	Text      string
}

// Appender is anything an entry can be written to.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// Normalize strips all whitespace and leading '+' signs from a sender identity.
func Normalize(identity string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, identity)
	return strings.TrimLeft(stripped, "+")
}

// FileStore keeps one append-only text file per identity.
type FileStore struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("transcript: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create directory: %w", err)
	}
	return &FileStore{
		dir:   dir,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) pathFor(identity string) (string, string, error) {
	id := Normalize(identity)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidIdentity, identity)
	}
	return id, filepath.Join(s.dir, filePrefix+id+fileSuffix), nil
}

func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Append writes one entry as a single write. Appends for the same identity
// are serialized; different identities proceed in parallel.
func (s *FileStore) Append(_ context.Context, e Entry) error {
	id, path, err := s.pathFor(e.Identity)
	if err != nil {
		return err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	// continuation lines are indented so text can never start a new entry
	text := strings.ReplaceAll(e.Text, "\n", "\n"+continuationPrefix)
	line := fmt.Sprintf("[%s] %s: %s\n", ts.Format(TimestampLayout), e.Role, text)

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("transcript: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("transcript: close %s: %w", path, err)
	}
	return nil
}

// Read returns the raw transcript. ok is false when nothing was written yet.
func (s *FileStore) Read(identity string) (content string, ok bool, err error) {
	_, path, err := s.pathFor(identity)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("transcript: read %s: %w", path, err)
	}
	return string(data), true, nil
}

const continuationPrefix = "\t"

var linePattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (User|Assistant): (.*)$`)

// Entries parses the transcript back into entries. Lines that do not start
// with a timestamp continue the text of the previous entry; one leading tab
// is stripped from each.
func (s *FileStore) Entries(identity string) ([]Entry, error) {
	id, path, err := s.pathFor(identity)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", path, err)
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			if len(out) > 0 {
				out[len(out)-1].Text += "\n" + strings.TrimPrefix(line, continuationPrefix)
			}
			continue
		}
		ts, err := time.ParseInLocation(TimestampLayout, m[1], time.Local)
		if err != nil {
			return nil, fmt.Errorf("transcript: parse timestamp %q: %w", m[1], err)
		}
		out = append(out, Entry{Timestamp: ts, Identity: id, Role: Role(m[2]), Text: m[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transcript: scan %s: %w", path, err)
	}
	return out, nil
}

// Identities lists every identity that has a transcript file, sorted.
func (s *FileStore) Identities() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("transcript: list %s: %w", s.dir, err)
	}

	ids := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}
