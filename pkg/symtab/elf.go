package symtab

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/ulikunitz/xz"

	"github.com/grafana/symbridge/pkg/symbol"
)

var (
	ErrNoSymbols        = errors.New("no symbols found")
	ErrNoBuildIDSection = errors.New("build ID section not found")
)

type ElfOptions struct {
	Demangle        bool
	DemangleOptions []demangle.Option
	// MiniDebugInfo enables reading the xz compressed .gnu_debugdata section
	// when the file carries no symbols of its own.
	MiniDebugInfo bool
}

// ElfFile is an opened ELF object.
type ElfFile struct {
	*elf.File
	fpath   string
	fd      *os.File
	options ElfOptions

	closeOnce sync.Once
	closeErr  error
}

func OpenELF(fpath string, options ElfOptions) (*ElfFile, error) {
	fd, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	f, err := elf.NewFile(fd)
	if err != nil {
		_ = fd.Close()
		return nil, errors.Wrapf(err, "parse elf %s", fpath)
	}
	return &ElfFile{
		File:    f,
		fpath:   fpath,
		fd:      fd,
		options: options,
	}, nil
}

func (f *ElfFile) FilePath() string {
	return f.fpath
}

func (f *ElfFile) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.fd.Close()
	})
	return f.closeErr
}

// Records reads .symtab and .dynsym.
func (f *ElfFile) Records() ([]symbol.Record, error) {
	res, err := records(f.File, f.options)
	if err == nil || !errors.Is(err, ErrNoSymbols) || !f.options.MiniDebugInfo {
		return res, err
	}
	return f.miniDebugInfoRecords()
}

// NewTable reads the symbols and returns a table owning the file.
func (f *ElfFile) NewTable() (*Table, error) {
	recs, err := f.Records()
	if err != nil {
		return nil, err
	}
	t := NewTable(recs, f)
	t.origin = f.fpath
	return t, nil
}

func (f *ElfFile) miniDebugInfoRecords() ([]symbol.Record, error) {
	miniDebugSection := f.Section(".gnu_debugdata")
	if miniDebugSection == nil {
		return nil, ErrNoSymbols
	}
	data, err := miniDebugSection.Data()
	if err != nil {
		return nil, errors.Wrap(err, "read .gnu_debugdata")
	}
	reader, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "open .gnu_debugdata")
	}
	var uncompressed bytes.Buffer
	if _, err = io.Copy(&uncompressed, reader); err != nil {
		return nil, errors.Wrap(err, "decompress .gnu_debugdata")
	}
	miniDebugElf, err := elf.NewFile(bytes.NewReader(uncompressed.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "parse .gnu_debugdata")
	}
	return records(miniDebugElf, f.options)
}

func records(f *elf.File, options ElfOptions) ([]symbol.Record, error) {
	sym, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "read .symtab")
	}
	dynsym, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, errors.Wrap(err, "read .dynsym")
	}
	all := make([]symbol.Record, 0, len(sym)+len(dynsym))
	for _, s := range append(sym, dynsym...) {
		if s.Section == elf.SHN_UNDEF || s.Name == "" {
			continue
		}
		name := s.Name
		if options.Demangle {
			name = demangle.Filter(name, options.DemangleOptions...)
		}
		all = append(all, symbol.FromELF(s, name))
	}
	if len(all) == 0 {
		return nil, ErrNoSymbols
	}
	// .dynsym mostly repeats .symtab
	return lo.Uniq(all), nil
}

type BuildIDKind string

const (
	BuildIDGNU BuildIDKind = "gnu"
	BuildIDGo  BuildIDKind = "go"
)

// BuildID identifies the contents of an ELF file. Files with the same build
// ID have the same symbols.
type BuildID struct {
	Kind BuildIDKind
	ID   string
}

func (b BuildID) Empty() bool {
	return b.Kind == "" || b.ID == ""
}

func (b BuildID) GNU() bool {
	return b.Kind == BuildIDGNU
}

// String returns the cache key form, e.g. gnu:0123abcd.
func (b BuildID) String() string {
	if b.Empty() {
		return ""
	}
	return string(b.Kind) + ":" + b.ID
}

type buildIDNote struct {
	section string
	owner   string
	kind    BuildIDKind
	decode  func(desc []byte) (string, error)
}

// buildIDNotes are tried in order.
var buildIDNotes = []buildIDNote{
	{section: ".note.gnu.build-id", owner: "GNU", kind: BuildIDGNU, decode: decodeGNUBuildID},
	{section: ".note.go.buildid", owner: "Go", kind: BuildIDGo, decode: decodeGoBuildID},
}

// BuildID returns the GNU build ID, or the Go one when the file has no GNU
// build ID note. A malformed note is an error.
func (f *ElfFile) BuildID() (BuildID, error) {
	for _, n := range buildIDNotes {
		sec := f.Section(n.section)
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return BuildID{}, errors.Wrapf(err, "read %s", n.section)
		}
		desc, err := noteDesc(data, f.ByteOrder, n.owner)
		if err != nil {
			return BuildID{}, errors.Wrapf(err, "%s in %s", n.section, f.fpath)
		}
		id, err := n.decode(desc)
		if err != nil {
			return BuildID{}, errors.Wrapf(err, "%s in %s", n.section, f.fpath)
		}
		return BuildID{Kind: n.kind, ID: id}, nil
	}
	return BuildID{}, ErrNoBuildIDSection
}

// noteDesc returns the descriptor of the first note in data, which must be
// owned by owner.
func noteDesc(data []byte, order binary.ByteOrder, owner string) ([]byte, error) {
	const headerSize = 12
	if len(data) < headerSize {
		return nil, errors.New("note is too small")
	}
	nameSize := uint64(order.Uint32(data[0:4]))
	descSize := uint64(order.Uint32(data[4:8]))
	descStart := headerSize + (nameSize+3)&^3
	if descStart+descSize > uint64(len(data)) {
		return nil, errors.New("note is truncated")
	}
	if name := strings.TrimRight(string(data[headerSize:headerSize+nameSize]), "\x00"); name != owner {
		return nil, errors.Errorf("note owner is %q, not %q", name, owner)
	}
	return data[descStart : descStart+descSize], nil
}

func decodeGNUBuildID(desc []byte) (string, error) {
	switch len(desc) {
	case 8, 16, 20: // xxhash, md5 or uuid, sha1
		return hex.EncodeToString(desc), nil
	default:
		return "", errors.Errorf("unexpected GNU build ID size %d", len(desc))
	}
}

func decodeGoBuildID(desc []byte) (string, error) {
	id := string(bytes.TrimRight(desc, "\x00"))
	if id == "" || id == "redacted" || !strings.Contains(id, "/") {
		return "", errors.Errorf("invalid Go build ID %q", id)
	}
	return id, nil
}
