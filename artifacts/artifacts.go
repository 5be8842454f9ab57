// Package artifacts reads compiled contract artifacts as produced by a
// Hardhat build: one JSON file per contract under
// artifacts/<source path>/<Name>.sol/<Name>.json.
package artifacts

import (
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"
)

// Errors returned by the store.
var (
	ErrNotFound  = errors.New("artifacts: contract not found")
	ErrAmbiguous = errors.New("artifacts: contract name is ambiguous")
	ErrUnlinked  = errors.New("artifacts: bytecode has unlinked libraries")
)

// Artifact is one compiled contract.
type Artifact struct {
	ContractName string
	SourceName   string
	ABI          abi.ABI
	Bytecode     []byte
}

// QualifiedName returns "<sourceName>:<contractName>".
func (a *Artifact) QualifiedName() string {
	return a.SourceName + ":" + a.ContractName
}

// CodeHash is the keccak256 of the init code.
func (a *Artifact) CodeHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(a.Bytecode)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

type artifactJSON struct {
	ContractName   string          `json:"contractName"`
	SourceName     string          `json:"sourceName"`
	ABI            json.RawMessage `json:"abi"`
	Bytecode       string          `json:"bytecode"`
	LinkReferences json.RawMessage `json:"linkReferences"`
}

// Load parses one artifact file.
func Load(file string) (*Artifact, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "artifacts")
	}
	a, err := Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "artifacts: %s", file)
	}
	return a, nil
}

// Decode parses artifact JSON.
func Decode(raw []byte) (*Artifact, error) {
	var aj artifactJSON
	if err := json.Unmarshal(raw, &aj); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if aj.ContractName == "" {
		return nil, errors.New("missing contractName")
	}
	parsed, err := abi.JSON(bytes.NewReader(aj.ABI))
	if err != nil {
		return nil, errors.Wrapf(err, "abi of %s", aj.ContractName)
	}
	if hasLinks(aj.LinkReferences) || strings.Contains(aj.Bytecode, "__$") {
		return nil, errors.Wrapf(ErrUnlinked, "%s", aj.ContractName)
	}
	var code []byte
	if aj.Bytecode != "" && aj.Bytecode != "0x" {
		code, err = hexutil.Decode(aj.Bytecode)
		if err != nil {
			return nil, errors.Wrapf(err, "bytecode of %s", aj.ContractName)
		}
	}
	return &Artifact{
		ContractName: aj.ContractName,
		SourceName:   aj.SourceName,
		ABI:          parsed,
		Bytecode:     code,
	}, nil
}

func hasLinks(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var refs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &refs); err != nil {
		return false
	}
	return len(refs) > 0
}

// Store indexes the artifacts of a build directory. Files are parsed on
// first use.
type Store struct {
	root   string
	byName map[string][]string // contract name -> files
	byFQN  map[string]string   // "<source>:<name>" -> file
}

// Open walks dir and indexes every artifact file in it. Debug companions
// (*.dbg.json) and build-info are ignored.
func Open(dir string) (*Store, error) {
	s := &Store{
		root:   dir,
		byName: make(map[string][]string),
		byFQN:  make(map[string]string),
	}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".dbg.json") {
			return nil
		}
		// Only <Name>.sol/<Name>.json files are artifacts.
		parent := filepath.Base(filepath.Dir(p))
		if !strings.HasSuffix(parent, ".sol") {
			return nil
		}
		contractName := strings.TrimSuffix(name, ".json")
		rel, err := filepath.Rel(dir, filepath.Dir(p))
		if err != nil {
			return err
		}
		source := filepath.ToSlash(rel)
		s.byName[contractName] = append(s.byName[contractName], p)
		s.byFQN[source+":"+contractName] = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "artifacts: open %s", dir)
	}
	return s, nil
}

// Artifact loads a contract by name, or by "<source>:<name>" when the plain
// name is shared by several sources.
func (s *Store) Artifact(name string) (*Artifact, error) {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		file, ok := s.byFQN[path.Clean(name[:i])+":"+name[i+1:]]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "%s", name)
		}
		return Load(file)
	}
	files := s.byName[name]
	switch len(files) {
	case 0:
		return nil, errors.Wrapf(ErrNotFound, "%s in %s", name, s.root)
	case 1:
		return Load(files[0])
	}
	return nil, errors.Wrapf(ErrAmbiguous, "%s has %d candidates", name, len(files))
}

// Names returns the indexed contract names, sorted.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
