package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poolArtifact = `{
  "_format": "hh-sol-artifact-1",
  "contractName": "Pool",
  "sourceName": "contracts/modules/capital/Pool.sol",
  "abi": [{"type":"function","name":"changeDependentContractAddress","inputs":[],"outputs":[],"stateMutability":"nonpayable"}],
  "bytecode": "0x6080604052",
  "deployedBytecode": "0x6080",
  "linkReferences": {},
  "deployedLinkReferences": {}
}`

func writeFile(t *testing.T, file, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, []byte(body), 0o644))
}

func testStore(t *testing.T) string {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "contracts/modules/capital/Pool.sol/Pool.json"), poolArtifact)
	writeFile(t, filepath.Join(dir, "contracts/modules/capital/Pool.sol/Pool.dbg.json"), `{"buildInfo":"x"}`)
	writeFile(t, filepath.Join(dir, "build-info/abc.json"), `{}`)
	writeFile(t, filepath.Join(dir, "contracts/mocks/A.sol/Token.json"),
		`{"contractName":"Token","sourceName":"contracts/mocks/A.sol","abi":[],"bytecode":"0x01","linkReferences":{}}`)
	writeFile(t, filepath.Join(dir, "contracts/mocks/B.sol/Token.json"),
		`{"contractName":"Token","sourceName":"contracts/mocks/B.sol","abi":[],"bytecode":"0x02","linkReferences":{}}`)
	return dir
}

func TestStore_Artifact(t *testing.T) {
	s, err := Open(testStore(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Pool", "Token"}, s.Names())

	a, err := s.Artifact("Pool")
	require.NoError(t, err)
	assert.Equal(t, "Pool", a.ContractName)
	assert.Equal(t, "contracts/modules/capital/Pool.sol:Pool", a.QualifiedName())
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, a.Bytecode)
	assert.Contains(t, a.ABI.Methods, "changeDependentContractAddress")
	assert.Equal(t, crypto.Keccak256Hash(a.Bytecode), a.CodeHash())
}

func TestStore_AmbiguousAndQualified(t *testing.T) {
	s, err := Open(testStore(t))
	require.NoError(t, err)

	_, err = s.Artifact("Token")
	assert.ErrorIs(t, err, ErrAmbiguous)

	a, err := s.Artifact("contracts/mocks/B.sol:Token")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, a.Bytecode)

	_, err = s.Artifact("contracts/mocks/C.sol:Token")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Artifact("Cover")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecode_Unlinked(t *testing.T) {
	_, err := Decode([]byte(`{
	  "contractName":"Lib",
	  "abi":[],
	  "bytecode":"0x73__$abcdef$__6080",
	  "linkReferences":{"contracts/L.sol":{"L":[{"length":20,"start":1}]}}
	}`))
	assert.ErrorIs(t, err, ErrUnlinked)
}

func TestDecode_Errors(t *testing.T) {
	tests := map[string]string{
		"not json":     `{`,
		"no name":      `{"abi":[],"bytecode":"0x"}`,
		"bad abi":      `{"contractName":"X","abi":{},"bytecode":"0x"}`,
		"bad bytecode": `{"contractName":"X","abi":[],"bytecode":"0xzz"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecode_InterfaceHasNoBytecode(t *testing.T) {
	a, err := Decode([]byte(`{"contractName":"IPool","abi":[],"bytecode":"0x","linkReferences":{}}`))
	require.NoError(t, err)
	assert.Empty(t, a.Bytecode)
}
