package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ConfigError reports a missing or unusable configuration value or payload
// source. It is fatal to the operation that needed it.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Artifact is a compiled contract as emitted by hardhat or foundry.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

type artifactJSON struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

// LoadArtifact reads a contract artifact. The bytecode may be a hex string
// (hardhat) or an object with an "object" field (foundry).
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to read artifact: %w", err)}
	}

	var raw artifactJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to parse artifact: %w", err)}
	}

	parsed := abi.ABI{}
	if len(raw.ABI) > 0 && string(raw.ABI) != "null" {
		parsed, err = abi.JSON(bytes.NewReader(raw.ABI))
		if err != nil {
			return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to parse abi: %w", err)}
		}
	}

	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	if len(code) == 0 {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("artifact has no bytecode")}
	}

	name := raw.ContractName
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("artifact has no bytecode")
	}

	var hexCode string
	if err := json.Unmarshal(raw, &hexCode); err != nil {
		var obj struct {
			Object string `json:"object"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("unsupported bytecode format: %w", err)
		}
		hexCode = obj.Object
	}

	return decodeHex(hexCode)
}

// ReadMeta reads a constructor meta document. When isHex is set the file
// holds hex text (0x prefix optional, surrounding whitespace ignored) and the
// decoded bytes are returned; otherwise the raw file contents are returned.
func ReadMeta(path string, isHex bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Err: fmt.Errorf("failed to read meta document: %w", err)}
	}
	if !isHex {
		return data, nil
	}

	decoded, err := decodeHex(string(data))
	if err != nil {
		return nil, &ConfigError{Source: path, Err: err}
	}
	return decoded, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	if s == "0x" {
		return []byte{}, nil
	}
	decoded, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return decoded, nil
}
