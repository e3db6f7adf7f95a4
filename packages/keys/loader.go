// Package keys loads the signing credentials and destination addresses of a
// batch from line-oriented text files.
package keys

import (
	"bufio"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrNotFound       = errors.New("file not found")
	ErrNoValidEntries = errors.New("no valid entries")
	ErrInvalidKey     = errors.New("invalid private key")
	ErrInvalidAddress = errors.New("invalid address")
)

// Credential is a parsed signing key together with its account address.
type Credential struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// ParseCredential accepts a 32-byte hex key with or without the 0x prefix.
func ParseCredential(s string) (Credential, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 64 {
		return Credential{}, fmt.Errorf("%w: expected 64 hex characters, got %d", ErrInvalidKey, len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return Credential{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (c Credential) PrivateKey() *ecdsa.PrivateKey { return c.key }
func (c Credential) Address() common.Address       { return c.address }

// ParseAddress validates a hex address and returns it in checksummed form.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

// Invalid describes a rejected input line.
type Invalid struct {
	Line  int
	Value string
}

func (i Invalid) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Value)
}

// ReadCredentials parses one key per line. Blank lines are ignored and
// malformed lines are reported with their value masked.
func ReadCredentials(r io.Reader) ([]Credential, []Invalid, error) {
	var (
		creds   []Credential
		invalid []Invalid
	)
	err := scanLines(r, func(n int, line string) {
		c, err := ParseCredential(line)
		if err != nil {
			invalid = append(invalid, Invalid{Line: n, Value: mask(line)})
			return
		}
		creds = append(creds, c)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(creds) == 0 {
		return nil, invalid, fmt.Errorf("%w: no valid private key found", ErrNoValidEntries)
	}
	return creds, invalid, nil
}

// ReadDestinations parses one address per line.
func ReadDestinations(r io.Reader) ([]common.Address, []Invalid, error) {
	var (
		addrs   []common.Address
		invalid []Invalid
	)
	err := scanLines(r, func(n int, line string) {
		a, err := ParseAddress(line)
		if err != nil {
			invalid = append(invalid, Invalid{Line: n, Value: line})
			return
		}
		addrs = append(addrs, a)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) == 0 {
		return nil, invalid, fmt.Errorf("%w: no valid address found", ErrNoValidEntries)
	}
	return addrs, invalid, nil
}

func LoadCredentials(path string) ([]Credential, []Invalid, error) {
	f, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadCredentials(f)
}

func LoadDestinations(path string) ([]common.Address, []Invalid, error) {
	f, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadDestinations(f)
}

func open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return f, nil
}

func scanLines(r io.Reader, fn func(n int, line string)) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(n, line)
	}
	return sc.Err()
}

func mask(s string) string {
	if len(s) <= 10 {
		return s + "..."
	}
	return s[:10] + "..."
}
