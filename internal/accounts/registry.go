// Package accounts loads signing accounts and the proxies they are routed through.
package accounts

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/R3E-Network/cycle_runner/internal/errors"
)

// Account is a signing identity. It is immutable after load.
type Account struct {
	Index   int
	Address common.Address
	Key     *ecdsa.PrivateKey
}

// Registry supplies accounts and proxy bindings to the supervisor.
type Registry interface {
	Accounts() []Account
	Proxies() []Binding
	// ProxyFor returns the binding for the account at index: proxies[index mod P].
	ProxyFor(index int) Binding
}

// Check rejects a registry with no accounts or no proxies.
func Check(r Registry) error {
	var missing []string
	if len(r.Accounts()) == 0 {
		missing = append(missing, "accounts")
	}
	if len(r.Proxies()) == 0 {
		missing = append(missing, "proxies")
	}
	if len(missing) > 0 {
		return errors.Configurationf("check registry", "no %s configured", strings.Join(missing, " or "))
	}
	return nil
}

// StaticRegistry is a Registry over fixed slices.
type StaticRegistry struct {
	accounts []Account
	proxies  []Binding
}

// NewStaticRegistry returns a registry over copies of the given slices.
func NewStaticRegistry(accounts []Account, proxies []Binding) *StaticRegistry {
	return &StaticRegistry{
		accounts: append([]Account(nil), accounts...),
		proxies:  append([]Binding(nil), proxies...),
	}
}

func (r *StaticRegistry) Accounts() []Account {
	return append([]Account(nil), r.accounts...)
}

func (r *StaticRegistry) Proxies() []Binding {
	return append([]Binding(nil), r.proxies...)
}

// ProxyFor panics when the registry has no proxies; call Check first.
func (r *StaticRegistry) ProxyFor(index int) Binding {
	n := len(r.proxies)
	return r.proxies[((index%n)+n)%n]
}

// LoadFiles reads a wallet file (one hex private key per line) and a proxy
// file (one proxy per line). Blank lines and lines starting with # are ignored.
// Either file may be empty; Check decides whether that is fatal.
func LoadFiles(walletPath, proxyPath string) (*StaticRegistry, error) {
	accounts, err := readAccounts(walletPath)
	if err != nil {
		return nil, err
	}
	proxies, err := readProxies(proxyPath)
	if err != nil {
		return nil, err
	}
	return NewStaticRegistry(accounts, proxies), nil
}

func readAccounts(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Configuration("open wallet file", err)
	}
	defer f.Close()

	accounts, err := ParseAccounts(f)
	if err != nil {
		return nil, errors.Configuration("load wallet file", fmt.Errorf("%s: %w", path, err))
	}
	return accounts, nil
}

func readProxies(path string) ([]Binding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Configuration("open proxy file", err)
	}
	defer f.Close()

	proxies, err := ParseProxies(f)
	if err != nil {
		return nil, errors.Configuration("load proxy file", fmt.Errorf("%s: %w", path, err))
	}
	return proxies, nil
}

// ParseAccounts decodes one private key per line. Errors name the line, never the key.
func ParseAccounts(r io.Reader) ([]Account, error) {
	var accounts []Account
	err := eachLine(r, func(lineNo int, line string) error {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X"))
		if err != nil {
			return fmt.Errorf("line %d: invalid private key", lineNo)
		}
		accounts = append(accounts, Account{
			Index:   len(accounts),
			Address: crypto.PubkeyToAddress(key.PublicKey),
			Key:     key,
		})
		return nil
	})
	return accounts, err
}

// ParseProxies decodes one proxy per line.
func ParseProxies(r io.Reader) ([]Binding, error) {
	var proxies []Binding
	err := eachLine(r, func(lineNo int, line string) error {
		b, err := ParseProxy(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		proxies = append(proxies, b)
		return nil
	})
	return proxies, err
}

func eachLine(r io.Reader, fn func(lineNo int, line string) error) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
