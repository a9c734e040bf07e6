// Package signer loads private keys for OpenSSL signed archives and writes
// the public key file that accompanies them.
package signer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/conneroisu/crate/internal/errors"
)

// ParsePrivateKey decodes a PEM encoded RSA or ECDSA private key. PKCS#1,
// PKCS#8, SEC 1 and OpenSSH encodings are accepted, as are keys encrypted
// with the legacy PEM scheme or an OpenSSH passphrase.
func ParsePrivateKey(data []byte, passphrase string) (crypto.Signer, error) {
	key, err := ssh.ParseRawPrivateKey(data)

	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if passphrase == "" {
			return nil, errors.NewSignatureError(errors.CodeInvalidKey,
				"The private key is encrypted and no passphrase was given.", err)
		}
		key, err = ssh.ParseRawPrivateKeyWithPassphrase(data, []byte(passphrase))
	}
	if err != nil {
		return nil, errors.NewSignatureError(errors.CodeInvalidKey, "Could not parse the private key", err)
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, errors.NewSignatureError(errors.CodeUnsupported,
			fmt.Sprintf("The private key type %T is not supported.", key), nil)
	}
}

// PublicKeyPEM returns the PKIX "PUBLIC KEY" block for the signer.
func PublicKeyPEM(s crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(s.Public())
	if err != nil {
		return nil, errors.NewSignatureError(errors.CodeInvalidKey, "Could not export the public key", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ReadKeyFile reads a private key from disk.
func ReadKeyFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, errors.NewFileError(errors.CodeNotFound,
			fmt.Sprintf("The file \"%s\" does not exist or is not a file.", path), nil).WithPath(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError(errors.CodeOpenFailed,
			path+": failed to open stream", err).WithPath(path)
	}

	return data, nil
}

// WritePublicKey stores the public half of s next to the archive.
func WritePublicKey(path string, s crypto.Signer) error {
	data, err := PublicKeyPEM(s)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewFileError(errors.CodeWriteFailed,
			path+": failed to open stream", err).WithPath(path)
	}

	return nil
}
